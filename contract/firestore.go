package contract

import (
	"time"

	"github.com/klipach/courier/docstore"
)

// collection and field names shared by every client of the database
const (
	UsersCollection             = "users"
	MessagesCollection          = "messages"
	RecentMessagesCollection    = "recent_messages"
	RecentMessagesSubcollection = "messages"

	UIDField             = "uid"
	EmailField           = "email"
	ProfileImageURLField = "profileImageUrl"
	FromIDField          = "fromId"
	ToIDField            = "toId"
	TextField            = "text"
	TimestampField       = "timestamp"
)

// User is a registered account's public profile, stored at users/{uid}.
type User struct {
	UID             string `firestore:"uid" json:"uid"`
	Email           string `firestore:"email" json:"email"`
	ProfileImageURL string `firestore:"profileImageUrl" json:"profileImageUrl"`
}

func (u User) Fields() docstore.Fields {
	return docstore.Fields{
		UIDField:             u.UID,
		EmailField:           u.Email,
		ProfileImageURLField: u.ProfileImageURL,
	}
}

// Message is one entry of a conversation, stored at messages/{owner}/{peer}/{id}.
// Both parties hold their own copy.
type Message struct {
	ID        string    `firestore:"-" json:"id"`
	FromID    string    `firestore:"fromId" json:"fromId"`
	ToID      string    `firestore:"toId" json:"toId"`
	Text      string    `firestore:"text" json:"text"`
	Timestamp time.Time `firestore:"timestamp" json:"timestamp"`
}

// Fields encodes the message; a zero Timestamp asks the backend to assign one.
func (m Message) Fields() docstore.Fields {
	var ts any = m.Timestamp
	if m.Timestamp.IsZero() {
		ts = docstore.ServerTimestamp
	}
	return docstore.Fields{
		FromIDField:    m.FromID,
		ToIDField:      m.ToID,
		TextField:      m.Text,
		TimestampField: ts,
	}
}

// RecentMessage is the last message with one peer as seen by the owner,
// stored at recent_messages/{owner}/messages/{peer}. Email and ProfileImageURL
// describe the peer.
type RecentMessage struct {
	PeerID          string    `firestore:"-" json:"peerId"`
	Text            string    `firestore:"text" json:"text"`
	Timestamp       time.Time `firestore:"timestamp" json:"timestamp"`
	ProfileImageURL string    `firestore:"profileImageUrl" json:"profileImageUrl"`
	Email           string    `firestore:"email" json:"email"`
	FromID          string    `firestore:"fromId" json:"fromId"`
	ToID            string    `firestore:"toId" json:"toId"`
}

func (r RecentMessage) Fields() docstore.Fields {
	var ts any = r.Timestamp
	if r.Timestamp.IsZero() {
		ts = docstore.ServerTimestamp
	}
	return docstore.Fields{
		TextField:            r.Text,
		TimestampField:       ts,
		ProfileImageURLField: r.ProfileImageURL,
		EmailField:           r.Email,
		FromIDField:          r.FromID,
		ToIDField:            r.ToID,
	}
}

func UserRef(uid string) docstore.DocRef {
	return docstore.Collection(UsersCollection).Doc(uid)
}

func ConversationRef(ownerID, peerID string) docstore.CollectionRef {
	return docstore.Collection(MessagesCollection, ownerID, peerID)
}

func RecentRef(ownerID string) docstore.CollectionRef {
	return docstore.Collection(RecentMessagesCollection, ownerID, RecentMessagesSubcollection)
}

// UserFromSnapshot decodes a user document. The uid falls back to the document id.
func UserFromSnapshot(snap *docstore.Snapshot) (User, error) {
	var u User
	if err := snap.DataTo(&u); err != nil {
		return User{}, err
	}
	if u.UID == "" {
		u.UID = snap.Ref.ID()
	}
	return u, nil
}

func MessageFromSnapshot(snap *docstore.Snapshot) (Message, error) {
	var m Message
	if err := snap.DataTo(&m); err != nil {
		return Message{}, err
	}
	m.ID = snap.Ref.ID()
	return m, nil
}

func RecentFromSnapshot(snap *docstore.Snapshot) (RecentMessage, error) {
	var r RecentMessage
	if err := snap.DataTo(&r); err != nil {
		return RecentMessage{}, err
	}
	r.PeerID = snap.Ref.ID()
	return r, nil
}
