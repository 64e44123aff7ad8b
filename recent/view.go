package recent

import (
	"github.com/klipach/courier/contract"
	"github.com/klipach/courier/docstore"
)

// View is one owner's recent conversations, most recent first, with at most
// one entry per peer.
type View struct {
	entries []contract.RecentMessage
}

// Apply folds one change into the view. An added or modified entry replaces
// any previous entry for the same peer and moves to the head; a removed one
// is dropped.
func (v *View) Apply(kind docstore.ChangeKind, entry contract.RecentMessage) {
	v.remove(entry.PeerID)
	if kind == docstore.Removed {
		return
	}
	v.entries = append(v.entries, contract.RecentMessage{})
	copy(v.entries[1:], v.entries)
	v.entries[0] = entry
}

// Entries returns a copy of the ordered view.
func (v *View) Entries() []contract.RecentMessage {
	out := make([]contract.RecentMessage, len(v.entries))
	copy(out, v.entries)
	return out
}

func (v *View) Len() int { return len(v.entries) }

func (v *View) remove(peerID string) {
	for i, e := range v.entries {
		if e.PeerID == peerID {
			v.entries = append(v.entries[:i], v.entries[i+1:]...)
			return
		}
	}
}
