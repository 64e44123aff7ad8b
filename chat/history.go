// Package chat is the per-pair conversation store: every participant keeps
// their own copy of the messages exchanged with one peer.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/klipach/courier/contract"
	"github.com/klipach/courier/docstore"
	"github.com/klipach/courier/feed"
	"github.com/klipach/courier/log"
)

// ErrInvalidKey is returned for an empty owner or peer id.
var ErrInvalidKey = errors.New("invalid conversation key")

type Store struct {
	store docstore.Store
}

func New(store docstore.Store) *Store {
	return &Store{store: store}
}

// Append writes m under messages/{ownerID}/{peerID} with a fresh id. A zero
// m.Timestamp is assigned by the backend. No retry is attempted.
func (s *Store) Append(ctx context.Context, ownerID, peerID string, m contract.Message) (docstore.DocRef, error) {
	coll, err := conversation(ownerID, peerID)
	if err != nil {
		return docstore.DocRef{}, err
	}
	ref, err := s.store.Add(ctx, coll, m.Fields())
	if err != nil {
		return docstore.DocRef{}, fmt.Errorf("append to %s: %w", coll.Path(), err)
	}
	log.LoggerFromContext(ctx).Debug("message appended",
		slog.String(log.PathLogField, ref.Path()),
	)
	return ref, nil
}

// History reads the whole conversation once, oldest first.
func (s *Store) History(ctx context.Context, ownerID, peerID string) ([]contract.Message, error) {
	coll, err := conversation(ownerID, peerID)
	if err != nil {
		return nil, err
	}
	snaps, err := s.store.List(ctx, coll)
	if err != nil {
		return nil, err
	}
	messages := make([]contract.Message, 0, len(snaps))
	for _, snap := range snaps {
		m, err := contract.MessageFromSnapshot(snap)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", snap.Ref.Path(), err)
		}
		messages = append(messages, m)
	}
	sortByTimestamp(messages)
	return messages, nil
}

// Subscribe delivers the existing history once, oldest first, and then every
// message written to the conversation afterwards. The view only grows:
// messages are never re-delivered or removed. onChange runs on the
// subscription goroutine, one batch at a time.
func (s *Store) Subscribe(ctx context.Context, ownerID, peerID string, onChange func([]contract.Message)) (*feed.Subscription, error) {
	coll, err := conversation(ownerID, peerID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	w, err := s.store.Watch(ctx, docstore.Query{Collection: coll, OrderBy: contract.TimestampField})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch %s: %w", coll.Path(), err)
	}

	logger := log.LoggerFromContext(ctx)
	delivered := make(map[string]struct{})
	initial := true
	return feed.Start(ctx, cancel, w, func(batch *docstore.ChangeBatch) {
		messages := appended(batch, delivered, logger)
		if len(messages) == 0 && !initial {
			return
		}
		initial = false
		onChange(messages)
	}), nil
}

// appended extracts the messages of batch not delivered before.
func appended(batch *docstore.ChangeBatch, delivered map[string]struct{}, logger *slog.Logger) []contract.Message {
	messages := make([]contract.Message, 0, len(batch.Changes))
	for _, change := range batch.Changes {
		if change.Kind != docstore.Added {
			continue
		}
		m, err := contract.MessageFromSnapshot(change.Doc)
		if err != nil {
			logger.Warn("skipping malformed message",
				slog.String(log.PathLogField, change.Doc.Ref.Path()),
				log.Err(err),
			)
			continue
		}
		if _, ok := delivered[m.ID]; ok {
			continue
		}
		delivered[m.ID] = struct{}{}
		messages = append(messages, m)
	}
	sortByTimestamp(messages)
	return messages
}

func sortByTimestamp(messages []contract.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
}

func conversation(ownerID, peerID string) (docstore.CollectionRef, error) {
	if ownerID == "" || peerID == "" {
		return docstore.CollectionRef{}, fmt.Errorf("%w: owner %q peer %q", ErrInvalidKey, ownerID, peerID)
	}
	coll := contract.ConversationRef(ownerID, peerID)
	if err := coll.Validate(); err != nil {
		return docstore.CollectionRef{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return coll, nil
}
