// Package recent maintains the per-user "last message per peer" index shown
// as the contact list.
package recent

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
var ErrInvalidKey = errors.New("invalid recent entry key")

// Update is delivered for every change of the index. Entries is the whole
// view after the change was applied.
type Update struct {
	Entry   contract.RecentMessage
	Removed bool
	Entries []contract.RecentMessage
}

type Index struct {
	store docstore.Store
}

func New(store docstore.Store) *Index {
	return &Index{store: store}
}

// Upsert overwrites recent_messages/{ownerID}/messages/{peerID}.
func (i *Index) Upsert(ctx context.Context, ownerID, peerID string, entry contract.RecentMessage) error {
	coll, err := index(ownerID)
	if err != nil {
		return err
	}
	if peerID == "" {
		return fmt.Errorf("%w: empty peer", ErrInvalidKey)
	}
	ref := coll.Doc(peerID)
	if err := ref.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if err := i.store.Set(ctx, ref, entry.Fields()); err != nil {
		return fmt.Errorf("upsert %s: %w", ref.Path(), err)
	}
	return nil
}

// List reads the index once, most recent first.
func (i *Index) List(ctx context.Context, ownerID string) ([]contract.RecentMessage, error) {
	coll, err := index(ownerID)
	if err != nil {
		return nil, err
	}
	snaps, err := i.store.List(ctx, coll)
	if err != nil {
		return nil, err
	}
	entries := make([]contract.RecentMessage, 0, len(snaps))
	for _, snap := range snaps {
		entry, err := contract.RecentFromSnapshot(snap)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", snap.Ref.Path(), err)
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].Timestamp.After(entries[b].Timestamp)
	})
	return entries, nil
}

// Subscribe keeps a View of ownerID's index and calls onChange after every
// change applied to it.
func (i *Index) Subscribe(ctx context.Context, ownerID string, onChange func(Update)) (*feed.Subscription, error) {
	coll, err := index(ownerID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	w, err := i.store.Watch(ctx, docstore.Query{Collection: coll, OrderBy: contract.TimestampField})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch %s: %w", coll.Path(), err)
	}

	logger := log.LoggerFromContext(ctx)
	view := &View{}
	return feed.Start(ctx, cancel, w, func(batch *docstore.ChangeBatch) {
		for _, change := range batch.Changes {
			entry, err := contract.RecentFromSnapshot(change.Doc)
			if err != nil {
				logger.Warn("skipping malformed recent entry",
					slog.String(log.PathLogField, change.Doc.Ref.Path()),
					log.Err(err),
				)
				continue
			}
			view.Apply(change.Kind, entry)
			onChange(Update{
				Entry:   entry,
				Removed: change.Kind == docstore.Removed,
				Entries: view.Entries(),
			})
		}
	}), nil
}

func index(ownerID string) (docstore.CollectionRef, error) {
	if ownerID == "" {
		return docstore.CollectionRef{}, fmt.Errorf("%w: empty owner", ErrInvalidKey)
	}
	coll := contract.RecentRef(ownerID)
	if err := coll.Validate(); err != nil {
		return docstore.CollectionRef{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return coll, nil
}
