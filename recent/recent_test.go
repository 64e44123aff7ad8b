package recent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/klipach/courier/contract"
	"github.com/klipach/courier/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type updates struct {
	mu   sync.Mutex
	list []Update
}

func (u *updates) record(update Update) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.list = append(u.list, update)
}

func (u *updates) last() (Update, int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.list) == 0 {
		return Update{}, 0
	}
	return u.list[len(u.list)-1], len(u.list)
}

func TestUpsertReplaces(t *testing.T) {
	ctx := context.Background()
	idx := New(docstore.NewMemory())

	require.NoError(t, idx.Upsert(ctx, "u1", "u2", contract.RecentMessage{Text: "first", FromID: "u1", ToID: "u2"}))
	require.NoError(t, idx.Upsert(ctx, "u1", "u3", contract.RecentMessage{Text: "other"}))
	require.NoError(t, idx.Upsert(ctx, "u1", "u2", contract.RecentMessage{Text: "second", FromID: "u2", ToID: "u1"}))

	entries, err := idx.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "u2", entries[0].PeerID)
	assert.Equal(t, "second", entries[0].Text)
	assert.Equal(t, "u3", entries[1].PeerID)
}

func TestSubscribeOrdersByRecency(t *testing.T) {
	ctx := context.Background()
	idx := New(docstore.NewMemory())
	require.NoError(t, idx.Upsert(ctx, "u1", "u2", contract.RecentMessage{Text: "a"}))
	require.NoError(t, idx.Upsert(ctx, "u1", "u3", contract.RecentMessage{Text: "b"}))

	rec := &updates{}
	sub, err := idx.Subscribe(ctx, "u1", rec.record)
	require.NoError(t, err)
	defer sub.Cancel()

	assert.Eventually(t, func() bool { _, n := rec.last(); return n == 2 }, time.Second, 5*time.Millisecond)
	update, _ := rec.last()
	assert.Equal(t, []string{"u3", "u2"}, peers(update.Entries))

	require.NoError(t, idx.Upsert(ctx, "u1", "u2", contract.RecentMessage{Text: "c"}))
	assert.Eventually(t, func() bool { _, n := rec.last(); return n == 3 }, time.Second, 5*time.Millisecond)
	update, _ = rec.last()
	assert.Equal(t, "u2", update.Entry.PeerID)
	assert.False(t, update.Removed)
	assert.Equal(t, []string{"u2", "u3"}, peers(update.Entries))
	assert.Equal(t, "c", update.Entries[0].Text)
}

func TestSubscribeCancelIsIdempotent(t *testing.T) {
	store := docstore.NewMemory()
	idx := New(store)
	sub, err := idx.Subscribe(context.Background(), "u1", func(Update) {})
	require.NoError(t, err)

	sub.Cancel()
	sub.Cancel()
	<-sub.Done()
	assert.Equal(t, 0, store.WatcherCount(contract.RecentRef("u1")))
}

func TestInvalidKey(t *testing.T) {
	ctx := context.Background()
	idx := New(docstore.NewMemory())
	assert.ErrorIs(t, idx.Upsert(ctx, "", "u2", contract.RecentMessage{}), ErrInvalidKey)
	assert.ErrorIs(t, idx.Upsert(ctx, "u1", "", contract.RecentMessage{}), ErrInvalidKey)
	_, err := idx.Subscribe(ctx, "", func(Update) {})
	assert.ErrorIs(t, err, ErrInvalidKey)
}
