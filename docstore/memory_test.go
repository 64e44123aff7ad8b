package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	ref := Collection("users").Doc("u1")

	_, err := m.Get(ctx, ref)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Set(ctx, ref, Fields{"email": "a@example.com"}))
	require.NoError(t, m.Set(ctx, ref, Fields{"email": "b@example.com"}))

	snap, err := m.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "u1", snap.Ref.ID())
	assert.Equal(t, "b@example.com", snap.Fields["email"])
}

func TestMemoryServerTimestampIsStrictlyIncreasing(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory(WithClock(fixedClock(now)))
	coll := Collection("messages", "u1", "u2")

	var prev time.Time
	for i := 0; i < 5; i++ {
		ref, err := m.Add(ctx, coll, Fields{"timestamp": ServerTimestamp})
		require.NoError(t, err)
		snap, err := m.Get(ctx, ref)
		require.NoError(t, err)
		ts := snap.Fields["timestamp"].(time.Time)
		assert.True(t, ts.After(prev), "timestamp %v not after %v", ts, prev)
		prev = ts
	}
}

func TestMemoryListEmptyCollection(t *testing.T) {
	snaps, err := NewMemory().List(context.Background(), Collection("users"))
	require.NoError(t, err)
	assert.NotNil(t, snaps)
	assert.Empty(t, snaps)
}

func TestMemoryWatch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	coll := Collection("recent_messages", "u1", "messages")
	require.NoError(t, m.Set(ctx, coll.Doc("b"), Fields{"timestamp": time.Unix(20, 0)}))
	require.NoError(t, m.Set(ctx, coll.Doc("a"), Fields{"timestamp": time.Unix(10, 0)}))
	require.NoError(t, m.Set(ctx, coll.Doc("untimed"), Fields{"text": "x"}))

	w, err := m.Watch(ctx, Query{Collection: coll, OrderBy: "timestamp"})
	require.NoError(t, err)
	defer w.Stop()

	initial, err := w.Next()
	require.NoError(t, err)
	require.Len(t, initial.Changes, 2)
	assert.Equal(t, "a", initial.Changes[0].Doc.Ref.ID())
	assert.Equal(t, "b", initial.Changes[1].Doc.Ref.ID())

	require.NoError(t, m.Set(ctx, coll.Doc("a"), Fields{"timestamp": time.Unix(30, 0)}))
	batch, err := w.Next()
	require.NoError(t, err)
	require.Len(t, batch.Changes, 1)
	assert.Equal(t, Modified, batch.Changes[0].Kind)
	assert.Equal(t, "a", batch.Changes[0].Doc.Ref.ID())

	_, err = m.Add(ctx, coll, Fields{"timestamp": time.Unix(40, 0)})
	require.NoError(t, err)
	batch, err = w.Next()
	require.NoError(t, err)
	assert.Equal(t, Added, batch.Changes[0].Kind)
}

func TestMemoryWatchStop(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	coll := Collection("messages", "u1", "u2")

	w, err := m.Watch(ctx, Query{Collection: coll, OrderBy: "timestamp"})
	require.NoError(t, err)
	_, err = w.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, m.WatcherCount(coll))

	w.Stop()
	w.Stop()
	_, err = w.Next()
	assert.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, 0, m.WatcherCount(coll))
}

func TestMemoryWatchContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewMemory()
	coll := Collection("messages", "u1", "u2")

	w, err := m.Watch(ctx, Query{Collection: coll, OrderBy: "timestamp"})
	require.NoError(t, err)
	_, err = w.Next()
	require.NoError(t, err)

	cancel()
	_, err = w.Next()
	assert.ErrorIs(t, err, context.Canceled)
	assert.Eventually(t, func() bool { return m.WatcherCount(coll) == 0 }, time.Second, 10*time.Millisecond)
}

func TestMemoryFault(t *testing.T) {
	boom := errors.New("boom")
	m := NewMemory(WithFault(func(op Op, path string) error {
		if op == OpAdd && path == "messages/u2/u1" {
			return boom
		}
		return nil
	}))
	ctx := context.Background()

	_, err := m.Add(ctx, Collection("messages", "u1", "u2"), Fields{"text": "hi"})
	assert.NoError(t, err)
	_, err = m.Add(ctx, Collection("messages", "u2", "u1"), Fields{"text": "hi"})
	assert.ErrorIs(t, err, boom)
}

func TestMemoryClose(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	coll := Collection("users")
	w, err := m.Watch(ctx, Query{Collection: coll})
	require.NoError(t, err)
	_, err = w.Next()
	require.NoError(t, err)

	require.NoError(t, m.Close())
	_, err = w.Next()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Set(ctx, coll.Doc("u1"), Fields{}), ErrClosed)
}

func TestPaths(t *testing.T) {
	tests := []struct {
		name    string
		ref     DocRef
		wantErr bool
	}{
		{name: "user", ref: Collection("users").Doc("u1")},
		{name: "message", ref: Collection("messages", "u1", "u2").Doc("m1")},
		{name: "empty id", ref: Collection("users").Doc(""), wantErr: true},
		{name: "slash in id", ref: Collection("users").Doc("a/b"), wantErr: true},
		{name: "collection as doc", ref: DocRef{segments: []string{"users"}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ref.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPath)
				return
			}
			assert.NoError(t, err)
		})
	}

	ref, err := ParseDoc("recent_messages/u1/messages/u2")
	require.NoError(t, err)
	assert.Equal(t, "u2", ref.ID())
	assert.Equal(t, "recent_messages/u1/messages", ref.Parent().Path())
}

func TestDecode(t *testing.T) {
	type doc struct {
		ID        string    `firestore:"-"`
		Text      string    `firestore:"text"`
		Timestamp time.Time `firestore:"timestamp"`
	}
	ts := time.Date(2024, 3, 1, 12, 0, 0, 5, time.UTC)

	var fromTime doc
	require.NoError(t, Decode(Fields{"text": "hi", "timestamp": ts}, &fromTime))
	assert.Equal(t, "hi", fromTime.Text)
	assert.True(t, ts.Equal(fromTime.Timestamp))

	var fromString doc
	require.NoError(t, Decode(Fields{"timestamp": FormatTime(ts)}, &fromString))
	assert.True(t, ts.Equal(fromString.Timestamp))
	assert.Empty(t, fromString.ID)
}
