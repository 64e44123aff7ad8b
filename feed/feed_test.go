package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klipach/courier/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionDeliversAndCancels(t *testing.T) {
	store := docstore.NewMemory()
	coll := docstore.Collection("messages", "u1", "u2")
	ctx, cancel := context.WithCancel(context.Background())

	w, err := store.Watch(ctx, docstore.Query{Collection: coll, OrderBy: "timestamp"})
	require.NoError(t, err)

	var batches atomic.Int32
	sub := Start(ctx, cancel, w, func(*docstore.ChangeBatch) { batches.Add(1) })

	_, err = store.Add(context.Background(), coll, docstore.Fields{"timestamp": docstore.ServerTimestamp})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return batches.Load() == 2 }, time.Second, 5*time.Millisecond)

	sub.Cancel()
	sub.Cancel()
	<-sub.Done()
	assert.NoError(t, sub.Err())
	assert.Equal(t, 0, store.WatcherCount(coll))

	_, err = store.Add(context.Background(), coll, docstore.Fields{"timestamp": docstore.ServerTimestamp})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), batches.Load())
}

func TestSubscriptionRecordsBackendError(t *testing.T) {
	boom := errors.New("listener lost")
	ctx, cancel := context.WithCancel(context.Background())
	f := docstore.NewFeed(ctx, nil)
	f.Push(&docstore.ChangeBatch{})
	f.Fail(boom)

	var batches atomic.Int32
	sub := Start(ctx, cancel, f, func(*docstore.ChangeBatch) { batches.Add(1) })

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not end")
	}
	assert.ErrorIs(t, sub.Err(), boom)
	assert.Equal(t, int32(1), batches.Load())
	sub.Cancel()
}

// busyWatcher hands out batches without blocking until stopped.
type busyWatcher struct {
	stopped atomic.Bool
}

func (w *busyWatcher) Next() (*docstore.ChangeBatch, error) {
	if w.stopped.Load() {
		return nil, docstore.ErrStopped
	}
	return &docstore.ChangeBatch{}, nil
}

func (w *busyWatcher) Stop() { w.stopped.Store(true) }

func TestNoCallbackAfterCancelReturns(t *testing.T) {
	var late atomic.Int32
	for i := 0; i < 500; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		var returned atomic.Bool
		first := make(chan struct{})
		var once sync.Once

		sub := Start(ctx, cancel, &busyWatcher{}, func(*docstore.ChangeBatch) {
			if returned.Load() {
				late.Add(1)
			}
			once.Do(func() { close(first) })
		})
		<-first
		sub.Cancel()
		returned.Store(true)
		<-sub.Done()
	}
	assert.Zero(t, late.Load(), "callbacks started after Cancel returned")
}
