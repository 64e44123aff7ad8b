package docstore

import (
	"context"
	"sync"
)

// Feed is an unbounded, ordered queue of change batches implementing Watcher.
// Backends without a native listener API push into it from their own
// notification loop.
type Feed struct {
	ctx     context.Context
	onStop  func()
	mu      sync.Mutex
	pending []*ChangeBatch
	err     error
	signal  chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewFeed returns a feed bound to ctx. onStop, if set, runs once when the feed stops.
func NewFeed(ctx context.Context, onStop func()) *Feed {
	return &Feed{
		ctx:     ctx,
		onStop:  onStop,
		signal:  make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Push enqueues a batch. It reports false once the feed is stopped or failed.
func (f *Feed) Push(b *ChangeBatch) bool {
	f.mu.Lock()
	if f.err != nil || f.isStopped() {
		f.mu.Unlock()
		return false
	}
	f.pending = append(f.pending, b)
	f.mu.Unlock()
	f.wake()
	return true
}

// Fail terminates the feed; Next returns err after draining queued batches.
func (f *Feed) Fail(err error) {
	f.mu.Lock()
	if f.err == nil {
		f.err = err
	}
	f.mu.Unlock()
	f.wake()
}

func (f *Feed) Next() (*ChangeBatch, error) {
	for {
		f.mu.Lock()
		if f.isStopped() {
			f.mu.Unlock()
			return nil, ErrStopped
		}
		if len(f.pending) > 0 {
			b := f.pending[0]
			f.pending[0] = nil
			f.pending = f.pending[1:]
			f.mu.Unlock()
			return b, nil
		}
		if f.err != nil {
			err := f.err
			f.mu.Unlock()
			return nil, err
		}
		f.mu.Unlock()

		select {
		case <-f.signal:
		case <-f.stopped:
		case <-f.ctx.Done():
			f.Fail(f.ctx.Err())
		}
	}
}

func (f *Feed) Stop() {
	f.once.Do(func() {
		close(f.stopped)
		if f.onStop != nil {
			f.onStop()
		}
	})
}

// Done is closed when the feed is stopped.
func (f *Feed) Done() <-chan struct{} {
	return f.stopped
}

func (f *Feed) isStopped() bool {
	select {
	case <-f.stopped:
		return true
	default:
		return false
	}
}

func (f *Feed) wake() {
	select {
	case f.signal <- struct{}{}:
	default:
	}
}
