// Package feed turns a docstore change feed into a cancellable subscription
// that drives a callback.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/klipach/courier/docstore"
	"github.com/klipach/courier/log"
)

// Subscription is the handle of one live listener.
type Subscription struct {
	cancel  context.CancelFunc
	watcher docstore.Watcher
	done    chan struct{}

	// deliver is held across the cancelled check and the callback
	deliver sync.Mutex

	mu        sync.Mutex
	cancelled bool
	err       error
}

// Start consumes w in a new goroutine and calls handle for every batch, one
// at a time and in arrival order. cancel is called when the subscription ends.
func Start(ctx context.Context, cancel context.CancelFunc, w docstore.Watcher, handle func(*docstore.ChangeBatch)) *Subscription {
	s := &Subscription{
		cancel:  cancel,
		watcher: w,
		done:    make(chan struct{}),
	}
	go s.run(ctx, handle)
	return s
}

func (s *Subscription) run(ctx context.Context, handle func(*docstore.ChangeBatch)) {
	defer close(s.done)
	defer s.cancel()
	defer s.watcher.Stop()
	logger := log.LoggerFromContext(ctx)

	for {
		batch, err := s.watcher.Next()
		if err != nil {
			if s.isCancelled() || errors.Is(err, docstore.ErrStopped) || errors.Is(err, context.Canceled) {
				return
			}
			logger.Error("listener failed", log.Err(err))
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return
		}
		if !s.deliverBatch(handle, batch) {
			return
		}
		logger.Debug("batch delivered", slog.Int("changes", len(batch.Changes)))
	}
}

func (s *Subscription) deliverBatch(handle func(*docstore.ChangeBatch), batch *docstore.ChangeBatch) bool {
	s.deliver.Lock()
	defer s.deliver.Unlock()
	if s.isCancelled() {
		return false
	}
	handle(batch)
	return true
}

// Cancel stops the listener and waits for a running callback to return, so
// no callback is running or starts after Cancel returns. It must not be
// called from the callback itself. Calling it again is a no-op.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	s.mu.Unlock()

	s.watcher.Stop()
	s.cancel()
	s.deliver.Lock()
	s.deliver.Unlock()
}

// Done is closed once the subscription goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err reports the backend error that ended the subscription, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}
