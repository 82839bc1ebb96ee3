package repository

import (
	"context"
	"sync"
)

// StreamSubscription is the Subscription used by the push transports. The
// reader goroutine calls Finish once it stops.
type StreamSubscription struct {
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func NewStreamSubscription(cancel context.CancelFunc) *StreamSubscription {
	return &StreamSubscription{
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (s *StreamSubscription) Unsubscribe() {
	s.cancel()
}

func (s *StreamSubscription) Finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.cancel()
		close(s.done)
	})
}

func (s *StreamSubscription) Done() <-chan struct{} {
	return s.done
}

func (s *StreamSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
