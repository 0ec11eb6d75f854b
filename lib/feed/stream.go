// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package feed

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrEndOfStream is returned by Next once the producer has
	// finished and every queued item has been delivered.
	ErrEndOfStream = errors.New("feed: end of stream")

	// ErrClosed is returned by Next after the consumer closed the
	// source.
	ErrClosed = errors.New("feed: source closed")
)

// Source is the consumer side of a feed. Next blocks until an item is
// available, the feed ends, or ctx is done. When ctx ends first, Next
// returns ctx.Err() and no item is consumed. Close releases the source
// and is idempotent.
type Source[P any] interface {
	Next(ctx context.Context) (P, error)
	Close()
}

// Stream is an unbounded FIFO implementing Source. Any number of
// producers may Push; one consumer calls Next.
type Stream[P any] struct {
	mu       sync.Mutex
	queue    []P
	wake     chan struct{}
	finished bool
	closed   bool
	onClose  func()
}

// NewStream returns an empty stream. onClose, if non-nil, runs once
// when the consumer closes the stream; producers use it to deregister.
func NewStream[P any](onClose func()) *Stream[P] {
	return &Stream[P]{wake: make(chan struct{}), onClose: onClose}
}

// Push enqueues item. It reports false, dropping item, when the
// stream is already finished or closed.
func (s *Stream[P]) Push(item P) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || s.closed {
		return false
	}
	s.queue = append(s.queue, item)
	s.signalLocked()
	return true
}

// Finish marks the end of the feed. Items already queued are still
// delivered before Next reports ErrEndOfStream.
func (s *Stream[P]) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || s.closed {
		return
	}
	s.finished = true
	s.signalLocked()
}

// Next implements Source.
func (s *Stream[P]) Next(ctx context.Context) (P, error) {
	var zero P
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return zero, ErrClosed
		}
		if len(s.queue) > 0 {
			item := s.queue[0]
			s.queue[0] = zero
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return item, nil
		}
		if s.finished {
			s.mu.Unlock()
			return zero, ErrEndOfStream
		}
		wake := s.wake
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-wake:
		}
	}
}

// Close discards queued items and runs onClose. Idempotent.
func (s *Stream[P]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	s.signalLocked()
	onClose := s.onClose
	s.mu.Unlock()

	if onClose != nil {
		onClose()
	}
}

// Len returns the number of queued items.
func (s *Stream[P]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// signalLocked wakes every waiter. Caller holds s.mu.
func (s *Stream[P]) signalLocked() {
	close(s.wake)
	s.wake = make(chan struct{})
}
