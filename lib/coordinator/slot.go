// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/bureau-foundation/feedbridge/lib/feed"
)

// FeedKind selects a subscription slot.
type FeedKind int

const (
	FeedTimeline FeedKind = iota
	FeedRoomList

	feedKindCount
)

func (k FeedKind) String() string {
	switch k {
	case FeedTimeline:
		return "timeline"
	case FeedRoomList:
		return "room_list"
	}
	return "unknown"
}

// SlotState is the observable state of a slot.
type SlotState string

const (
	StateUnsubscribed SlotState = "unsubscribed"
	StateIdle         SlotState = "subscribed"
	StatePolling      SlotState = "polling"
)

// SlotStatus is a point-in-time view of one slot.
type SlotStatus struct {
	Kind  FeedKind
	State SlotState

	// FeedID is the subscribed room for the timeline slot and empty
	// otherwise.
	FeedID string

	// SnapshotLength is the size of the mirrored collection after the
	// patches delivered so far.
	SnapshotLength int

	// Cycles counts the polls started on this slot.
	Cycles uint64
}

// slotControl is the kind-independent view of a slot used by the
// coordinator's per-kind table.
type slotControl interface {
	teardown(ctx context.Context, feedID string) error
	cancelPoll(cycle uint64) bool
	status() SlotStatus
}

// slot holds at most one live feed of items T delivered as poll units
// P.
//
// Two locks guard it. lock serializes subscribe, poll, and teardown
// and is held for the whole of a poll's wait. mu is short-lived and
// guards the fields teardown must reach while a poll holds lock.
type slot[T, P any] struct {
	kind   FeedKind
	logger *slog.Logger

	// terminal reports whether a delivered unit ends the feed.
	terminal func(P) bool

	// mirror applies a delivered unit to the snapshot.
	mirror func([]T, P) ([]T, error)

	lock chanLock

	// Guarded by lock.
	source   feed.Source[P]
	snapshot []T

	mu          sync.Mutex
	subscribed  bool
	feedID      string
	token       *CancelToken
	cycle       uint64
	tearingDown int
	length      int

	// teardowns counts teardowns begun, including those that found
	// nothing subscribed. A subscribe that sees it move while opening
	// does not commit.
	teardowns uint64
}

func newSlot[T, P any](kind FeedKind, logger *slog.Logger, terminal func(P) bool, mirror func([]T, P) ([]T, error)) *slot[T, P] {
	return &slot[T, P]{
		kind:     kind,
		logger:   logger.With("feed", kind.String()),
		terminal: terminal,
		mirror:   mirror,
		lock:     newChanLock(),
	}
}

// subscribe runs open under the slot lock and commits its result.
// valid is checked before open and again, together with the teardown
// generation, at commit. When either fails the fresh source is closed.
func (s *slot[T, P]) subscribe(
	ctx context.Context,
	op string,
	feedID string,
	open func(context.Context) ([]T, feed.Source[P], error),
	valid func() error,
) ([]T, error) {
	if err := s.lock.acquire(ctx); err != nil {
		return nil, &Error{Kind: KindCancelled, Op: op, Err: err}
	}
	defer s.lock.release()

	if s.source != nil {
		return nil, &Error{Kind: KindAlreadySubscribed, Op: op}
	}
	if err := valid(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	generation := s.teardowns
	s.mu.Unlock()

	items, source, err := open(ctx)
	if err != nil {
		return nil, tag(KindProtocol, op, err)
	}

	// Commit under mu so a teardown either sees subscribed or moves the
	// generation before this check.
	s.mu.Lock()
	err = valid()
	if err == nil && (s.teardowns != generation || s.tearingDown > 0) {
		err = &Error{Kind: KindCancelled, Op: op, Err: errors.New("torn down while subscribing")}
	}
	if err != nil {
		s.mu.Unlock()
		source.Close()
		return nil, err
	}
	s.source = source
	s.snapshot = slices.Clone(items)
	s.subscribed = true
	s.feedID = feedID
	s.length = len(items)
	s.mu.Unlock()

	s.logger.Debug("subscribed", "feed_id", feedID, "items", len(items))
	return slices.Clone(items), nil
}

// poll waits for the next unit from the source.
func (s *slot[T, P]) poll(ctx context.Context, op string) (P, error) {
	var zero P
	if err := s.lock.acquire(ctx); err != nil {
		return zero, &Error{Kind: KindCancelled, Op: op, Err: err}
	}
	defer s.lock.release()

	if s.source == nil {
		return zero, &Error{Kind: KindNotSubscribed, Op: op}
	}

	token := s.install(ctx)
	if token == nil {
		return zero, &Error{Kind: KindCancelled, Op: op, Err: errors.New("teardown pending")}
	}
	unit, err := s.source.Next(token.ctx)
	triggered := token.Triggered()
	s.clear(token)

	switch {
	case err == nil && s.terminal(unit):
		s.discard()
		s.logger.Debug("feed terminated by producer")
		return zero, &Error{Kind: KindStreamTerminated, Op: op}
	case err == nil:
		s.record(unit)
		return unit, nil
	case errors.Is(err, feed.ErrEndOfStream), errors.Is(err, feed.ErrClosed):
		s.discard()
		s.logger.Debug("feed ended")
		return zero, &Error{Kind: KindStreamTerminated, Op: op, Err: err}
	case triggered:
		return zero, &Error{Kind: KindCancelled, Op: op, Err: errPollCancelled}
	case ctx.Err() != nil:
		return zero, &Error{Kind: KindCancelled, Op: op, Err: ctx.Err()}
	}
	return zero, tag(KindProtocol, op, err)
}

// teardown closes the source. A non-empty feedID must match the
// subscribed feed; a mismatch fails NotSubscribed and touches nothing.
// On an unsubscribed slot it still aborts a subscribe that is opening.
func (s *slot[T, P]) teardown(ctx context.Context, feedID string) error {
	op := "unsubscribe_" + s.kind.String()

	s.mu.Lock()
	s.teardowns++
	if !s.subscribed {
		s.mu.Unlock()
		return nil
	}
	if feedID != "" && feedID != s.feedID {
		current := s.feedID
		s.mu.Unlock()
		return &Error{Kind: KindNotSubscribed, Op: op, Err: fmt.Errorf("%s is not the subscribed feed (%s)", feedID, current)}
	}
	s.tearingDown++
	if s.token != nil {
		s.token.trigger()
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.tearingDown--
		s.mu.Unlock()
	}()

	if err := s.lock.acquire(ctx); err != nil {
		return &Error{Kind: KindCancelled, Op: op, Err: err}
	}
	defer s.lock.release()

	if s.source == nil {
		return nil
	}
	s.mu.Lock()
	current := s.feedID
	s.mu.Unlock()
	if feedID != "" && feedID != current {
		return &Error{Kind: KindNotSubscribed, Op: op, Err: fmt.Errorf("%s is not the subscribed feed (%s)", feedID, current)}
	}

	s.discard()
	s.logger.Debug("unsubscribed", "feed_id", current)
	return nil
}

// cancelPoll triggers the installed token if it belongs to cycle,
// reporting whether it did. A cycle that already finished matches
// nothing, so a late cancel cannot reach the next poll.
func (s *slot[T, P]) cancelPoll(cycle uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil || s.token.Cycle() != cycle {
		return false
	}
	s.token.trigger()
	return true
}

func (s *slot[T, P]) status() SlotStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := SlotStatus{
		Kind:           s.kind,
		State:          StateUnsubscribed,
		FeedID:         s.feedID,
		SnapshotLength: s.length,
		Cycles:         s.cycle,
	}
	switch {
	case s.token != nil:
		status.State = StatePolling
	case s.subscribed:
		status.State = StateIdle
	}
	return status
}

// install creates the token for a new poll cycle. It returns nil
// while a teardown is pending. Caller holds lock.
func (s *slot[T, P]) install(ctx context.Context) *CancelToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tearingDown > 0 {
		return nil
	}
	s.cycle++
	s.token = newCancelToken(ctx, s.cycle)
	return s.token
}

// clear removes token after its poll returned. Caller holds lock.
func (s *slot[T, P]) clear(token *CancelToken) {
	s.mu.Lock()
	if s.token == token {
		s.token = nil
	}
	s.mu.Unlock()
	token.release()
}

// record mirrors a delivered unit into the snapshot. Caller holds lock.
func (s *slot[T, P]) record(unit P) {
	if s.mirror == nil {
		return
	}
	next, err := s.mirror(s.snapshot, unit)
	if err != nil {
		s.logger.Warn("snapshot mirror out of step", "error", err)
		return
	}
	s.snapshot = next
	s.mu.Lock()
	s.length = len(next)
	s.mu.Unlock()
}

// discard closes the source and empties the slot. Caller holds lock.
func (s *slot[T, P]) discard() {
	if s.source != nil {
		s.source.Close()
	}
	s.source = nil
	s.snapshot = nil

	s.mu.Lock()
	s.subscribed = false
	s.feedID = ""
	s.length = 0
	s.mu.Unlock()
}
