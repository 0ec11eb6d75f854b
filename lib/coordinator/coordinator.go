// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/bureau-foundation/feedbridge/lib/feed"
	"github.com/bureau-foundation/feedbridge/lib/ref"
)

// Coordinator owns the client handle and the subscription slots.
// All methods are safe for concurrent use.
type Coordinator struct {
	logger      *slog.Logger
	establisher Establisher

	clientLock chanLock

	// Guarded by clientLock.
	client Client
	engine SyncEngine

	// epoch advances on every reset. Feed operations capture it with
	// the client and check it again before committing.
	epoch atomic.Uint64

	timeline *slot[feed.TimelineItem, feed.TimelinePatch]
	roomList *slot[feed.RoomListEntry, feed.RoomListBatch]
	slots    [feedKindCount]slotControl
}

// New returns a coordinator with no client installed. establisher
// performs login; logger may be nil.
func New(establisher Establisher, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		logger:      logger,
		establisher: establisher,
		clientLock:  newChanLock(),
	}
	c.timeline = newSlot(FeedTimeline, logger,
		func(feed.TimelinePatch) bool { return false },
		feed.Apply[feed.TimelineItem],
	)
	c.roomList = newSlot(FeedRoomList, logger,
		func(batch feed.RoomListBatch) bool { return len(batch) == 0 },
		feed.ApplyAll[feed.RoomListEntry],
	)
	c.slots[FeedTimeline] = c.timeline
	c.slots[FeedRoomList] = c.roomList
	return c
}

// Login installs a client. It fails AlreadyLoggedIn when one is
// already installed; otherwise the establisher's error is returned.
func (c *Coordinator) Login(ctx context.Context, credentials Credentials) error {
	const op = "login"
	if err := c.clientLock.acquire(ctx); err != nil {
		return &Error{Kind: KindCancelled, Op: op, Err: err}
	}
	defer c.clientLock.release()

	if c.client != nil {
		return &Error{Kind: KindAlreadyLoggedIn, Op: op, Err: fmt.Errorf("session for %s", c.client.UserID())}
	}
	if c.establisher == nil {
		return &Error{Kind: KindClientBuild, Op: op, Err: errors.New("no session manager configured")}
	}

	client, engine, err := c.establisher.Establish(ctx, credentials)
	if err != nil {
		return tag(KindProtocol, op, err)
	}
	c.client = client
	c.engine = engine
	c.epoch.Add(1)
	c.logger.Info("logged in", "user_id", client.UserID().String())
	return nil
}

// ResetAll tears down every subscription, stops the sync engine, and
// closes the client. Calling it with nothing installed succeeds.
func (c *Coordinator) ResetAll(ctx context.Context) error {
	const op = "reset"
	if err := c.clientLock.acquire(ctx); err != nil {
		return &Error{Kind: KindCancelled, Op: op, Err: err}
	}
	defer c.clientLock.release()

	c.epoch.Add(1)

	var errs []error
	for _, s := range c.slots {
		if err := s.teardown(ctx, ""); err != nil {
			errs = append(errs, err)
		}
	}
	if c.engine != nil {
		if err := c.engine.Stop(ctx); err != nil {
			errs = append(errs, tag(KindProtocol, op, fmt.Errorf("stopping sync engine: %w", err)))
		}
		c.engine = nil
	}
	if c.client != nil {
		userID := c.client.UserID()
		if err := c.client.Close(); err != nil {
			errs = append(errs, tag(KindIO, op, fmt.Errorf("closing client: %w", err)))
		}
		c.client = nil
		c.logger.Info("session reset", "user_id", userID.String())
	}
	return errors.Join(errs...)
}

// Client returns the installed client, failing NotLoggedIn when there
// is none. The handle may be closed by a concurrent reset at any time.
func (c *Coordinator) Client(ctx context.Context) (Client, error) {
	client, _, err := c.currentClient(ctx, "client")
	return client, err
}

func (c *Coordinator) currentClient(ctx context.Context, op string) (Client, uint64, error) {
	if err := c.clientLock.acquire(ctx); err != nil {
		return nil, 0, &Error{Kind: KindCancelled, Op: op, Err: err}
	}
	defer c.clientLock.release()
	if c.client == nil {
		return nil, 0, &Error{Kind: KindNotLoggedIn, Op: op}
	}
	return c.client, c.epoch.Load(), nil
}

// epochGuard fails when a reset happened after epoch was captured.
func (c *Coordinator) epochGuard(op string, epoch uint64) func() error {
	return func() error {
		if c.epoch.Load() != epoch {
			return &Error{Kind: KindCancelled, Op: op, Err: errors.New("connection reset during subscribe")}
		}
		return nil
	}
}

// SubscribeTimeline subscribes to a room's timeline and returns its
// initial items.
func (c *Coordinator) SubscribeTimeline(ctx context.Context, roomID string) ([]feed.TimelineItem, error) {
	const op = "subscribe_timeline"
	if state := c.timeline.status(); state.State != StateUnsubscribed {
		return nil, &Error{Kind: KindAlreadySubscribed, Op: op}
	}
	client, epoch, err := c.currentClient(ctx, op)
	if err != nil {
		return nil, err
	}

	open := func(ctx context.Context) ([]feed.TimelineItem, feed.Source[feed.TimelinePatch], error) {
		id, err := ref.ParseRoomID(roomID)
		if err != nil {
			return nil, nil, &Error{Kind: KindInvalidIdentifier, Op: op, Err: err}
		}
		room, err := client.Room(ctx, id)
		if err != nil {
			return nil, nil, tag(KindProtocol, op, err)
		}
		timeline, err := room.Timeline(ctx)
		if err != nil {
			return nil, nil, tag(KindProtocol, op, fmt.Errorf("opening timeline of %s: %w", id, err))
		}
		if !timeline.Initialized() {
			if err := timeline.Initialize(ctx); err != nil {
				return nil, nil, tag(KindProtocol, op, fmt.Errorf("initializing timeline of %s: %w", id, err))
			}
		}
		return timeline.Subscribe(ctx)
	}
	return c.timeline.subscribe(ctx, op, roomID, open, c.epochGuard(op, epoch))
}

// PollTimeline blocks until the next timeline patch.
func (c *Coordinator) PollTimeline(ctx context.Context) (feed.TimelinePatch, error) {
	return c.timeline.poll(ctx, "get_timeline_update")
}

// UnsubscribeTimeline tears down the timeline subscription. A
// non-empty roomID must name the subscribed room.
func (c *Coordinator) UnsubscribeTimeline(ctx context.Context, roomID string) error {
	return c.timeline.teardown(ctx, roomID)
}

// SubscribeRoomList subscribes to the room list and returns its
// initial entries.
func (c *Coordinator) SubscribeRoomList(ctx context.Context) ([]feed.RoomListEntry, error) {
	const op = "subscribe_roomlist"
	if state := c.roomList.status(); state.State != StateUnsubscribed {
		return nil, &Error{Kind: KindAlreadySubscribed, Op: op}
	}
	client, epoch, err := c.currentClient(ctx, op)
	if err != nil {
		return nil, err
	}

	open := func(ctx context.Context) ([]feed.RoomListEntry, feed.Source[feed.RoomListBatch], error) {
		list, err := client.RoomList(ctx)
		if err != nil {
			return nil, nil, tag(KindProtocol, op, err)
		}
		return list.Subscribe(ctx)
	}
	return c.roomList.subscribe(ctx, op, "", open, c.epochGuard(op, epoch))
}

// PollRoomList blocks until the next batch of room list patches.
func (c *Coordinator) PollRoomList(ctx context.Context) (feed.RoomListBatch, error) {
	return c.roomList.poll(ctx, "get_roomlist_update")
}

// UnsubscribeRoomList tears down the room list subscription.
func (c *Coordinator) UnsubscribeRoomList(ctx context.Context) error {
	return c.roomList.teardown(ctx, "")
}

// CancelPoll interrupts the in-flight poll on kind if it is poll
// number cycle, as reported by Status, and reports whether it did. The
// subscription stays in place.
func (c *Coordinator) CancelPoll(kind FeedKind, cycle uint64) bool {
	if kind < 0 || kind >= feedKindCount {
		return false
	}
	cancelled := c.slots[kind].cancelPoll(cycle)
	if cancelled {
		c.logger.Debug("poll cancelled", "feed", kind.String(), "cycle", cycle)
	}
	return cancelled
}

// State reports the state of kind's slot.
func (c *Coordinator) State(kind FeedKind) SlotState {
	if kind < 0 || kind >= feedKindCount {
		return StateUnsubscribed
	}
	return c.slots[kind].status().State
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	LoggedIn bool
	UserID   ref.UserID
	Slots    []SlotStatus
}

// Status reports the login state and every slot. It waits for the
// client lock, so it blocks behind an in-progress login or reset.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	if err := c.clientLock.acquire(ctx); err != nil {
		return Status{}, &Error{Kind: KindCancelled, Op: "status", Err: err}
	}
	var status Status
	if c.client != nil {
		status.LoggedIn = true
		status.UserID = c.client.UserID()
	}
	c.clientLock.release()

	for _, s := range c.slots {
		status.Slots = append(status.Slots, s.status())
	}
	return status, nil
}
