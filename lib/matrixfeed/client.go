// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package matrixfeed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bureau-foundation/feedbridge/lib/coordinator"
	"github.com/bureau-foundation/feedbridge/lib/feed"
	"github.com/bureau-foundation/feedbridge/lib/ref"
	"github.com/bureau-foundation/feedbridge/messaging"
)

// Client is the coordinator's handle on one Matrix connection. It
// resolves rooms against the engine's state and owns the session and
// state store, which Close releases.
type Client struct {
	engine  *Engine
	session Session
	store   *Store

	closeOnce sync.Once
	closeErr  error
}

var _ coordinator.Client = (*Client)(nil)

// NewClient wraps a started engine. store may be nil.
func NewClient(engine *Engine, session Session, store *Store) *Client {
	return &Client{engine: engine, session: session, store: store}
}

// UserID implements coordinator.Client.
func (c *Client) UserID() ref.UserID { return c.session.UserID() }

// Room implements coordinator.Client. Only joined rooms resolve.
func (c *Client) Room(_ context.Context, roomID ref.RoomID) (coordinator.Room, error) {
	state := c.engine.room(roomID)
	if state == nil {
		return nil, coordinator.NewError(coordinator.KindNotFound, "resolve room",
			fmt.Errorf("%s is not a joined room", roomID))
	}
	return &room{engine: c.engine, session: c.session, state: state}, nil
}

// RoomList implements coordinator.Client.
func (c *Client) RoomList(context.Context) (coordinator.RoomList, error) {
	return roomList{engine: c.engine}, nil
}

// Close releases the access token and the state store. The engine
// must already be stopped. Idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		if err := c.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing session: %w", err))
		}
		if c.store != nil {
			if err := c.store.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

type room struct {
	engine  *Engine
	session Session
	state   *roomState
}

func (r *room) ID() ref.RoomID { return r.state.id }

func (r *room) Timeline(context.Context) (coordinator.Timeline, error) {
	return timeline{engine: r.engine, state: r.state}, nil
}

func (r *room) Info(ctx context.Context) (feed.RoomInfo, error) {
	info, err := r.engine.refreshRoom(ctx, r.state)
	if err != nil {
		return feed.RoomInfo{}, coordinator.NewError(coordinator.KindProtocol, "room info", err)
	}
	return info, nil
}

// Send posts body as a message, rendering Markdown when present.
func (r *room) Send(ctx context.Context, body string) error {
	eventID, err := r.session.SendMessage(ctx, r.state.id, messaging.NewMessage(body))
	if err != nil {
		return coordinator.NewError(coordinator.KindProtocol, "send message", err)
	}
	r.engine.logger.Debug("message sent", "room_id", r.state.id.String(), "event_id", eventID.String())
	return nil
}

type timeline struct {
	engine *Engine
	state  *roomState
}

func (t timeline) Initialized() bool { return t.engine.timelineInitialized(t.state) }

func (t timeline) Initialize(ctx context.Context) error {
	if err := t.engine.initializeTimeline(ctx, t.state); err != nil {
		return coordinator.NewError(coordinator.KindProtocol, "initialize timeline", err)
	}
	return nil
}

func (t timeline) Subscribe(context.Context) ([]feed.TimelineItem, feed.Source[feed.TimelinePatch], error) {
	return t.engine.subscribeTimeline(t.state)
}

type roomList struct {
	engine *Engine
}

func (l roomList) Subscribe(context.Context) ([]feed.RoomListEntry, feed.Source[feed.RoomListBatch], error) {
	return l.engine.subscribeRoomList()
}
