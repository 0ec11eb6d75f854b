// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"

	"github.com/bureau-foundation/feedbridge/lib/coordinator"
	"github.com/bureau-foundation/feedbridge/lib/feed"
)

type roomRequest struct {
	RoomID string `cbor:"room_id"`
}

// cancelRequest names the poll to cancel by the cycle number status
// reported for it.
type cancelRequest struct {
	Cycle uint64 `cbor:"cycle"`
}

// cancelResponse reports whether the named poll was in flight.
type cancelResponse struct {
	Cancelled bool `cbor:"cancelled"`
}

func (d *Daemon) handleSubscribeTimeline(ctx context.Context, raw []byte) (any, error) {
	var request roomRequest
	if err := decodeRequest("subscribe_timeline", raw, &request); err != nil {
		return nil, err
	}
	items, err := d.coordinator.SubscribeTimeline(ctx, request.RoomID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []feed.TimelineItem{}
	}
	return items, nil
}

func (d *Daemon) handleGetTimelineUpdate(ctx context.Context, raw []byte) (any, error) {
	patch, err := d.coordinator.PollTimeline(ctx)
	if err != nil {
		return nil, err
	}
	return patch, nil
}

// handleUnsubscribeTimeline accepts an optional room_id. When given it
// must name the subscribed room.
func (d *Daemon) handleUnsubscribeTimeline(ctx context.Context, raw []byte) (any, error) {
	var request roomRequest
	if err := decodeRequest("unsubscribe_timeline", raw, &request); err != nil {
		return nil, err
	}
	return nil, d.coordinator.UnsubscribeTimeline(ctx, request.RoomID)
}

func (d *Daemon) handleCancelTimelineUpdate(ctx context.Context, raw []byte) (any, error) {
	return d.cancelPoll("cancel_timeline_update", coordinator.FeedTimeline, raw)
}

func (d *Daemon) handleSubscribeRoomList(ctx context.Context, raw []byte) (any, error) {
	entries, err := d.coordinator.SubscribeRoomList(ctx)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []feed.RoomListEntry{}
	}
	return entries, nil
}

func (d *Daemon) handleGetRoomListUpdate(ctx context.Context, raw []byte) (any, error) {
	batch, err := d.coordinator.PollRoomList(ctx)
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func (d *Daemon) handleUnsubscribeRoomList(ctx context.Context, raw []byte) (any, error) {
	return nil, d.coordinator.UnsubscribeRoomList(ctx)
}

func (d *Daemon) handleCancelRoomListUpdate(ctx context.Context, raw []byte) (any, error) {
	return d.cancelPoll("cancel_roomlist_update", coordinator.FeedRoomList, raw)
}

// cancelPoll decodes a cancelRequest and cancels that cycle on kind.
// Cycles start at one, so zero means the field was left out.
func (d *Daemon) cancelPoll(op string, kind coordinator.FeedKind, raw []byte) (any, error) {
	var request cancelRequest
	if err := decodeRequest(op, raw, &request); err != nil {
		return nil, err
	}
	if request.Cycle == 0 {
		return nil, coordinator.NewError(coordinator.KindSerialization, op, errors.New("missing required field: cycle"))
	}
	return cancelResponse{Cancelled: d.coordinator.CancelPoll(kind, request.Cycle)}, nil
}
