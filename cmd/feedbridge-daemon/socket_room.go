// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"

	"github.com/bureau-foundation/feedbridge/lib/coordinator"
	"github.com/bureau-foundation/feedbridge/lib/ref"
)

// resolveRoom parses roomID and resolves it through the current
// client. These lookups bypass the subscription slots entirely.
func (d *Daemon) resolveRoom(ctx context.Context, op, roomID string) (coordinator.Room, error) {
	id, err := ref.ParseRoomID(roomID)
	if err != nil {
		return nil, coordinator.NewError(coordinator.KindInvalidIdentifier, op, err)
	}
	client, err := d.coordinator.Client(ctx)
	if err != nil {
		return nil, err
	}
	room, err := client.Room(ctx, id)
	if err != nil {
		return nil, classify(op, err)
	}
	return room, nil
}

func (d *Daemon) handleGetRoomInfo(ctx context.Context, raw []byte) (any, error) {
	const op = "get_room_info"
	var request roomRequest
	if err := decodeRequest(op, raw, &request); err != nil {
		return nil, err
	}
	room, err := d.resolveRoom(ctx, op, request.RoomID)
	if err != nil {
		return nil, err
	}
	info, err := room.Info(ctx)
	if err != nil {
		return nil, classify(op, err)
	}
	return info, nil
}

type sendMessageRequest struct {
	RoomID string `cbor:"room_id"`
	Body   string `cbor:"body"`
}

func (d *Daemon) handleSendMessage(ctx context.Context, raw []byte) (any, error) {
	const op = "send_message"
	var request sendMessageRequest
	if err := decodeRequest(op, raw, &request); err != nil {
		return nil, err
	}
	if request.Body == "" {
		return nil, coordinator.NewError(coordinator.KindSerialization, op, errors.New("body is required"))
	}
	room, err := d.resolveRoom(ctx, op, request.RoomID)
	if err != nil {
		return nil, err
	}
	if err := room.Send(ctx, request.Body); err != nil {
		return nil, classify(op, err)
	}
	d.logger.Debug("message sent", "room_id", request.RoomID)
	return nil, nil
}
