// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/feedbridge/lib/clock"
	"github.com/bureau-foundation/feedbridge/lib/codec"
	"github.com/bureau-foundation/feedbridge/lib/coordinator"
	"github.com/bureau-foundation/feedbridge/lib/service"
)

// sessionForgetter deletes the persisted session. *session.Manager
// implements it.
type sessionForgetter interface {
	Forget(ctx context.Context) error
}

// Daemon binds the socket actions to a coordinator.
type Daemon struct {
	coordinator *coordinator.Coordinator
	sessions    sessionForgetter
	clock       clock.Clock
	startedAt   time.Time
	logger      *slog.Logger
}

func newDaemon(coord *coordinator.Coordinator, sessions sessionForgetter, clk clock.Clock, logger *slog.Logger) *Daemon {
	return &Daemon{
		coordinator: coord,
		sessions:    sessions,
		clock:       clk,
		startedAt:   clk.Now(),
		logger:      logger,
	}
}

// registerActions registers every socket action on server.
func (d *Daemon) registerActions(server *service.SocketServer) {
	server.Handle("status", d.handleStatus)
	server.Handle("login", d.handleLogin)
	server.Handle("reset", d.handleReset)
	server.Handle("logout", d.handleLogout)

	server.Handle("subscribe_timeline", d.handleSubscribeTimeline)
	server.Handle("get_timeline_update", d.handleGetTimelineUpdate)
	server.Handle("unsubscribe_timeline", d.handleUnsubscribeTimeline)
	server.Handle("cancel_timeline_update", d.handleCancelTimelineUpdate)

	server.Handle("subscribe_roomlist", d.handleSubscribeRoomList)
	server.Handle("get_roomlist_update", d.handleGetRoomListUpdate)
	server.Handle("unsubscribe_roomlist", d.handleUnsubscribeRoomList)
	server.Handle("cancel_roomlist_update", d.handleCancelRoomListUpdate)

	server.Handle("get_room_info", d.handleGetRoomInfo)
	server.Handle("send_message", d.handleSendMessage)
}

// decodeRequest decodes the action-specific fields of raw into target.
// A malformed request is a serialization failure.
func decodeRequest(op string, raw []byte, target any) error {
	if err := codec.Unmarshal(raw, target); err != nil {
		return coordinator.NewError(coordinator.KindSerialization, op, fmt.Errorf("decoding request: %w", err))
	}
	return nil
}

// classify gives an untagged collaborator error the protocol kind.
func classify(op string, err error) error {
	if err == nil || coordinator.KindOf(err) != "" {
		return err
	}
	return coordinator.NewError(coordinator.KindProtocol, op, err)
}
