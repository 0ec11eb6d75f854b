// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"

	"github.com/bureau-foundation/feedbridge/lib/feed"
	"github.com/bureau-foundation/feedbridge/lib/ref"
	"github.com/bureau-foundation/feedbridge/lib/secret"
)

// Client is one live protocol connection. Implementations return
// errors tagged with a Kind; untagged errors are treated as protocol
// failures.
type Client interface {
	UserID() ref.UserID

	// Room resolves a joined room. An unknown room fails with
	// KindNotFound.
	Room(ctx context.Context, roomID ref.RoomID) (Room, error)

	RoomList(ctx context.Context) (RoomList, error)

	// Close releases the connection. It is called after the sync
	// engine has stopped.
	Close() error
}

// Room is a resolved room handle.
type Room interface {
	ID() ref.RoomID
	Timeline(ctx context.Context) (Timeline, error)
	Info(ctx context.Context) (feed.RoomInfo, error)
	Send(ctx context.Context, body string) error
}

// Timeline is a room's timeline feed.
type Timeline interface {
	// Initialized reports whether Initialize has already completed,
	// here or elsewhere.
	Initialized() bool

	// Initialize loads the initial window. Calling it again after
	// success is a no-op.
	Initialize(ctx context.Context) error

	Subscribe(ctx context.Context) ([]feed.TimelineItem, feed.Source[feed.TimelinePatch], error)
}

// RoomList is the account's room list feed.
type RoomList interface {
	Subscribe(ctx context.Context) ([]feed.RoomListEntry, feed.Source[feed.RoomListBatch], error)
}

// SyncEngine is the running sync loop.
type SyncEngine interface {
	Stop(ctx context.Context) error
}

// Credentials are the inputs to a fresh login. All fields may be empty
// when a persisted session is expected. Password is borrowed.
type Credentials struct {
	Homeserver string
	Username   string
	Password   *secret.Buffer
}

// HasPassword reports whether a fresh login is possible.
func (c Credentials) HasPassword() bool {
	return c.Username != "" && c.Password != nil && c.Password.Len() > 0
}

// Establisher restores or creates a session and starts syncing. The
// session manager implements it.
type Establisher interface {
	Establish(ctx context.Context, credentials Credentials) (Client, SyncEngine, error)
}
