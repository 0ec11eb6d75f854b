// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"

	"github.com/bureau-foundation/feedbridge/lib/ref"
)

// Event types feedbridge interprets.
const (
	EventTypeMessage        = "m.room.message"
	EventTypeRedaction      = "m.room.redaction"
	EventTypeName           = "m.room.name"
	EventTypeTopic          = "m.room.topic"
	EventTypeAvatar         = "m.room.avatar"
	EventTypeCanonicalAlias = "m.room.canonical_alias"
	EventTypeMember         = "m.room.member"
)

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Type                     string          `json:"type"`
	Identifier               LoginIdentifier `json:"identifier"`
	Password                 string          `json:"password"`
	DeviceID                 string          `json:"device_id,omitempty"`
	InitialDeviceDisplayName string          `json:"initial_device_display_name,omitempty"`
}

// LoginIdentifier is the m.id.user identifier form.
type LoginIdentifier struct {
	Type string `json:"type"`
	User string `json:"user"`
}

// AuthResponse is returned by /login.
type AuthResponse struct {
	UserID      ref.UserID `json:"user_id"`
	AccessToken string     `json:"access_token"`
	DeviceID    string     `json:"device_id"`
}

// WhoAmIResponse is returned by /account/whoami.
type WhoAmIResponse struct {
	UserID   ref.UserID `json:"user_id"`
	DeviceID string     `json:"device_id,omitempty"`
}

// Event is a Matrix room event as delivered by /sync, /messages, and
// /state.
type Event struct {
	EventID        ref.EventID    `json:"event_id"`
	Type           string         `json:"type"`
	Sender         ref.UserID     `json:"sender"`
	OriginServerTS int64          `json:"origin_server_ts"`
	Content        map[string]any `json:"content"`
	StateKey       *string        `json:"state_key,omitempty"`
	Redacts        string         `json:"redacts,omitempty"`
	Unsigned       *EventUnsigned `json:"unsigned,omitempty"`
}

// EventUnsigned holds data the server attaches outside the signature.
type EventUnsigned struct {
	Age             int64           `json:"age,omitempty"`
	TransactionID   string          `json:"transaction_id,omitempty"`
	RedactedBecause json.RawMessage `json:"redacted_because,omitempty"`
}

// ContentString returns Content[key] when it is a string.
func (e *Event) ContentString(key string) string {
	value, _ := e.Content[key].(string)
	return value
}

// IsState reports whether the event carries a state key.
func (e *Event) IsState() bool { return e.StateKey != nil }

// RedactsID returns the target of an m.room.redaction. Room version 11
// moved the field into content; older versions keep it top-level.
func (e *Event) RedactsID() string {
	if e.Redacts != "" {
		return e.Redacts
	}
	return e.ContentString("redacts")
}

// SyncOptions controls GET /sync.
type SyncOptions struct {
	Since      string // next_batch from the previous response; empty for initial sync
	Timeout    int    // long-poll timeout in milliseconds
	SetTimeout bool   // send timeout even when it is 0
	Filter     string // filter ID or inline JSON
}

// SyncResponse is the top-level /sync response.
type SyncResponse struct {
	NextBatch string       `json:"next_batch"`
	Rooms     RoomsSection `json:"rooms"`
}

// RoomsSection groups per-room sync data by membership.
type RoomsSection struct {
	Join   map[ref.RoomID]JoinedRoom  `json:"join,omitempty"`
	Invite map[ref.RoomID]InvitedRoom `json:"invite,omitempty"`
	Leave  map[ref.RoomID]LeftRoom    `json:"leave,omitempty"`
}

// JoinedRoom is the sync data for a joined room.
type JoinedRoom struct {
	Summary             RoomSummary         `json:"summary"`
	State               StateSection        `json:"state"`
	Timeline            TimelineSection     `json:"timeline"`
	UnreadNotifications UnreadNotifications `json:"unread_notifications"`
}

// RoomSummary carries the lazy-loading membership summary.
type RoomSummary struct {
	Heroes             []string `json:"m.heroes,omitempty"`
	JoinedMemberCount  *int     `json:"m.joined_member_count,omitempty"`
	InvitedMemberCount *int     `json:"m.invited_member_count,omitempty"`
}

// UnreadNotifications holds the per-room notification counters.
type UnreadNotifications struct {
	NotificationCount int `json:"notification_count"`
	HighlightCount    int `json:"highlight_count"`
}

// InvitedRoom is the sync data for a pending invite.
type InvitedRoom struct {
	InviteState StateSection `json:"invite_state"`
}

// LeftRoom is the sync data for a room the user left.
type LeftRoom struct {
	State    StateSection    `json:"state"`
	Timeline TimelineSection `json:"timeline"`
}

// TimelineSection is one room's slice of new timeline events.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}

// StateSection is a list of state events.
type StateSection struct {
	Events []Event `json:"events"`
}

// RoomMessagesOptions controls GET /rooms/{id}/messages.
type RoomMessagesOptions struct {
	From      string // pagination token; empty starts from the live end
	Direction string // "b" (default) or "f"
	Limit     int    // 0 uses the server default
}

// RoomMessagesResponse is returned by /messages. End is empty when no
// further events exist in the requested direction.
type RoomMessagesResponse struct {
	Start string  `json:"start"`
	End   string  `json:"end,omitempty"`
	Chunk []Event `json:"chunk"`
	State []Event `json:"state,omitempty"`
}

// JoinedMembersResponse is returned by /rooms/{id}/joined_members.
type JoinedMembersResponse struct {
	Joined map[string]JoinedMember `json:"joined"`
}

// JoinedMember is one entry of JoinedMembersResponse.
type JoinedMember struct {
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// SendEventResponse is returned by PUT /send.
type SendEventResponse struct {
	EventID ref.EventID `json:"event_id"`
}
