// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// RoomID is a validated Matrix room ID such as "!abc123:example.org".
// Room IDs are opaque and server-assigned; feedbridge never builds one.
type RoomID struct {
	id string
}

// ParseRoomID validates a raw room ID.
func ParseRoomID(raw string) (RoomID, error) {
	if _, _, err := parsePrefixedID(raw, '!', "room ID"); err != nil {
		return RoomID{}, err
	}
	return RoomID{id: raw}, nil
}

// MustParseRoomID panics if raw is invalid. For tests and constants.
func MustParseRoomID(raw string) RoomID {
	roomID, err := ParseRoomID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseRoomID(%q): %v", raw, err))
	}
	return roomID
}

func (r RoomID) String() string { return r.id }

// IsZero reports whether r is unset.
func (r RoomID) IsZero() bool { return r.id == "" }

func (r RoomID) MarshalText() ([]byte, error) { return []byte(r.id), nil }

func (r *RoomID) UnmarshalText(data []byte) error {
	return unmarshalText(data, r, ParseRoomID)
}
