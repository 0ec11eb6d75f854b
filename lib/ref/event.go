// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// EventID is a Matrix event ID. Room versions 4 and later use
// "$base64hash" with no server suffix, so the only structural rule is
// the '$' sigil followed by something.
type EventID struct {
	id string
}

// ParseEventID validates a raw event ID.
func ParseEventID(raw string) (EventID, error) {
	if raw == "" {
		return EventID{}, fmt.Errorf("empty event ID")
	}
	if raw[0] != '$' || len(raw) < 2 {
		return EventID{}, fmt.Errorf("invalid event ID %q: must be '$' followed by an identifier", raw)
	}
	return EventID{id: raw}, nil
}

func (e EventID) String() string { return e.id }

// IsZero reports whether e is unset.
func (e EventID) IsZero() bool { return e.id == "" }

func (e EventID) MarshalText() ([]byte, error) { return []byte(e.id), nil }

func (e *EventID) UnmarshalText(data []byte) error {
	return unmarshalText(data, e, ParseEventID)
}
