// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// UserID is a validated Matrix user ID such as "@alice:example.org".
type UserID struct {
	id     string
	server string
}

// ParseUserID validates a raw user ID.
func ParseUserID(raw string) (UserID, error) {
	_, server, err := parsePrefixedID(raw, '@', "Matrix user ID")
	if err != nil {
		return UserID{}, err
	}
	return UserID{id: raw, server: server}, nil
}

// MustParseUserID panics if raw is invalid. For tests and constants.
func MustParseUserID(raw string) UserID {
	userID, err := ParseUserID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseUserID(%q): %v", raw, err))
	}
	return userID
}

func (u UserID) String() string { return u.id }

// IsZero reports whether u is unset.
func (u UserID) IsZero() bool { return u.id == "" }

// Server returns the server name after the first ':'.
func (u UserID) Server() string { return u.server }

func (u UserID) MarshalText() ([]byte, error) { return []byte(u.id), nil }

func (u *UserID) UnmarshalText(data []byte) error {
	return unmarshalText(data, u, ParseUserID)
}
