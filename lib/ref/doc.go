// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated Matrix identifier types.
//
// Identifiers arrive as strings from two untrusted directions: the UI
// (a room ID typed into subscribe_timeline) and the homeserver (IDs in
// /sync responses). Both are parsed into [RoomID], [UserID], or
// [EventID] at the boundary so the rest of the code never re-checks
// them. All three are immutable values whose zero value means unset,
// and all implement encoding.TextMarshaler so they serialize as plain
// strings in JSON and CBOR.
package ref
