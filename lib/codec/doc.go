// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration shared by the feedbridge
// daemon socket and its clients.
//
// JSON is used where feedbridge talks to the outside world (the Matrix
// client-server API, session files, --json CLI output). CBOR is used
// on the command socket between the daemon and the CLI. Both sides
// must encode identically, so neither imports fxamacker/cbor directly.
//
// Types that cross both boundaries (timeline items, room info) carry
// only `json` tags; fxamacker/cbor falls back to them when `cbor` tags
// are absent. Socket-only envelopes carry `cbor` tags.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2).
package codec
