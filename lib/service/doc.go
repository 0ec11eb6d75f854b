// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service carries the feedbridge daemon's command socket.
//
// The protocol is one CBOR request per Unix socket connection. The
// client writes a map with an "action" field plus action-specific
// fields; the server answers with
//
//	{ok: bool, error: string, kind: string, data: <cbor>}
//
// and closes the connection. Failures are flattened to their message,
// and the [coordinator.Kind] of the error travels in "kind" so
// [ServiceClient] can hand back an error that still matches the
// coordinator sentinels under errors.Is.
//
// A request stays open for as long as its handler runs. Long polls
// rely on this: the handler's context is cancelled when the server
// shuts down or when the client hangs up, so a caller that gives up
// on a poll only has to close its connection.
package service
