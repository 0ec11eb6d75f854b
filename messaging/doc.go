// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the parts of the Matrix client-server API
// that feedbridge needs.
//
// [Client] is unauthenticated: it knows the homeserver URL and HTTP
// transport and performs password login. Login, or
// [Client.SessionFromToken] for a restored session, yields a
// [DirectSession] that carries the access token in a secret.Buffer
// and makes authenticated calls: whoami, /sync long-polling, room
// history via /messages, room state, joined members, and message
// send.
//
// Every non-2xx response is returned as a [*MatrixError] carrying the
// Matrix error code and HTTP status. [IsMatrixError] tests for a code
// and [IsTokenRejected] recognises a dead access token, which is the
// one failure the session manager recovers from locally.
//
// Outgoing message bodies pass through [NewMessage], which renders
// Markdown to the org.matrix.custom.html format when the body contains
// markup.
package messaging
