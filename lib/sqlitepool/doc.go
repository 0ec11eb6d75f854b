// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens the feedbridge state store: a small pool of
// zombiezen.com/go/sqlite connections with WAL journaling and a busy
// timeout applied to every connection, plus an optional schema script
// run once per connection.
//
// The pool hands out raw *sqlite.Conn values; callers use sqlitex
// helpers for queries and transactions. [Pool.With] wraps the
// Take/Put pair for the common case.
package sqlitepool
