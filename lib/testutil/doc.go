// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by feedbridge tests.
//
// The channel helpers ([RequireReceive], [RequireClosed],
// [RequireNoReceive]) wrap the select-with-timeout pattern so that
// tests of blocking code (a poll waiting for a patch, a sync loop
// waiting on its backoff) never hang the suite. They are the only
// place test code touches the real clock.
//
// [SocketDir] returns a short directory under /tmp; Unix socket paths
// are limited to 108 bytes and t.TempDir() can exceed that.
//
// All helpers call Fatalf on failure.
package testutil
