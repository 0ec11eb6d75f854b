// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package matrixfeed computes room list and timeline feeds from the
// Matrix /sync stream.
//
// The [Engine] runs one long-poll loop per session and keeps, for
// every joined room, its metadata and (once opened) its timeline
// window. Each sync response becomes patches: a new room is pushed to
// the back of the room list, a rename sets its entry, a leave removes
// it. Timeline windows are loaded lazily from /messages the first
// time a room is opened; live events are pushed back, a redaction
// sets the affected item, and a limited sync resets the window.
//
// Subscribers receive patches on unbounded [feed.Stream] queues, so a
// slow consumer never loses changes. On Stop, timeline streams end
// and room list streams receive one empty batch.
//
// [Client] wraps the engine in the interfaces of package coordinator.
// The optional [Store] caches the sync position and room summaries in
// SQLite so a restart resumes incremental sync.
package matrixfeed
