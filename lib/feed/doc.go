// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package feed defines the vocabulary shared by feed producers (the
// Matrix engine) and the subscription coordinator.
//
// A feed is an ordered collection that changes incrementally. It is
// observed as an initial snapshot ([]T, always a copy) followed by
// [Patch] values describing each change. [Apply] replays a patch onto
// a snapshot, which is how mirrors (tests, the CLI's watch mode) keep
// a local copy in step.
//
// Producers hand consumers a [Source]. [Stream] is the standard
// implementation: an unbounded FIFO, so a slow consumer never causes a
// producer to block or drop a patch. A consumer waiting in
// [Stream.Next] can be interrupted through its context without losing
// any queued item; the next call receives it.
package feed
