// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package coordinator turns push-based feeds into a pull-based command
// interface.
//
// A UI process cannot receive pushes, so it subscribes to a feed,
// receives a snapshot, and then repeatedly polls for the next patch.
// The [Coordinator] owns one subscription slot per [FeedKind]
// (timeline and room list). Each slot holds at most one live source
// and at most one in-flight poll.
//
// # Cancellation
//
// A poll holds its slot's lock while it waits, so teardown must
// release the poll before it can take the lock. Every poll installs a
// fresh [CancelToken]; unsubscribe and reset trigger the installed
// token first and only then acquire the slot. Every token carries its
// poll's cycle number, and [Coordinator.CancelPoll] fires only the
// token of the cycle the caller names, so a cancel that arrives after
// its poll returned cannot cancel the next one. A poll that reaches
// the slot while a teardown is pending returns Cancelled without
// waiting, since nobody would trigger its token.
//
// A teardown that begins while a subscribe is opening its source makes
// that subscribe fail Cancelled and close the source instead of
// committing.
//
// A cancelled poll consumes nothing. Patches that had not been
// received stay queued in the source and the next poll returns them.
//
// # Lock order
//
// The client lock is taken before any slot lock. Login and ResetAll
// hold the client lock across their whole critical section and so are
// totally ordered. Feed operations read the client under the client
// lock, release it, then take the slot lock and check the connection
// epoch before committing, so a reset that raced a subscribe never
// leaves a subscription on a closed client.
//
// All failures are *Error values with a [Kind]; errors.Is matches them
// against the Err* sentinels.
package coordinator
