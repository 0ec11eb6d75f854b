// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// feedbridge-daemon holds one Matrix session and serves its room list
// and one room timeline to local clients over a Unix socket.
//
// Clients pull changes: after subscribing to a feed they issue a
// blocking get_*_update request, which returns the next change. A
// pending update request is interrupted by the matching cancel_*
// action, by unsubscribing, by reset, or by the client closing its
// connection.
//
// Only one daemon may run per state root. The daemon holds an exclusive
// lock on feedbridge.lock in paths.root for its whole life.
//
// On SIGINT or SIGTERM the daemon stops accepting requests, releases
// pending polls, stops the sync loop, and exits.
package main
