// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// feedbridge is the command-line client for feedbridge-daemon.
//
// Every subcommand is one or more requests on the daemon's socket.
// Output is styled text by default; --json prints the decoded result
// and --raw prints the daemon's CBOR payload in diagnostic notation.
package main
