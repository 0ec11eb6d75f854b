// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds passwords and access tokens in memory the Go
// runtime never sees.
//
// A [Buffer] is an anonymous mmap region that is mlocked (never
// swapped) and marked MADV_DONTDUMP (never in a core file). Close
// zeroes the region before unmapping it. feedbridge keeps the login
// password in a Buffer for the duration of the login command and the
// Matrix access token in a Buffer for the lifetime of the session.
//
// Depends on golang.org/x/sys/unix only.
package secret
