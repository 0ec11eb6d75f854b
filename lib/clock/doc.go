// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the wall clock so time-dependent code can be
// driven deterministically in tests.
//
// Production code receives [Real]. Tests construct a [FakeClock] with
// [Fake], block until the code under test has registered its timer
// with [FakeClock.WaitForTimers], then fire it with
// [FakeClock.Advance]. The sync engine's retry backoff is the main
// consumer.
package clock
