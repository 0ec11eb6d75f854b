// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session restores or creates a Matrix session and starts the
// sync engine for it.
//
// [Manager] implements coordinator.Establisher. A login first tries
// the persisted session: it is loaded from the [Store], validated
// with whoami, and used as is. When the server rejects the saved
// token and the caller supplied a password, the manager falls back
// to a fresh password login and overwrites the stored session. That
// fallback is the only recovery; every other failure is returned with
// its error kind.
//
// Two stores are provided. [FileStore] writes plain JSON with mode
// 0600. [SealedStore] encrypts the same JSON to an age identity kept
// in the crypto store directory, so the session file alone does not
// reveal the access token.
package session
