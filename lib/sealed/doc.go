// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts small blobs at rest with filippo.io/age.
//
// feedbridge uses it for the "sealed" session store: the session file
// is age ciphertext addressed to an x25519 identity kept in the crypto
// store directory. Private keys and decrypted plaintext are returned
// as *secret.Buffer values so they live outside the Go heap.
package sealed
