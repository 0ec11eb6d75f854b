// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads feedbridge configuration.
//
// Configuration comes from exactly one file, named by the
// FEEDBRIDGE_CONFIG environment variable or the --config flag. There
// is no discovery and no search path. YAML is the native format;
// files ending in .json or .jsonc are accepted too (comments and
// trailing commas are stripped before parsing).
//
// A file may carry development and production sections whose
// non-empty fields override the base values when the environment
// matches. Paths support ${VAR} and ${VAR:-default} expansion, with
// ${FEEDBRIDGE_ROOT} bound to paths.root.
package config
