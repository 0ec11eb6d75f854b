// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the feedbridge
// CLI.
//
// The central type is [Command], which represents a named subcommand
// with optional nested [Command.Subcommands], a [pflag.FlagSet]
// factory, and a Run function. [Command.Execute] handles flag parsing,
// subcommand routing, and help output. Unknown subcommands and flags
// get a closest-match suggestion (edit distance at most 3).
//
// The package also carries the output helpers shared by every
// command: [JSONOutput] for --json, [NewCommandLogger] for the slog
// handler choice, and [ExitError] for commands that report their own
// failure.
package cli
