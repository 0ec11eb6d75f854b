// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/feedbridge/cmd/feedbridge/cli"
	"github.com/bureau-foundation/feedbridge/lib/version"
)

// Root returns the top of the command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name:    "feedbridge",
		Summary: "Talk to the feedbridge daemon",
		Description: `feedbridge drives a running feedbridge-daemon: log in, follow the room
list and one room timeline, and send messages.`,
		Subcommands: []*cli.Command{
			loginCommand(),
			logoutCommand(),
			resetCommand(),
			statusCommand(),
			timelineCommand(),
			roomListCommand(),
			roomCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(ctx context.Context, args []string) error {
					fmt.Fprintf(stdout, "feedbridge %s\n", version.Info())
					return nil
				},
			},
		},
	}
}
