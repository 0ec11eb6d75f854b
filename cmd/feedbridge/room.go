// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/feedbridge/cmd/feedbridge/cli"
	"github.com/bureau-foundation/feedbridge/lib/feed"
)

func roomCommand() *cli.Command {
	return &cli.Command{
		Name:    "room",
		Summary: "Inspect and message a joined room",
		Subcommands: []*cli.Command{
			roomInfoCommand(),
			roomSendCommand(),
		},
	}
}

func roomInfoCommand() *cli.Command {
	var conn connection
	return &cli.Command{
		Name:    "info",
		Summary: "Show a room's metadata",
		Usage:   "feedbridge room info <room-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("info", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			fields, err := roomArgument(true, args)
			if err != nil {
				return err
			}
			var info feed.RoomInfo
			response, err := conn.call(ctx, "get_room_info", fields, &info)
			if err != nil {
				return err
			}
			if done, err := conn.emit(response, info); done {
				return err
			}
			newTheme(conn.out()).renderRoomInfo(conn.out(), info)
			return nil
		},
	}
}

func roomSendCommand() *cli.Command {
	var (
		conn     connection
		bodyFile string
	)
	return &cli.Command{
		Name:    "send",
		Summary: "Send a message to a room",
		Description: `Send a message to a room. The body is the remaining arguments joined
by spaces, or the contents of --body-file ("-" for stdin). Markdown in
the body is rendered to HTML for clients that display it.`,
		Usage: "feedbridge room send <room-id> [body...] [flags]",
		Examples: []cli.Example{
			{Command: `feedbridge room send '!abc:example.org' 'deploy **finished**'`},
			{Description: "Send a file's contents", Command: "feedbridge room send '!abc:example.org' --body-file notes.md"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("send", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			flagSet.StringVar(&bodyFile, "body-file", "", `read the body from this file, or "-" for stdin`)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("%w: a room ID is required", cli.ErrUsage)
			}
			body, err := messageBody(args[1:], bodyFile, os.Stdin)
			if err != nil {
				return err
			}
			fields := map[string]any{"room_id": args[0], "body": body}
			if _, err := conn.call(ctx, "send_message", fields, nil); err != nil {
				return err
			}
			if conn.OutputJSON || conn.OutputRaw {
				return nil
			}
			fmt.Fprintln(conn.out(), newTheme(conn.out()).good.Render("sent"))
			return nil
		},
	}
}

func messageBody(words []string, bodyFile string, stdin io.Reader) (string, error) {
	switch {
	case bodyFile != "" && len(words) > 0:
		return "", fmt.Errorf("%w: give the body as arguments or --body-file, not both", cli.ErrUsage)
	case bodyFile == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading body from stdin: %w", err)
		}
		return strings.TrimRight(string(data), "\n"), nil
	case bodyFile != "":
		data, err := os.ReadFile(bodyFile)
		if err != nil {
			return "", fmt.Errorf("reading body: %w", err)
		}
		return strings.TrimRight(string(data), "\n"), nil
	case len(words) == 0:
		return "", fmt.Errorf("%w: a message body is required", cli.ErrUsage)
	}
	return strings.Join(words, " "), nil
}
