// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/feedbridge/cmd/feedbridge/cli"
	"github.com/bureau-foundation/feedbridge/lib/codec"
	"github.com/bureau-foundation/feedbridge/lib/coordinator"
	"github.com/bureau-foundation/feedbridge/lib/feed"
)

// unsubscribeTimeout bounds the unsubscribe watch sends on exit.
const unsubscribeTimeout = 5 * time.Second

// feedDef describes one feed kind: its socket actions and how to
// render it. T is the collection element, P the unit one update
// delivers.
type feedDef[T, P any] struct {
	name        string
	slot        string
	subscribe   string
	update      string
	unsubscribe string
	cancel      string

	// takesRoom is set when subscribe names a room.
	takesRoom bool

	apply          func([]T, P) ([]T, error)
	renderSnapshot func(theme, io.Writer, []T)
	renderUpdate   func(theme, P) []string
}

var timelineFeed = feedDef[feed.TimelineItem, feed.TimelinePatch]{
	name:        "timeline",
	slot:        "timeline",
	subscribe:   "subscribe_timeline",
	update:      "get_timeline_update",
	unsubscribe: "unsubscribe_timeline",
	cancel:      "cancel_timeline_update",
	takesRoom:   true,
	apply:       feed.Apply[feed.TimelineItem],
	renderSnapshot: func(styles theme, w io.Writer, items []feed.TimelineItem) {
		styles.renderTimeline(w, items)
	},
	renderUpdate: func(styles theme, patch feed.TimelinePatch) []string {
		return []string{describePatch(styles, patch, styles.renderItem)}
	},
}

var roomListFeed = feedDef[feed.RoomListEntry, feed.RoomListBatch]{
	name:        "roomlist",
	slot:        "room_list",
	subscribe:   "subscribe_roomlist",
	update:      "get_roomlist_update",
	unsubscribe: "unsubscribe_roomlist",
	cancel:      "cancel_roomlist_update",
	apply:       feed.ApplyAll[feed.RoomListEntry],
	renderSnapshot: func(styles theme, w io.Writer, entries []feed.RoomListEntry) {
		styles.renderRoomList(w, entries)
	},
	renderUpdate: func(styles theme, batch feed.RoomListBatch) []string {
		lines := make([]string, 0, len(batch))
		for _, patch := range batch {
			lines = append(lines, describePatch(styles, patch, styles.renderEntry))
		}
		return lines
	},
}

func timelineCommand() *cli.Command {
	return &cli.Command{
		Name:        "timeline",
		Summary:     "Follow one room's timeline",
		Description: "Follow one room's timeline. The daemon holds at most one timeline\nsubscription at a time.",
		Subcommands: feedCommands(timelineFeed),
	}
}

func roomListCommand() *cli.Command {
	return &cli.Command{
		Name:        "roomlist",
		Summary:     "Follow the list of joined rooms",
		Subcommands: feedCommands(roomListFeed),
	}
}

func feedCommands[T, P any](def feedDef[T, P]) []*cli.Command {
	return []*cli.Command{
		subscribeCommand(def),
		nextCommand(def),
		watchCommand(def),
		unsubscribeCommand(def),
		cancelCommand(def),
	}
}

func roomArgument(takesRoom bool, args []string) (map[string]any, error) {
	if !takesRoom {
		if len(args) > 0 {
			return nil, fmt.Errorf("%w: unexpected argument %q", cli.ErrUsage, args[0])
		}
		return nil, nil
	}
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: exactly one room ID is required", cli.ErrUsage)
	}
	return map[string]any{"room_id": args[0]}, nil
}

func roomUsage(takesRoom bool, command string) string {
	if takesRoom {
		return command + " <room-id> [flags]"
	}
	return command + " [flags]"
}

func subscribeCommand[T, P any](def feedDef[T, P]) *cli.Command {
	var conn connection
	return &cli.Command{
		Name:    "subscribe",
		Summary: "Subscribe and print the current snapshot",
		Usage:   roomUsage(def.takesRoom, "feedbridge "+def.name+" subscribe"),
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("subscribe", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			fields, err := roomArgument(def.takesRoom, args)
			if err != nil {
				return err
			}
			var snapshot []T
			response, err := conn.call(ctx, def.subscribe, fields, &snapshot)
			if err != nil {
				return err
			}
			if done, err := conn.emit(response, snapshot); done {
				return err
			}
			def.renderSnapshot(newTheme(conn.out()), conn.out(), snapshot)
			return nil
		},
	}
}

func nextCommand[T, P any](def feedDef[T, P]) *cli.Command {
	var (
		conn    connection
		timeout time.Duration
	)
	return &cli.Command{
		Name:        "next",
		Summary:     "Wait for and print the next update",
		Description: "Wait for the next update of the current subscription and print it.\nExits 1 when --timeout passes first; the update stays queued.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("next", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			flagSet.DurationVar(&timeout, "timeout", 0, "give up after this long (0 waits indefinitely)")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			var update P
			response, err := conn.call(ctx, def.update, nil, &update)
			if errors.Is(err, context.DeadlineExceeded) {
				fmt.Fprintf(conn.out(), "no update within %s\n", timeout)
				return &cli.ExitError{Code: 1}
			}
			if err != nil {
				return err
			}
			if done, err := conn.emit(response, update); done {
				return err
			}
			for _, line := range def.renderUpdate(newTheme(conn.out()), update) {
				fmt.Fprintln(conn.out(), line)
			}
			return nil
		},
	}
}

func watchCommand[T, P any](def feedDef[T, P]) *cli.Command {
	var (
		conn  connection
		count int
		keep  bool
	)
	return &cli.Command{
		Name:    "watch",
		Summary: "Subscribe, print the snapshot, then stream updates",
		Usage:   roomUsage(def.takesRoom, "feedbridge "+def.name+" watch"),
		Description: `Subscribe, print the snapshot, then print each update as it arrives
until interrupted, the feed ends, or --count updates have been shown.
The subscription is dropped on exit unless --keep is given.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("watch", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			flagSet.IntVar(&count, "count", 0, "stop after this many updates (0 is unlimited)")
			flagSet.BoolVar(&keep, "keep", false, "leave the subscription in place on exit")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			fields, err := roomArgument(def.takesRoom, args)
			if err != nil {
				return err
			}
			return watchFeed(ctx, &conn, def, fields, count, keep)
		},
	}
}

func watchFeed[T, P any](ctx context.Context, conn *connection, def feedDef[T, P], fields map[string]any, count int, keep bool) error {
	logger := cli.NewCommandLogger(conn.verbose).With("feed", def.name)
	styles := newTheme(conn.out())

	var snapshot []T
	response, err := conn.call(ctx, def.subscribe, fields, &snapshot)
	if err != nil {
		return err
	}
	if !keep {
		defer func() {
			unsubscribeCtx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
			defer cancel()
			if _, err := conn.call(unsubscribeCtx, def.unsubscribe, fields, nil); err != nil {
				logger.Warn("unsubscribe failed", "error", err)
			}
		}()
	}
	if done, err := conn.emit(response, snapshot); !done {
		def.renderSnapshot(styles, conn.out(), snapshot)
	} else if err != nil {
		return err
	}

	for delivered := 0; count == 0 || delivered < count; delivered++ {
		var update P
		response, err := conn.call(ctx, def.update, nil, &update)
		switch {
		case ctx.Err() != nil:
			return nil
		case coordinator.KindOf(err) == coordinator.KindStreamTerminated:
			fmt.Fprintln(conn.out(), styles.faint.Render("feed ended"))
			return nil
		case coordinator.KindOf(err) == coordinator.KindCancelled:
			// Another client cancelled this poll; wait again.
			logger.Debug("update cancelled elsewhere")
			delivered--
			continue
		case err != nil:
			return err
		}

		next, err := def.apply(snapshot, update)
		if err != nil {
			logger.Warn("local mirror out of step", "error", err)
		} else {
			snapshot = next
		}
		if done, err := conn.emit(response, update); done {
			if err != nil {
				return err
			}
			continue
		}
		for _, line := range def.renderUpdate(styles, update) {
			if err := writeLine(conn.out(), line); err != nil {
				return err
			}
		}
	}
	return nil
}

func unsubscribeCommand[T, P any](def feedDef[T, P]) *cli.Command {
	var conn connection
	usage := "feedbridge " + def.name + " unsubscribe [flags]"
	if def.takesRoom {
		usage = "feedbridge " + def.name + " unsubscribe [room-id] [flags]"
	}
	return &cli.Command{
		Name:    "unsubscribe",
		Summary: "Drop the subscription",
		Usage:   usage,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("unsubscribe", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			var fields map[string]any
			switch {
			case def.takesRoom && len(args) == 1:
				fields = map[string]any{"room_id": args[0]}
			case len(args) > 0:
				return fmt.Errorf("%w: unexpected argument %q", cli.ErrUsage, args[len(args)-1])
			}
			_, err := conn.call(ctx, def.unsubscribe, fields, nil)
			return err
		},
	}
}

func cancelCommand[T, P any](def feedDef[T, P]) *cli.Command {
	var (
		conn  connection
		cycle uint64
	)
	return &cli.Command{
		Name:    "cancel",
		Summary: "Interrupt a pending update request",
		Description: `Interrupt the pending update request with poll number --cycle, as
shown by status. Without --cycle the poll pending right now is
looked up first. A poll that already returned is left alone.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("cancel", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			flagSet.Uint64Var(&cycle, "cycle", 0, "poll number to cancel (default: the pending one)")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%w: unexpected argument %q", cli.ErrUsage, args[0])
			}
			var result cancelView
			target := cycle
			if target == 0 {
				pending, err := pendingCycle(ctx, &conn, def.slot)
				if err != nil {
					return err
				}
				target = pending
			}
			var raw codec.RawMessage
			if target != 0 {
				response, err := conn.call(ctx, def.cancel, map[string]any{"cycle": target}, &result)
				if err != nil {
					return err
				}
				raw = response.Data
			}
			if done, err := conn.Emit(conn.out(), raw, result); done {
				return err
			}
			if result.Cancelled {
				fmt.Fprintf(conn.out(), "cancelled update request %d\n", target)
			} else {
				fmt.Fprintln(conn.out(), "no update was pending")
			}
			return nil
		},
	}
}

// pendingCycle returns the cycle of the poll slot is running, or zero
// when none is.
func pendingCycle(ctx context.Context, conn *connection, slot string) (uint64, error) {
	var status statusView
	if _, err := conn.call(ctx, "status", nil, &status); err != nil {
		return 0, err
	}
	for _, view := range status.Slots {
		if view.Feed == slot && view.State == string(coordinator.StatePolling) {
			return view.Cycles, nil
		}
	}
	return 0, nil
}
