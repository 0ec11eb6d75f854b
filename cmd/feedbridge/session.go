// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/feedbridge/cmd/feedbridge/cli"
	"github.com/bureau-foundation/feedbridge/lib/secret"
)

// passwordPrompt reads a password without echo. Tests replace it.
var passwordPrompt = func(prompt string) (*secret.Buffer, error) {
	descriptor := int(os.Stdin.Fd())
	if !term.IsTerminal(descriptor) {
		return nil, errors.New("stdin is not a terminal; use --password-file")
	}
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(descriptor)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	defer secret.Zero(password)
	return secret.NewFromBytes(password)
}

func loginCommand() *cli.Command {
	var (
		conn         connection
		homeserver   string
		username     string
		passwordFile string
	)
	return &cli.Command{
		Name:    "login",
		Summary: "Restore the saved session or log in with a password",
		Description: `Restore the saved session or log in with a password.

Without --username the daemon restores the session saved by an earlier
login. With --username the password is read from --password-file (use
"-" for stdin) or prompted for. A saved session is still preferred; the
password is only used when there is none or the server rejects it.`,
		Usage: "feedbridge login [--homeserver URL --username NAME [--password-file PATH]]",
		Examples: []cli.Example{
			{Description: "Restore the saved session", Command: "feedbridge login"},
			{Description: "First login", Command: "feedbridge login --homeserver https://matrix.example.org --username alice"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("login", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			flagSet.StringVar(&homeserver, "homeserver", "", "homeserver URL (default: homeserver.url from the daemon's config)")
			flagSet.StringVar(&username, "username", "", "Matrix user localpart or ID")
			flagSet.StringVar(&passwordFile, "password-file", "", `file holding the password, or "-" for stdin`)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%w: unexpected argument %q", cli.ErrUsage, args[0])
			}
			fields := map[string]any{}
			if homeserver != "" {
				fields["homeserver"] = homeserver
			}
			if username != "" {
				password, err := readPassword(passwordFile, username)
				if err != nil {
					return err
				}
				defer password.Close()
				fields["username"] = username
				fields["password"] = password.String()
			} else if passwordFile != "" {
				return fmt.Errorf("%w: --password-file requires --username", cli.ErrUsage)
			}

			if _, err := conn.call(ctx, "login", fields, nil); err != nil {
				return err
			}
			return printStatusLine(ctx, &conn)
		},
	}
}

func readPassword(passwordFile, username string) (*secret.Buffer, error) {
	if passwordFile != "" {
		return secret.ReadFromPath(passwordFile)
	}
	return passwordPrompt(fmt.Sprintf("Password for %s: ", username))
}

// printStatusLine reports who is logged in after a session change.
func printStatusLine(ctx context.Context, conn *connection) error {
	var status statusView
	response, err := conn.call(ctx, "status", nil, &status)
	if err != nil {
		return err
	}
	if done, err := conn.emit(response, status); done {
		return err
	}
	styles := newTheme(conn.out())
	if status.LoggedIn {
		fmt.Fprintf(conn.out(), "%s as %s\n", styles.good.Render("logged in"), status.UserID)
	} else {
		fmt.Fprintln(conn.out(), styles.bad.Render("logged out"))
	}
	return nil
}

// simpleCommand builds a command that sends action with no fields and
// prints the resulting status.
func simpleCommand(name, action, summary, description string) *cli.Command {
	var conn connection
	return &cli.Command{
		Name:        name,
		Summary:     summary,
		Description: description,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
			conn.addFlags(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if _, err := conn.call(ctx, action, nil, nil); err != nil {
				return err
			}
			return printStatusLine(ctx, &conn)
		},
	}
}

func resetCommand() *cli.Command {
	return simpleCommand("reset", "reset", "Drop the live session and every subscription",
		`Drop the live session and every subscription.

Pending updates are released, the sync loop stops, and the client
closes. The saved session stays on disk, so "feedbridge login" restores
it.`)
}

func logoutCommand() *cli.Command {
	return simpleCommand("logout", "logout", "Reset and delete the saved session",
		`Reset, then invalidate the saved session on the server and delete it
along with the sync cache. The next login needs a password.`)
}

func statusCommand() *cli.Command {
	var conn connection
	return &cli.Command{
		Name:    "status",
		Summary: "Show the session and subscription state",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			var status statusView
			response, err := conn.call(ctx, "status", nil, &status)
			if err != nil {
				return err
			}
			if done, err := conn.emit(response, status); done {
				return err
			}
			newTheme(conn.out()).renderStatus(conn.out(), status)
			return nil
		},
	}
}

// writeLine is fmt.Fprintln for callers that should stop on a write
// error, such as a closed pipe under watch.
func writeLine(w io.Writer, text string) error {
	_, err := fmt.Fprintln(w, text)
	return err
}
