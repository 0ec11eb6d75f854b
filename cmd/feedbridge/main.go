// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"

	"github.com/bureau-foundation/feedbridge/cmd/feedbridge/cli"
	"github.com/bureau-foundation/feedbridge/lib/coordinator"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := Root().Execute(ctx, os.Args[1:])
	stop()
	os.Exit(exitCode(err))
}

// exitCode prints err and maps it to the process exit status. Usage
// errors exit 2; an *cli.ExitError exits with its code silently.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}

	label := lipgloss.NewRenderer(os.Stderr).NewStyle().Bold(true).
		Foreground(lipgloss.AdaptiveColor{Light: "124", Dark: "203"}).Render("error:")
	fmt.Fprintf(os.Stderr, "%s %v\n", label, err)
	if kind := coordinator.KindOf(err); kind != "" {
		fmt.Fprintf(os.Stderr, "kind:  %s\n", kind)
	}
	if errors.Is(err, cli.ErrUsage) {
		return 2
	}
	return 1
}
