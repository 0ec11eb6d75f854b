// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/feedbridge/lib/clock"
	"github.com/bureau-foundation/feedbridge/lib/config"
	"github.com/bureau-foundation/feedbridge/lib/coordinator"
	"github.com/bureau-foundation/feedbridge/lib/service"
	"github.com/bureau-foundation/feedbridge/lib/session"
	"github.com/bureau-foundation/feedbridge/lib/version"
)

// shutdownTimeout bounds the final reset: stopping the sync loop and
// closing the client.
const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		socketPath  string
		showVersion bool
	)

	flags := pflag.NewFlagSet("feedbridge-daemon", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to feedbridge.yaml (default: $"+config.EnvironmentVariable+", then built-in defaults)")
	flags.StringVar(&socketPath, "socket", "", "command socket path (overrides paths.socket)")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("feedbridge-daemon %s\n", version.Info())
		return nil
	}

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}
	if socketPath != "" {
		cfg.Paths.Socket = socketPath
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	level, _ := cfg.Logging.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	lockPath := filepath.Join(cfg.Paths.Root, "feedbridge.lock")
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("locking %s: %w", lockPath, err)
	}
	if !locked {
		return fmt.Errorf("another feedbridge-daemon holds %s", lockPath)
	}
	defer lock.Unlock()

	manager, err := session.NewManager(session.Config{
		Store:          sessionStore(cfg),
		Homeserver:     cfg.Homeserver.URL,
		StateStorePath: cfg.Paths.StateStore,
		RequestTimeout: cfg.Homeserver.RequestTimeoutDuration(),
		SyncTimeout:    cfg.Sync.TimeoutDuration(),
		MaxBackoff:     cfg.Sync.MaxBackoffDuration(),
		TimelineLimit:  cfg.Sync.TimelineLimit,
		Clock:          clock.Real(),
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	daemon := newDaemon(coordinator.New(manager, logger), manager, clock.Real(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	socketServer := service.NewSocketServer(cfg.Paths.Socket, logger)
	daemon.registerActions(socketServer)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return socketServer.Serve(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		resetCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := daemon.coordinator.ResetAll(resetCtx); err != nil {
			logger.Error("reset during shutdown failed", "error", err)
		}
		return nil
	})

	logger.Info("feedbridge daemon running",
		"version", version.Info(),
		"socket", cfg.Paths.Socket,
		"environment", string(cfg.Environment),
		"session_format", cfg.Session.Format,
	)

	return group.Wait()
}

// sessionStore builds the store selected by session.format. Validate
// has already rejected any other value.
func sessionStore(cfg *config.Config) session.Store {
	if cfg.Session.Format == config.SessionFormatSealed {
		return session.NewSealedStore(cfg.Paths.SessionFile, cfg.Paths.CryptoStore)
	}
	return session.NewFileStore(cfg.Paths.SessionFile)
}
