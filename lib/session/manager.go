// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bureau-foundation/feedbridge/lib/clock"
	"github.com/bureau-foundation/feedbridge/lib/coordinator"
	"github.com/bureau-foundation/feedbridge/lib/matrixfeed"
	"github.com/bureau-foundation/feedbridge/lib/ref"
	"github.com/bureau-foundation/feedbridge/messaging"
)

// Config holds the parameters for NewManager.
type Config struct {
	Store Store

	// Homeserver is used for fresh logins whose credentials do not
	// name one.
	Homeserver string

	// StateStorePath is the SQLite sync cache. Empty disables it.
	StateStorePath string

	HTTPClient     *http.Client
	RequestTimeout time.Duration
	SyncTimeout    time.Duration
	MaxBackoff     time.Duration
	TimelineLimit  int
	Clock          clock.Clock
	Logger         *slog.Logger
}

// Manager establishes sessions for the coordinator.
type Manager struct {
	config Config
	logger *slog.Logger
}

var _ coordinator.Establisher = (*Manager)(nil)

// NewManager validates config.
func NewManager(config Config) (*Manager, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("session: Store is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{config: config, logger: logger}, nil
}

// Establish implements coordinator.Establisher.
func (m *Manager) Establish(ctx context.Context, credentials coordinator.Credentials) (coordinator.Client, coordinator.SyncEngine, error) {
	session, err := m.authenticate(ctx, credentials)
	if err != nil {
		return nil, nil, err
	}

	store, err := m.openStateStore()
	if err != nil {
		session.Close()
		return nil, nil, err
	}

	engine, err := matrixfeed.NewEngine(matrixfeed.Config{
		Session:       session,
		Store:         store,
		Clock:         m.config.Clock,
		Logger:        m.logger,
		SyncTimeout:   m.config.SyncTimeout,
		MaxBackoff:    m.config.MaxBackoff,
		TimelineLimit: m.config.TimelineLimit,
	})
	if err == nil {
		err = engine.Start(ctx)
	}
	if err != nil {
		if store != nil {
			store.Close()
		}
		session.Close()
		return nil, nil, coordinator.NewError(coordinator.KindProtocol, "start sync", err)
	}
	return matrixfeed.NewClient(engine, session, store), engine, nil
}

// authenticate returns a validated session, restoring the persisted
// one when possible.
func (m *Manager) authenticate(ctx context.Context, credentials coordinator.Credentials) (*messaging.DirectSession, error) {
	data, err := m.config.Store.Load()
	if err != nil {
		return nil, err
	}

	if data == nil {
		if !credentials.HasPassword() {
			return nil, coordinator.NewError(coordinator.KindSessionStore, "login",
				errors.New("no persisted session and no credentials supplied"))
		}
		return m.freshLogin(ctx, credentials)
	}

	session, err := m.restore(ctx, data)
	switch {
	case err == nil:
		m.logger.Info("restored session", "user_id", data.UserID, "device_id", data.DeviceID)
		return session, nil
	case messaging.IsTokenRejected(err) && credentials.HasPassword():
		m.logger.Warn("persisted session rejected, logging in again", "user_id", data.UserID, "error", err)
		return m.freshLogin(ctx, credentials)
	}
	return nil, err
}

// restore builds a session from data and checks it with whoami. On
// rejection the *messaging.MatrixError stays in the error chain.
func (m *Manager) restore(ctx context.Context, data *Data) (*messaging.DirectSession, error) {
	client, err := m.newClient(data.HomeserverURL)
	if err != nil {
		return nil, err
	}
	userID, err := ref.ParseUserID(data.UserID)
	if err != nil {
		return nil, coordinator.NewError(coordinator.KindSerialization, "restore session", err)
	}
	session, err := client.SessionFromToken(userID, data.DeviceID, data.AccessToken)
	if err != nil {
		return nil, coordinator.NewError(coordinator.KindIO, "restore session", err)
	}

	whoami, err := session.WhoAmI(ctx)
	if err != nil {
		session.Close()
		return nil, coordinator.NewError(coordinator.KindProtocol, "restore session", err)
	}
	if whoami != userID {
		session.Close()
		return nil, coordinator.NewError(coordinator.KindProtocol, "restore session",
			fmt.Errorf("token belongs to %s, session file names %s", whoami, userID))
	}
	return session, nil
}

func (m *Manager) freshLogin(ctx context.Context, credentials coordinator.Credentials) (*messaging.DirectSession, error) {
	homeserver := credentials.Homeserver
	if homeserver == "" {
		homeserver = m.config.Homeserver
	}
	client, err := m.newClient(homeserver)
	if err != nil {
		return nil, err
	}
	session, err := client.Login(ctx, credentials.Username, credentials.Password)
	if err != nil {
		return nil, coordinator.NewError(coordinator.KindProtocol, "login", err)
	}

	data := &Data{
		HomeserverURL: session.HomeserverURL(),
		UserID:        session.UserID().String(),
		DeviceID:      session.DeviceID(),
		AccessToken:   session.AccessToken(),
	}
	if err := m.config.Store.Save(data); err != nil {
		session.Close()
		return nil, err
	}
	m.logger.Info("logged in with password", "user_id", data.UserID, "device_id", data.DeviceID)
	return session, nil
}

func (m *Manager) newClient(homeserver string) (*messaging.Client, error) {
	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL:  homeserver,
		HTTPClient:     m.config.HTTPClient,
		RequestTimeout: m.config.RequestTimeout,
		Logger:         m.logger,
	})
	if err != nil {
		return nil, coordinator.NewError(coordinator.KindClientBuild, "build client", err)
	}
	return client, nil
}

func (m *Manager) openStateStore() (*matrixfeed.Store, error) {
	path := m.config.StateStorePath
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, coordinator.NewError(coordinator.KindIO, "open state store", err)
	}
	store, err := matrixfeed.OpenStore(path, m.logger)
	if err != nil {
		return nil, coordinator.NewError(coordinator.KindIO, "open state store", err)
	}
	return store, nil
}

// Forget invalidates the persisted session on the server, deletes it,
// and clears the sync cache. The server call is best effort: a
// session the server already dropped is still removed locally.
// Callers reset the coordinator first.
func (m *Manager) Forget(ctx context.Context) error {
	data, err := m.config.Store.Load()
	if err != nil {
		return err
	}
	if data != nil {
		if err := m.logout(ctx, data); err != nil {
			m.logger.Warn("server logout failed, removing local session anyway", "user_id", data.UserID, "error", err)
		}
	}
	if err := m.config.Store.Remove(); err != nil {
		return err
	}

	store, err := m.openStateStore()
	if err != nil || store == nil {
		return err
	}
	defer store.Close()
	if err := store.Clear(ctx); err != nil {
		return coordinator.NewError(coordinator.KindIO, "clear state store", err)
	}
	if data != nil {
		m.logger.Info("session forgotten", "user_id", data.UserID)
	}
	return nil
}

func (m *Manager) logout(ctx context.Context, data *Data) error {
	client, err := m.newClient(data.HomeserverURL)
	if err != nil {
		return err
	}
	userID, err := ref.ParseUserID(data.UserID)
	if err != nil {
		return err
	}
	session, err := client.SessionFromToken(userID, data.DeviceID, data.AccessToken)
	if err != nil {
		return err
	}
	defer session.Close()
	return session.Logout(ctx)
}
