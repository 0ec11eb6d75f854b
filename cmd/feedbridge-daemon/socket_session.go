// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/feedbridge/lib/coordinator"
	"github.com/bureau-foundation/feedbridge/lib/secret"
	"github.com/bureau-foundation/feedbridge/lib/version"
)

// loginRequest carries optional credentials. With all fields empty the
// daemon restores the persisted session.
type loginRequest struct {
	Homeserver string `cbor:"homeserver"`
	Username   string `cbor:"username"`
	Password   string `cbor:"password"`
}

func (d *Daemon) handleLogin(ctx context.Context, raw []byte) (any, error) {
	var request loginRequest
	if err := decodeRequest("login", raw, &request); err != nil {
		return nil, err
	}

	credentials := coordinator.Credentials{
		Homeserver: request.Homeserver,
		Username:   request.Username,
	}
	if request.Password != "" {
		password, err := secret.NewFromString(request.Password)
		if err != nil {
			return nil, coordinator.NewError(coordinator.KindIO, "login", fmt.Errorf("protecting password: %w", err))
		}
		defer password.Close()
		credentials.Password = password
	}

	if err := d.coordinator.Login(ctx, credentials); err != nil {
		return nil, err
	}
	return nil, nil
}

func (d *Daemon) handleReset(ctx context.Context, raw []byte) (any, error) {
	return nil, d.coordinator.ResetAll(ctx)
}

// handleLogout resets and then deletes the persisted session, so the
// next login needs credentials.
func (d *Daemon) handleLogout(ctx context.Context, raw []byte) (any, error) {
	resetErr := d.coordinator.ResetAll(ctx)
	forgetErr := d.sessions.Forget(ctx)
	return nil, errors.Join(resetErr, forgetErr)
}

type slotStatusResponse struct {
	Feed           string `cbor:"feed"`
	State          string `cbor:"state"`
	FeedID         string `cbor:"feed_id,omitempty"`
	SnapshotLength int    `cbor:"snapshot_length"`
	Cycles         uint64 `cbor:"cycles"`
}

type statusResponse struct {
	Version       string               `cbor:"version"`
	UptimeSeconds float64              `cbor:"uptime_seconds"`
	LoggedIn      bool                 `cbor:"logged_in"`
	UserID        string               `cbor:"user_id,omitempty"`
	Slots         []slotStatusResponse `cbor:"slots"`
}

func (d *Daemon) handleStatus(ctx context.Context, raw []byte) (any, error) {
	status, err := d.coordinator.Status(ctx)
	if err != nil {
		return nil, err
	}
	response := statusResponse{
		Version:       version.Info(),
		UptimeSeconds: d.clock.Now().Sub(d.startedAt).Seconds(),
		LoggedIn:      status.LoggedIn,
		Slots:         make([]slotStatusResponse, 0, len(status.Slots)),
	}
	if status.LoggedIn {
		response.UserID = status.UserID.String()
	}
	for _, slot := range status.Slots {
		response.Slots = append(response.Slots, slotStatusResponse{
			Feed:           slot.Kind.String(),
			State:          string(slot.State),
			FeedID:         slot.FeedID,
			SnapshotLength: slot.SnapshotLength,
			Cycles:         slot.Cycles,
		})
	}
	return response, nil
}
