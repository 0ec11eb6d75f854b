// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/bureau-foundation/feedbridge/lib/feed"
	"github.com/bureau-foundation/feedbridge/lib/testutil"
)

func newIntSlot() *slot[int, int] {
	return newSlot[int, int](FeedTimeline, slog.New(slog.DiscardHandler), func(int) bool { return false }, nil)
}

// A teardown that finds the slot unsubscribed while a subscribe is
// opening its source must still stop that subscribe from committing.
func TestTeardownDuringOpenAbortsSubscribe(t *testing.T) {
	s := newIntSlot()
	ctx := testContext(t)

	opened := make(chan struct{})
	proceed := make(chan struct{})
	var stream *feed.Stream[int]
	open := func(context.Context) ([]int, feed.Source[int], error) {
		stream = feed.NewStream[int](nil)
		close(opened)
		<-proceed
		return []int{1, 2}, stream, nil
	}
	valid := func() error { return nil }

	subscribed := make(chan error, 1)
	go func() {
		_, err := s.subscribe(ctx, "subscribe_timeline", testRoom, open, valid)
		subscribed <- err
	}()
	testutil.RequireClosed(t, opened, receiveTimeout, "subscribe never opened")

	if err := s.teardown(ctx, ""); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	close(proceed)

	err := testutil.RequireReceive(t, subscribed, receiveTimeout, "subscribe did not finish")
	requireKind(t, err, KindCancelled)
	if status := s.status(); status.State != StateUnsubscribed || status.FeedID != "" {
		t.Fatalf("status after aborted subscribe = %+v", status)
	}
	if _, err := stream.Next(ctx); !errors.Is(err, feed.ErrClosed) {
		t.Errorf("aborted subscribe left its source open: %v", err)
	}

	// The following subscribe is unaffected.
	fresh := func(context.Context) ([]int, feed.Source[int], error) {
		return []int{3}, feed.NewStream[int](nil), nil
	}
	items, err := s.subscribe(ctx, "subscribe_timeline", testRoom, fresh, valid)
	if err != nil {
		t.Fatalf("subscribe after abort: %v", err)
	}
	if len(items) != 1 || items[0] != 3 {
		t.Errorf("items = %v, want [3]", items)
	}
	if state := s.status().State; state != StateIdle {
		t.Errorf("state = %s, want %s", state, StateIdle)
	}
}

// valid is consulted again at commit, so a guard that starts failing
// while open runs discards the source.
func TestSubscribeRechecksGuardAtCommit(t *testing.T) {
	s := newIntSlot()
	ctx := testContext(t)

	failing := false
	valid := func() error {
		if failing {
			return &Error{Kind: KindNotLoggedIn, Op: "subscribe_timeline"}
		}
		return nil
	}
	var stream *feed.Stream[int]
	open := func(context.Context) ([]int, feed.Source[int], error) {
		stream = feed.NewStream[int](nil)
		failing = true
		return nil, stream, nil
	}

	_, err := s.subscribe(ctx, "subscribe_timeline", testRoom, open, valid)
	requireKind(t, err, KindNotLoggedIn)
	if state := s.status().State; state != StateUnsubscribed {
		t.Errorf("state = %s, want %s", state, StateUnsubscribed)
	}
	if _, err := stream.Next(ctx); !errors.Is(err, feed.ErrClosed) {
		t.Errorf("source not closed: %v", err)
	}
}

func TestCancelPollMatchesCycle(t *testing.T) {
	s := newIntSlot()
	ctx := testContext(t)
	stream := feed.NewStream[int](nil)
	open := func(context.Context) ([]int, feed.Source[int], error) { return nil, stream, nil }
	if _, err := s.subscribe(ctx, "subscribe_timeline", testRoom, open, func() error { return nil }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	type outcome struct {
		unit int
		err  error
	}
	pending := make(chan outcome, 1)
	go func() {
		unit, err := s.poll(ctx, "get_timeline_update")
		pending <- outcome{unit, err}
	}()
	deadline := time.Now().Add(receiveTimeout)
	for s.status().State != StatePolling {
		if time.Now().After(deadline) {
			t.Fatal("poll never installed its token")
		}
		time.Sleep(time.Millisecond)
	}
	cycle := s.status().Cycles

	if s.cancelPoll(cycle + 1) {
		t.Error("cancel for a future cycle reported success")
	}
	if s.cancelPoll(cycle - 1) {
		t.Error("cancel for a past cycle reported success")
	}
	testutil.RequireNoReceive(t, pending, quietWindow, "mismatched cancel released the poll")

	if !s.cancelPoll(cycle) {
		t.Fatal("cancel for the current cycle found no poll")
	}
	got := testutil.RequireReceive(t, pending, receiveTimeout, "cancelled poll did not return")
	requireKind(t, got.err, KindCancelled)
	if state := s.status().State; state != StateIdle {
		t.Errorf("state = %s after cancel, want %s", state, StateIdle)
	}
}
