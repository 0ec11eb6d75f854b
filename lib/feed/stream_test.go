// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/feedbridge/lib/testutil"
)

func TestStreamFIFO(t *testing.T) {
	stream := NewStream[int](nil)
	for i := range 100 {
		if !stream.Push(i) {
			t.Fatalf("Push(%d) refused", i)
		}
	}
	for i := range 100 {
		got, err := stream.Next(context.Background())
		if err != nil || got != i {
			t.Fatalf("Next() = %d, %v; want %d", got, err, i)
		}
	}
}

func TestStreamNextBlocksUntilPush(t *testing.T) {
	stream := NewStream[string](nil)
	results := make(chan string, 1)
	go func() {
		item, err := stream.Next(context.Background())
		if err != nil {
			t.Errorf("Next: %v", err)
		}
		results <- item
	}()

	testutil.RequireNoReceive(t, results, 20*time.Millisecond, "Next returned before Push")
	stream.Push("hello")
	if got := testutil.RequireReceive(t, results, 5*time.Second, "Next after Push"); got != "hello" {
		t.Errorf("got %q", got)
	}
}

func TestStreamCancelledNextKeepsItem(t *testing.T) {
	stream := NewStream[int](nil)
	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := stream.Next(ctx)
		errs <- err
	}()
	cancel()
	if err := testutil.RequireReceive(t, errs, 5*time.Second, "cancelled Next"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}

	stream.Push(7)
	if got, err := stream.Next(context.Background()); err != nil || got != 7 {
		t.Fatalf("Next() = %d, %v", got, err)
	}
}

func TestStreamFinishDrainsThenEnds(t *testing.T) {
	stream := NewStream[int](nil)
	stream.Push(1)
	stream.Finish()
	if stream.Push(2) {
		t.Error("Push after Finish accepted")
	}
	if got, err := stream.Next(context.Background()); err != nil || got != 1 {
		t.Fatalf("Next() = %d, %v", got, err)
	}
	if _, err := stream.Next(context.Background()); !errors.Is(err, ErrEndOfStream) {
		t.Fatalf("err = %v, want ErrEndOfStream", err)
	}
}

func TestStreamFinishWakesWaiter(t *testing.T) {
	stream := NewStream[int](nil)
	errs := make(chan error, 1)
	go func() {
		_, err := stream.Next(context.Background())
		errs <- err
	}()
	testutil.RequireNoReceive(t, errs, 20*time.Millisecond, "Next returned early")
	stream.Finish()
	if err := testutil.RequireReceive(t, errs, 5*time.Second, "Next after Finish"); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("err = %v", err)
	}
}

func TestStreamClose(t *testing.T) {
	closes := 0
	stream := NewStream[int](func() { closes++ })
	stream.Push(1)
	stream.Close()
	stream.Close()

	if closes != 1 {
		t.Errorf("onClose ran %d times", closes)
	}
	if stream.Len() != 0 {
		t.Errorf("Len() = %d after Close", stream.Len())
	}
	if stream.Push(2) {
		t.Error("Push after Close accepted")
	}
	if _, err := stream.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}
