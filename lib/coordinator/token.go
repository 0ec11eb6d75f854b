// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"errors"
)

// errPollCancelled is the cause recorded when a poll's token is
// triggered.
var errPollCancelled = errors.New("poll cancelled")

// CancelToken interrupts one blocking poll. A token is created right
// before the poll starts waiting and cleared right after it stops.
// Cycle numbers increase by one per poll on a slot.
type CancelToken struct {
	cycle  uint64
	ctx    context.Context
	cancel context.CancelCauseFunc
}

func newCancelToken(parent context.Context, cycle uint64) *CancelToken {
	ctx, cancel := context.WithCancelCause(parent)
	return &CancelToken{cycle: cycle, ctx: ctx, cancel: cancel}
}

// Cycle returns the poll cycle this token belongs to.
func (t *CancelToken) Cycle() uint64 { return t.cycle }

// Done is closed when the token is triggered or the poll's own
// context ends.
func (t *CancelToken) Done() <-chan struct{} { return t.ctx.Done() }

// Triggered reports whether the token itself was triggered, as
// opposed to the poll's parent context ending.
func (t *CancelToken) Triggered() bool {
	return errors.Is(context.Cause(t.ctx), errPollCancelled)
}

func (t *CancelToken) trigger() { t.cancel(errPollCancelled) }

// release frees the context resources. A cause recorded by an earlier
// trigger is kept.
func (t *CancelToken) release() { t.cancel(context.Canceled) }
