// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"errors"
	"fmt"
)

// Kind classifies a failure crossing the command boundary. The string
// values are part of the socket protocol.
type Kind string

const (
	KindIO                Kind = "io"
	KindSessionStore      Kind = "session_store"
	KindProtocol          Kind = "protocol"
	KindSerialization     Kind = "serialization"
	KindClientBuild       Kind = "client_build"
	KindInvalidIdentifier Kind = "invalid_identifier"
	KindCancelled         Kind = "cancelled"
	KindNotFound          Kind = "not_found"
	KindAlreadySubscribed Kind = "already_subscribed"
	KindNotSubscribed     Kind = "not_subscribed"
	KindStreamTerminated  Kind = "stream_terminated"
	KindAlreadyLoggedIn   Kind = "already_logged_in"
	KindNotLoggedIn       Kind = "not_logged_in"
)

var kindText = map[Kind]string{
	KindIO:                "I/O error",
	KindSessionStore:      "session store error",
	KindProtocol:          "protocol error",
	KindSerialization:     "serialization error",
	KindClientBuild:       "cannot build client",
	KindInvalidIdentifier: "invalid identifier",
	KindCancelled:         "cancelled",
	KindNotFound:          "not found",
	KindAlreadySubscribed: "already subscribed",
	KindNotSubscribed:     "not subscribed",
	KindStreamTerminated:  "stream terminated",
	KindAlreadyLoggedIn:   "already logged in",
	KindNotLoggedIn:       "not logged in",
}

// Known reports whether k is one of the defined kinds.
func (k Kind) Known() bool {
	_, ok := kindText[k]
	return ok
}

// Error is a classified failure. Op names the operation that failed
// ("subscribe_timeline", "login"); Err is the underlying cause and may
// be nil.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	text := kindText[e.Kind]
	if text == "" {
		text = string(e.Kind)
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, text, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, text)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", text, e.Err)
	}
	return text
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind, so errors.Is(err, ErrCancelled) holds
// for every cancelled failure regardless of Op or cause.
func (e *Error) Is(target error) bool {
	sentinel, ok := target.(*Error)
	return ok && sentinel.Op == "" && sentinel.Err == nil && sentinel.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrIO                = &Error{Kind: KindIO}
	ErrSessionStore      = &Error{Kind: KindSessionStore}
	ErrProtocol          = &Error{Kind: KindProtocol}
	ErrSerialization     = &Error{Kind: KindSerialization}
	ErrClientBuild       = &Error{Kind: KindClientBuild}
	ErrInvalidIdentifier = &Error{Kind: KindInvalidIdentifier}
	ErrCancelled         = &Error{Kind: KindCancelled}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrAlreadySubscribed = &Error{Kind: KindAlreadySubscribed}
	ErrNotSubscribed     = &Error{Kind: KindNotSubscribed}
	ErrStreamTerminated  = &Error{Kind: KindStreamTerminated}
	ErrAlreadyLoggedIn   = &Error{Kind: KindAlreadyLoggedIn}
	ErrNotLoggedIn       = &Error{Kind: KindNotLoggedIn}
)

// NewError returns an *Error. Collaborators use it to tag failures at
// their boundary.
func NewError(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or ""
// when there is none.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return ""
}

// tag returns err unchanged when it already carries a kind, and wraps
// it with fallback otherwise.
func tag(fallback Kind, op string, err error) error {
	if KindOf(err) != "" {
		return err
	}
	return &Error{Kind: fallback, Op: op, Err: err}
}
