// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"testing"
)

type failReader struct{}

func (failReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestReadResponse(t *testing.T) {
	data, err := ReadResponse(strings.NewReader(`{"next_batch":"s1"}`))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"next_batch":"s1"}` {
		t.Errorf("got %q", data)
	}
	if _, err := ReadResponse(failReader{}); err == nil {
		t.Error("expected read error to propagate")
	}
}

func TestDecodeResponse(t *testing.T) {
	var decoded struct {
		UserID string `json:"user_id"`
	}
	if err := DecodeResponse(strings.NewReader(`{"user_id":"@a:b"}`), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.UserID != "@a:b" {
		t.Errorf("user_id = %q", decoded.UserID)
	}
	if err := DecodeResponse(strings.NewReader(`{`), &decoded); err == nil {
		t.Error("expected error for truncated JSON")
	}
}

func TestErrorBody(t *testing.T) {
	if got := ErrorBody(strings.NewReader("bad gateway")); got != "bad gateway" {
		t.Errorf("got %q", got)
	}
	if got := ErrorBody(failReader{}); got != "" {
		t.Errorf("got %q from failing reader", got)
	}
}

func TestIsExpectedCloseError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{io.EOF, true},
		{fmt.Errorf("reading request: %w", io.ErrUnexpectedEOF), true},
		{net.ErrClosed, true},
		{&net.OpError{Op: "write", Err: syscall.EPIPE}, true},
		{syscall.ECONNRESET, true},
		{errors.New("protocol violation"), false},
	}
	for _, test := range tests {
		if got := IsExpectedCloseError(test.err); got != test.want {
			t.Errorf("IsExpectedCloseError(%v) = %v, want %v", test.err, got, test.want)
		}
	}
}
