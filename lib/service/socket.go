// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/feedbridge/lib/codec"
	"github.com/bureau-foundation/feedbridge/lib/coordinator"
	"github.com/bureau-foundation/feedbridge/lib/netutil"
)

const (
	// requestReadTimeout bounds the wait for a request after accept.
	requestReadTimeout = 30 * time.Second

	// responseWriteTimeout bounds writing the response envelope.
	responseWriteTimeout = 10 * time.Second

	// maxRequestSize caps one request. The largest legitimate request
	// is a send_message body.
	maxRequestSize = 1 << 20
)

// ActionFunc handles one action. raw is the whole request map,
// "action" included; the handler decodes its own fields from it.
//
// A nil result produces {ok: true} with no data. ctx ends when the
// server shuts down or the client hangs up, whichever comes first.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// Response is the envelope every request is answered with. Kind is
// set on failures that carry a coordinator.Kind.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Kind  string           `cbor:"kind,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// SocketServer answers one CBOR request per Unix socket connection.
// Register every action before Serve; Handle is not safe to call
// concurrently with it.
type SocketServer struct {
	socketPath string
	handlers   map[string]ActionFunc
	logger     *slog.Logger

	inFlight sync.WaitGroup
}

// NewSocketServer returns a server for socketPath. A nil logger
// discards.
func NewSocketServer(socketPath string, logger *slog.Logger) *SocketServer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SocketServer{
		socketPath: socketPath,
		handlers:   map[string]ActionFunc{},
		logger:     logger,
	}
}

// Handle binds action to handler. Registering an action twice is a
// programming error and panics.
func (s *SocketServer) Handle(action string, handler ActionFunc) {
	if _, taken := s.handlers[action]; taken {
		panic(fmt.Sprintf("service.SocketServer: action %q registered twice", action))
	}
	s.handlers[action] = handler
}

// Actions returns the registered action names in no particular order.
func (s *SocketServer) Actions() []string {
	actions := make([]string, 0, len(s.handlers))
	for action := range s.handlers {
		actions = append(actions, action)
	}
	return actions
}

// Serve listens until ctx ends, then waits for in-flight requests,
// whose contexts are cancelled too, before returning. A leftover
// socket file is replaced; the socket is removed on return.
func (s *SocketServer) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer os.Remove(s.socketPath)
	defer listener.Close()

	// Session control rides on this socket: owner only.
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		return fmt.Errorf("restricting socket permissions on %s: %w", s.socketPath, err)
	}

	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	s.logger.Info("socket server listening", "path", s.socketPath, "actions", len(s.handlers))
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}
		s.inFlight.Add(1)
		go func() {
			defer s.inFlight.Done()
			defer conn.Close()
			s.serveOne(ctx, conn)
		}()
	}
	s.inFlight.Wait()
	return nil
}

// serveOne reads a request from conn, runs its handler, and writes the
// response.
func (s *SocketServer) serveOne(ctx context.Context, conn net.Conn) {
	conn.SetReadDeadline(time.Now().Add(requestReadTimeout))
	action, raw, err := s.readRequest(conn)
	if errors.Is(err, io.EOF) {
		return
	}
	if err != nil {
		s.respond(conn, Response{Error: err.Error()})
		return
	}
	handler, ok := s.handlers[action]
	if !ok {
		s.respond(conn, Response{Error: fmt.Sprintf("unknown action %q", action)})
		return
	}

	// Clients send nothing after the request, so a read that returns
	// means the client hung up.
	requestCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	conn.SetReadDeadline(time.Time{})
	go watchHangup(conn, cancel)

	result, err := handler(requestCtx, raw)
	if err != nil {
		kind := coordinator.KindOf(err)
		s.logger.Debug("action failed", "action", action, "kind", string(kind), "error", err)
		s.respond(conn, Response{Error: err.Error(), Kind: string(kind)})
		return
	}

	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.logger.Error("encoding response", "action", action, "error", err)
			response = Response{
				Error: fmt.Sprintf("internal: marshaling response: %v", err),
				Kind:  string(coordinator.KindSerialization),
			}
		} else {
			response.Data = data
		}
	}
	s.respond(conn, response)
}

// readRequest decodes one CBOR value and pulls out its action. It
// returns io.EOF unchanged when the client sent nothing.
func (s *SocketServer) readRequest(conn net.Conn) (string, []byte, error) {
	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return "", nil, io.EOF
		}
		return "", nil, fmt.Errorf("invalid request: %w", err)
	}
	var envelope struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &envelope); err != nil {
		return "", nil, fmt.Errorf("invalid request: %w", err)
	}
	if envelope.Action == "" {
		return "", nil, errors.New("missing required field: action")
	}
	return envelope.Action, []byte(raw), nil
}

// watchHangup cancels once a read on conn returns, which happens when
// the client closes its end or when serveOne closes conn.
func watchHangup(conn net.Conn, cancel context.CancelFunc) {
	var buf [1]byte
	conn.Read(buf[:])
	cancel()
}

func (s *SocketServer) respond(conn net.Conn, response Response) {
	conn.SetWriteDeadline(time.Now().Add(responseWriteTimeout))
	err := codec.NewEncoder(conn).Encode(response)
	switch {
	case err == nil:
	case netutil.IsExpectedCloseError(err):
		s.logger.Debug("client went away before the response", "error", err)
	default:
		s.logger.Warn("failed to write response", "error", err)
	}
}
