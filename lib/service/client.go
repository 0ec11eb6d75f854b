// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/bureau-foundation/feedbridge/lib/codec"
	"github.com/bureau-foundation/feedbridge/lib/coordinator"
)

// dialTimeout is the maximum time to wait for a connection to the
// service socket. It covers only the connect phase.
const dialTimeout = 5 * time.Second

// maxResponseSize is the maximum size of a single CBOR response. A
// timeline snapshot is the largest payload the daemon sends.
const maxResponseSize = 16 * 1024 * 1024

// ServiceError is returned by Call when the server responds with
// ok=false. It carries the server's message and error kind. When the
// kind is one the coordinator defines, errors.Is matches the
// corresponding coordinator sentinel and coordinator.KindOf reports
// it.
type ServiceError struct {
	Action  string
	Message string
	Kind    coordinator.Kind
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service error on %q: %s", e.Action, e.Message)
}

// Unwrap exposes the kind as a *coordinator.Error.
func (e *ServiceError) Unwrap() error {
	if !e.Kind.Known() {
		return nil
	}
	return coordinator.NewError(e.Kind, e.Action, errors.New(e.Message))
}

// ServiceClient sends CBOR requests to the daemon socket. Each Call
// opens a new connection (matching the server's one-request-per-
// connection model), sends the request, reads the response, and
// closes the connection.
type ServiceClient struct {
	socketPath string
}

// NewServiceClient returns a client for the socket at socketPath.
// Nothing is dialled until Call.
func NewServiceClient(socketPath string) *ServiceClient {
	return &ServiceClient{socketPath: socketPath}
}

// SocketPath returns the socket the client dials.
func (c *ServiceClient) SocketPath() string {
	return c.socketPath
}

// Call sends a CBOR request to the service and decodes the response.
//
// The fields parameter may contain any handler-specific request
// fields; the client adds "action" automatically. Pass nil for
// actions that take no additional parameters.
//
// Call waits for as long as the server takes unless ctx ends first.
// Ending ctx closes the connection, which cancels the request on the
// server side.
//
// On success, if result is non-nil and the response contains data,
// the data is CBOR-decoded into result. On failure, returns a
// *ServiceError. Connection and encoding errors are returned as plain
// errors.
func (c *ServiceClient) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	response, err := c.CallRaw(ctx, action, fields)
	if err != nil {
		return err
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}

	return nil
}

// CallRaw is Call without decoding: the response envelope is returned
// as received so the caller can inspect the raw data.
func (c *ServiceClient) CallRaw(ctx context.Context, action string, fields map[string]any) (*Response, error) {
	request := buildRequest(action, fields)

	response, err := c.send(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}

	if !response.OK {
		return nil, &ServiceError{
			Action:  action,
			Message: response.Error,
			Kind:    coordinator.Kind(response.Kind),
		}
	}
	return response, nil
}

// buildRequest constructs the CBOR request map from the caller's
// fields plus "action".
func buildRequest(action string, fields map[string]any) map[string]any {
	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action
	return request
}

// send connects to the socket, writes the request, and reads the
// response. Each call creates a new connection.
//
// The write side is left open. The server treats EOF on the
// connection as the client hanging up. There is no read deadline of
// its own: ctx ending closes the connection.
func (c *ServiceClient) send(ctx context.Context, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", contextCause(ctx, err))
	}

	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", contextCause(ctx, err))
	}

	return &response, nil
}

// contextCause prefers ctx's error over the I/O error its
// cancellation produced.
func contextCause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
