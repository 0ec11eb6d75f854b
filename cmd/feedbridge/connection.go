// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/feedbridge/cmd/feedbridge/cli"
	"github.com/bureau-foundation/feedbridge/lib/codec"
	"github.com/bureau-foundation/feedbridge/lib/config"
	"github.com/bureau-foundation/feedbridge/lib/service"
)

// connection is the flag set every command shares: where the daemon
// is and how to print.
type connection struct {
	cli.JSONOutput

	socket     string
	configPath string
	verbose    bool
}

// stdout receives command output. Tests replace it.
var stdout io.Writer = os.Stdout

func (c *connection) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.socket, "socket", "", "daemon socket (default: paths.socket from the config)")
	flagSet.StringVar(&c.configPath, "config", "", "path to feedbridge.yaml (default: $"+config.EnvironmentVariable+")")
	flagSet.BoolVarP(&c.verbose, "verbose", "v", false, "log debug detail to stderr")
	c.AddOutputFlags(flagSet)
}

func (c *connection) client() (*service.ServiceClient, error) {
	socket := c.socket
	if socket == "" {
		cfg, err := config.LoadOrDefault(c.configPath)
		if err != nil {
			return nil, err
		}
		socket = cfg.Paths.Socket
	}
	return service.NewServiceClient(socket), nil
}

func (c *connection) out() io.Writer {
	return stdout
}

// call sends one request and returns the raw response envelope
// alongside the decoded result.
func (c *connection) call(ctx context.Context, action string, fields map[string]any, result any) (*service.Response, error) {
	client, err := c.client()
	if err != nil {
		return nil, err
	}
	logger := cli.NewCommandLogger(c.verbose)
	logger.Debug("calling daemon", "action", action, "socket", client.SocketPath())

	response, err := client.CallRaw(ctx, action, fields)
	if err != nil {
		return nil, err
	}
	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return nil, fmt.Errorf("decoding %s response: %w", action, err)
		}
	}
	return response, nil
}

// emit prints result under --json or the raw response under --raw,
// reporting whether it did.
func (c *connection) emit(response *service.Response, result any) (bool, error) {
	return c.Emit(c.out(), response.Data, result)
}
