// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/feedbridge/cmd/feedbridge/cli"
	"github.com/bureau-foundation/feedbridge/lib/codec"
	"github.com/bureau-foundation/feedbridge/lib/coordinator"
	"github.com/bureau-foundation/feedbridge/lib/feed"
	"github.com/bureau-foundation/feedbridge/lib/service"
	"github.com/bureau-foundation/feedbridge/lib/testutil"
)

// fakeDaemon serves canned responses on a real socket and records
// every request it receives.
type fakeDaemon struct {
	server     *service.SocketServer
	socketPath string

	mu       sync.Mutex
	requests []map[string]any
}

func newFakeDaemon(t *testing.T) *fakeDaemon {
	t.Helper()
	socketPath := filepath.Join(testutil.SocketDir(t), "daemon.sock")
	return &fakeDaemon{
		server:     service.NewSocketServer(socketPath, slog.New(slog.NewTextHandler(io.Discard, nil))),
		socketPath: socketPath,
	}
}

// handle registers a handler that records the decoded request.
func (d *fakeDaemon) handle(action string, handler func(ctx context.Context, request map[string]any) (any, error)) {
	d.server.Handle(action, func(ctx context.Context, raw []byte) (any, error) {
		var request map[string]any
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		d.mu.Lock()
		d.requests = append(d.requests, request)
		d.mu.Unlock()
		return handler(ctx, request)
	})
}

func (d *fakeDaemon) respond(action string, result any) {
	d.handle(action, func(context.Context, map[string]any) (any, error) { return result, nil })
}

func (d *fakeDaemon) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(d.socketPath); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("socket %s did not appear", d.socketPath)
}

// requestsFor returns the recorded requests naming action.
func (d *fakeDaemon) requestsFor(action string) []map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	var matched []map[string]any
	for _, request := range d.requests {
		if request["action"] == action {
			matched = append(matched, request)
		}
	}
	return matched
}

// run executes the command line against the daemon and returns what
// it printed.
func (d *fakeDaemon) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buffer bytes.Buffer
	previous := stdout
	stdout = &buffer
	defer func() { stdout = previous }()

	root := Root()
	root.HelpOutput = io.Discard
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := root.Execute(ctx, append(args, "--socket", d.socketPath))
	return buffer.String(), err
}

var loggedIn = statusView{
	Version:  "dev",
	LoggedIn: true,
	UserID:   "@alice:example.org",
	Slots:    []slotStatusView{{Feed: "timeline", State: "unsubscribed"}, {Feed: "room_list", State: "unsubscribed"}},
}

func TestLoginSendsPasswordFromFile(t *testing.T) {
	daemon := newFakeDaemon(t)
	daemon.respond("login", nil)
	daemon.respond("status", loggedIn)
	daemon.start(t)

	passwordPath := filepath.Join(t.TempDir(), "password")
	if err := os.WriteFile(passwordPath, []byte("hunter2\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	output, err := daemon.run(t, "login", "--homeserver", "https://matrix.example.org", "--username", "alice", "--password-file", passwordPath)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !strings.Contains(output, "logged in as @alice:example.org") {
		t.Errorf("output = %q", output)
	}

	requests := daemon.requestsFor("login")
	if len(requests) != 1 {
		t.Fatalf("got %d login requests, want 1", len(requests))
	}
	request := requests[0]
	if request["homeserver"] != "https://matrix.example.org" || request["username"] != "alice" {
		t.Errorf("login request = %v", request)
	}
	if request["password"] != "hunter2" {
		t.Errorf("password = %q, want the file contents without the trailing newline", request["password"])
	}
}

func TestLoginRestoreSendsNoCredentials(t *testing.T) {
	daemon := newFakeDaemon(t)
	daemon.respond("login", nil)
	daemon.respond("status", loggedIn)
	daemon.start(t)

	if _, err := daemon.run(t, "login"); err != nil {
		t.Fatalf("login: %v", err)
	}
	request := daemon.requestsFor("login")[0]
	for _, field := range []string{"username", "password", "homeserver"} {
		if _, ok := request[field]; ok {
			t.Errorf("restore request carries %q: %v", field, request)
		}
	}
}

func TestLoginPasswordFileRequiresUsername(t *testing.T) {
	daemon := newFakeDaemon(t)
	daemon.start(t)

	_, err := daemon.run(t, "login", "--password-file", "/dev/null")
	if !errors.Is(err, cli.ErrUsage) {
		t.Fatalf("err = %v, want a usage error", err)
	}
	if len(daemon.requestsFor("login")) != 0 {
		t.Error("login was sent despite the usage error")
	}
}

func TestStatusOutputModes(t *testing.T) {
	daemon := newFakeDaemon(t)
	daemon.respond("status", loggedIn)
	daemon.start(t)

	t.Run("text", func(t *testing.T) {
		output, err := daemon.run(t, "status")
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(output, "logged in @alice:example.org") {
			t.Errorf("output = %q", output)
		}
	})

	t.Run("json", func(t *testing.T) {
		output, err := daemon.run(t, "status", "--json")
		if err != nil {
			t.Fatal(err)
		}
		var decoded statusView
		if err := json.Unmarshal([]byte(output), &decoded); err != nil {
			t.Fatalf("output is not JSON: %v\n%s", err, output)
		}
		if decoded.UserID != "@alice:example.org" || len(decoded.Slots) != 2 {
			t.Errorf("decoded = %+v", decoded)
		}
	})

	t.Run("raw", func(t *testing.T) {
		output, err := daemon.run(t, "status", "--raw")
		if err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(output, "{") || !strings.Contains(output, `"user_id": "@alice:example.org"`) {
			t.Errorf("output = %q, want CBOR diagnostic notation", output)
		}
	})
}

func TestServiceErrorKeepsKind(t *testing.T) {
	daemon := newFakeDaemon(t)
	daemon.handle("reset", func(context.Context, map[string]any) (any, error) {
		return nil, coordinator.NewError(coordinator.KindNotLoggedIn, "reset", nil)
	})
	daemon.start(t)

	_, err := daemon.run(t, "reset")
	if !errors.Is(err, coordinator.ErrNotLoggedIn) {
		t.Fatalf("err = %v, want ErrNotLoggedIn", err)
	}
}

func TestUnknownCommandSuggests(t *testing.T) {
	daemon := newFakeDaemon(t)
	daemon.start(t)

	_, err := daemon.run(t, "timelin")
	if !errors.Is(err, cli.ErrUsage) {
		t.Fatalf("err = %v, want a usage error", err)
	}
	if !strings.Contains(err.Error(), `did you mean "timeline"`) {
		t.Errorf("err = %v, want a suggestion", err)
	}
}

func TestTimelineWatch(t *testing.T) {
	daemon := newFakeDaemon(t)
	daemon.respond("subscribe_timeline", []feed.TimelineItem{
		feed.TimelineStart(),
		{Kind: feed.ItemEvent, Sender: "@bob:example.org", Body: "morning"},
	})
	updates := []feed.TimelinePatch{
		feed.PushBack(feed.TimelineItem{Kind: feed.ItemEvent, Sender: "@carol:example.org", Body: "hi"}),
		feed.RemoveAt[feed.TimelineItem](0),
	}
	var next atomic.Int32
	daemon.handle("get_timeline_update", func(context.Context, map[string]any) (any, error) {
		return updates[next.Add(1)-1], nil
	})
	daemon.respond("unsubscribe_timeline", nil)
	daemon.start(t)

	output, err := daemon.run(t, "timeline", "watch", "!general:example.org", "--count", "2")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	for _, want := range []string{"start of room", "@bob:example.org morning", "@carol:example.org hi", "[0]"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}

	subscribe := daemon.requestsFor("subscribe_timeline")
	if len(subscribe) != 1 || subscribe[0]["room_id"] != "!general:example.org" {
		t.Errorf("subscribe requests = %v", subscribe)
	}
	unsubscribe := daemon.requestsFor("unsubscribe_timeline")
	if len(unsubscribe) != 1 || unsubscribe[0]["room_id"] != "!general:example.org" {
		t.Errorf("unsubscribe requests = %v, want one naming the room", unsubscribe)
	}
}

func TestRoomListWatchStopsWhenFeedEnds(t *testing.T) {
	daemon := newFakeDaemon(t)
	daemon.respond("subscribe_roomlist", []feed.RoomListEntry{{RoomID: "!general:example.org", DisplayName: "General"}})
	var polls atomic.Int32
	daemon.handle("get_roomlist_update", func(context.Context, map[string]any) (any, error) {
		if polls.Add(1) == 1 {
			return feed.RoomListBatch{feed.PushBack(feed.RoomListEntry{RoomID: "!ops:example.org", DisplayName: "Ops"})}, nil
		}
		return nil, coordinator.NewError(coordinator.KindStreamTerminated, "get_roomlist_update", nil)
	})
	daemon.respond("unsubscribe_roomlist", nil)
	daemon.start(t)

	output, err := daemon.run(t, "roomlist", "watch", "--keep")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	for _, want := range []string{"General !general:example.org", "Ops !ops:example.org", "feed ended"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
	if got := len(daemon.requestsFor("unsubscribe_roomlist")); got != 0 {
		t.Errorf("got %d unsubscribe requests under --keep, want 0", got)
	}
}

func TestNextTimeout(t *testing.T) {
	daemon := newFakeDaemon(t)
	released := make(chan struct{})
	daemon.handle("get_timeline_update", func(ctx context.Context, _ map[string]any) (any, error) {
		<-ctx.Done()
		close(released)
		return nil, ctx.Err()
	})
	daemon.start(t)

	output, err := daemon.run(t, "timeline", "next", "--timeout", "50ms")
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 1 {
		t.Fatalf("err = %v, want exit code 1", err)
	}
	if !strings.Contains(output, "no update within 50ms") {
		t.Errorf("output = %q", output)
	}
	testutil.RequireClosed(t, released, 5*time.Second, "daemon request was not cancelled by the timeout")
}

func TestCancelNamesCycle(t *testing.T) {
	polling := statusView{
		LoggedIn: true,
		Slots: []slotStatusView{
			{Feed: "timeline", State: "subscribed", Cycles: 2},
			{Feed: "room_list", State: "polling", Cycles: 4},
		},
	}
	newDaemon := func(t *testing.T) *fakeDaemon {
		daemon := newFakeDaemon(t)
		daemon.respond("status", polling)
		daemon.respond("cancel_timeline_update", cancelView{Cancelled: false})
		daemon.respond("cancel_roomlist_update", cancelView{Cancelled: true})
		daemon.start(t)
		return daemon
	}

	t.Run("explicit cycle", func(t *testing.T) {
		daemon := newDaemon(t)
		if _, err := daemon.run(t, "timeline", "cancel", "--cycle", "7"); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		requests := daemon.requestsFor("cancel_timeline_update")
		if len(requests) != 1 || requests[0]["cycle"] != uint64(7) {
			t.Errorf("cancel requests = %v, want one for cycle 7", requests)
		}
		if got := len(daemon.requestsFor("status")); got != 0 {
			t.Errorf("got %d status requests with --cycle, want 0", got)
		}
	})

	t.Run("pending cycle", func(t *testing.T) {
		daemon := newDaemon(t)
		output, err := daemon.run(t, "roomlist", "cancel")
		if err != nil {
			t.Fatalf("cancel: %v", err)
		}
		requests := daemon.requestsFor("cancel_roomlist_update")
		if len(requests) != 1 || requests[0]["cycle"] != uint64(4) {
			t.Errorf("cancel requests = %v, want one for cycle 4", requests)
		}
		if !strings.Contains(output, "cancelled update request 4") {
			t.Errorf("output = %q", output)
		}
	})

	t.Run("nothing pending", func(t *testing.T) {
		daemon := newDaemon(t)
		output, err := daemon.run(t, "timeline", "cancel")
		if err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if got := len(daemon.requestsFor("cancel_timeline_update")); got != 0 {
			t.Errorf("got %d cancel requests for an idle slot, want 0", got)
		}
		if !strings.Contains(output, "no update was pending") {
			t.Errorf("output = %q", output)
		}
	})
}

func TestRoomSend(t *testing.T) {
	daemon := newFakeDaemon(t)
	daemon.respond("send_message", nil)
	daemon.start(t)

	output, err := daemon.run(t, "room", "send", "!general:example.org", "deploy", "**finished**")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(output, "sent") {
		t.Errorf("output = %q", output)
	}
	requests := daemon.requestsFor("send_message")
	if len(requests) != 1 {
		t.Fatalf("got %d send requests, want 1", len(requests))
	}
	if requests[0]["room_id"] != "!general:example.org" || requests[0]["body"] != "deploy **finished**" {
		t.Errorf("send request = %v", requests[0])
	}
}

func TestRoomInfo(t *testing.T) {
	daemon := newFakeDaemon(t)
	daemon.respond("get_room_info", feed.RoomInfo{RoomID: "!general:example.org", Name: "General", JoinedMembers: 4})
	daemon.start(t)

	output, err := daemon.run(t, "room", "info", "!general:example.org")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if !strings.Contains(output, "General") || !strings.Contains(output, "members  4") {
		t.Errorf("output = %q", output)
	}
}

func TestMessageBody(t *testing.T) {
	path := filepath.Join(t.TempDir(), "body.md")
	if err := os.WriteFile(path, []byte("from a file\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		words    []string
		bodyFile string
		stdin    string
		want     string
		usage    bool
	}{
		{name: "words", words: []string{"hello", "there"}, want: "hello there"},
		{name: "file", bodyFile: path, want: "from a file"},
		{name: "stdin", bodyFile: "-", stdin: "piped\n\n", want: "piped"},
		{name: "both", words: []string{"hello"}, bodyFile: path, usage: true},
		{name: "neither", usage: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := messageBody(test.words, test.bodyFile, strings.NewReader(test.stdin))
			if test.usage {
				if !errors.Is(err, cli.ErrUsage) {
					t.Fatalf("err = %v, want a usage error", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != test.want {
				t.Errorf("body = %q, want %q", got, test.want)
			}
		})
	}
}
