// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package matrixfeed

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/feedbridge/lib/clock"
	"github.com/bureau-foundation/feedbridge/lib/ref"
	"github.com/bureau-foundation/feedbridge/messaging"
)

// syncReply is one scripted /sync answer.
type syncReply struct {
	status int
	body   string
}

// fakeHomeserver serves the client-server endpoints the engine uses.
// Initial syncs (no timeout parameter) answer from initial; long polls
// take the next reply from replies or wait for the request to end.
type fakeHomeserver struct {
	t       *testing.T
	server  *httptest.Server
	replies chan syncReply

	mu       sync.Mutex
	initial  map[string]string // since token → body
	messages map[string]string // room ID → /messages body
	state    map[string]string // room ID → /state body
	members  map[string]string // room ID → /joined_members body
	since    []string
	sent     []map[string]any
}

func newFakeHomeserver(t *testing.T) *fakeHomeserver {
	t.Helper()
	h := &fakeHomeserver{
		t:        t,
		replies:  make(chan syncReply, 16),
		initial:  make(map[string]string),
		messages: make(map[string]string),
		state:    make(map[string]string),
		members:  make(map[string]string),
	}
	h.server = httptest.NewServer(http.HandlerFunc(h.serve))
	t.Cleanup(h.server.Close)
	return h
}

func (h *fakeHomeserver) serve(writer http.ResponseWriter, request *http.Request) {
	path := request.URL.Path
	switch {
	case path == "/_matrix/client/v3/sync":
		h.serveSync(writer, request)
		return
	case strings.HasPrefix(path, "/_matrix/client/v3/rooms/"):
		rest := strings.TrimPrefix(path, "/_matrix/client/v3/rooms/")
		roomID, endpoint, _ := strings.Cut(rest, "/")
		h.mu.Lock()
		defer h.mu.Unlock()
		var body string
		switch {
		case endpoint == "messages":
			body = h.messages[roomID]
		case endpoint == "state":
			body = h.state[roomID]
		case endpoint == "joined_members":
			body = h.members[roomID]
		case strings.HasPrefix(endpoint, "send/"):
			var content map[string]any
			data, _ := io.ReadAll(request.Body)
			if err := json.Unmarshal(data, &content); err != nil {
				h.t.Errorf("send body: %v", err)
			}
			h.sent = append(h.sent, content)
			body = `{"event_id":"$sent"}`
		}
		if body == "" {
			writer.WriteHeader(http.StatusNotFound)
			writer.Write([]byte(`{"errcode":"M_NOT_FOUND","error":"no fixture"}`))
			return
		}
		writer.Write([]byte(body))
		return
	}
	writer.WriteHeader(http.StatusNotFound)
	writer.Write([]byte(`{"errcode":"M_UNRECOGNIZED","error":"unknown endpoint"}`))
}

func (h *fakeHomeserver) serveSync(writer http.ResponseWriter, request *http.Request) {
	query := request.URL.Query()
	since := query.Get("since")
	h.mu.Lock()
	h.since = append(h.since, since)
	initial, ok := h.initial[since]
	h.mu.Unlock()

	if !query.Has("timeout") {
		if !ok {
			writer.WriteHeader(http.StatusBadRequest)
			writer.Write([]byte(`{"errcode":"M_UNKNOWN","error":"unknown since token"}`))
			return
		}
		writer.Write([]byte(initial))
		return
	}

	select {
	case reply := <-h.replies:
		if reply.status != 0 {
			writer.WriteHeader(reply.status)
		}
		writer.Write([]byte(reply.body))
	case <-request.Context().Done():
	}
}

func (h *fakeHomeserver) setInitial(since, body string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.initial[since] = body
}

func (h *fakeHomeserver) setMessages(roomID, body string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages[roomID] = body
}

func (h *fakeHomeserver) setState(roomID, body string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state[roomID] = body
}

func (h *fakeHomeserver) setMembers(roomID, body string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.members[roomID] = body
}

func (h *fakeHomeserver) sinceTokens() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.since...)
}

func (h *fakeHomeserver) sentMessages() []map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]map[string]any(nil), h.sent...)
}

func (h *fakeHomeserver) session(t *testing.T) *messaging.DirectSession {
	t.Helper()
	client, err := messaging.NewClient(messaging.ClientConfig{HomeserverURL: h.server.URL})
	if err != nil {
		t.Fatal(err)
	}
	session, err := client.SessionFromToken(ref.MustParseUserID("@alice:example.org"), "DEV", "syt_token")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

type engineOptions struct {
	store *Store
	clock clock.Clock
}

// startEngine starts an engine against h and stops it at cleanup.
func startEngine(t *testing.T, h *fakeHomeserver, options engineOptions) *Engine {
	t.Helper()
	engine, err := NewEngine(Config{
		Session:       h.session(t),
		Store:         options.store,
		Clock:         options.clock,
		SyncTimeout:   time.Second,
		TimelineLimit: 20,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := engine.Start(testContext(t)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { engine.Stop(context.Background()) })
	return engine
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

const initialTwoRooms = `{
	"next_batch": "s1",
	"rooms": {"join": {
		"!b:example.org": {
			"state": {"events": [
				{"type": "m.room.name", "state_key": "", "event_id": "$nb", "sender": "@bob:example.org", "content": {"name": "Beta"}}
			]},
			"summary": {"m.joined_member_count": 2},
			"timeline": {"events": []}
		},
		"!a:example.org": {
			"state": {"events": [
				{"type": "m.room.canonical_alias", "state_key": "", "event_id": "$ca", "sender": "@bob:example.org", "content": {"alias": "#alpha:example.org"}}
			]},
			"timeline": {"events": [
				{"type": "m.room.message", "event_id": "$a1", "sender": "@bob:example.org", "origin_server_ts": 10, "content": {"msgtype": "m.text", "body": "hello"}}
			]},
			"unread_notifications": {"notification_count": 1, "highlight_count": 0}
		}
	}}
}`
