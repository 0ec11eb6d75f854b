// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/feedbridge/lib/clock"
	"github.com/bureau-foundation/feedbridge/lib/coordinator"
	"github.com/bureau-foundation/feedbridge/lib/feed"
	"github.com/bureau-foundation/feedbridge/lib/ref"
	"github.com/bureau-foundation/feedbridge/lib/service"
	"github.com/bureau-foundation/feedbridge/lib/testutil"
)

const (
	testRoomID  = "!general:example.org"
	testOtherID = "!random:example.org"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeEstablisher struct {
	mu          sync.Mutex
	client      *fakeClient
	engine      *fakeEngine
	err         error
	credentials []coordinator.Credentials
	passwords   []string
}

func (e *fakeEstablisher) Establish(ctx context.Context, credentials coordinator.Credentials) (coordinator.Client, coordinator.SyncEngine, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.credentials = append(e.credentials, credentials)
	password := ""
	if credentials.Password != nil {
		password = credentials.Password.String()
	}
	e.passwords = append(e.passwords, password)
	if e.err != nil {
		return nil, nil, e.err
	}
	return e.client, e.engine, nil
}

type fakeEngine struct {
	mu      sync.Mutex
	stopped int
}

func (e *fakeEngine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped++
	return nil
}

type fakeClient struct {
	mu       sync.Mutex
	userID   ref.UserID
	rooms    map[string]*fakeRoom
	roomList *fakeRoomList
	closed   int
}

func (c *fakeClient) UserID() ref.UserID { return c.userID }

func (c *fakeClient) Room(ctx context.Context, roomID ref.RoomID) (coordinator.Room, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	room, exists := c.rooms[roomID.String()]
	if !exists {
		return nil, coordinator.NewError(coordinator.KindNotFound, "room", fmt.Errorf("%s is not joined", roomID))
	}
	return room, nil
}

func (c *fakeClient) RoomList(ctx context.Context) (coordinator.RoomList, error) {
	return c.roomList, nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

type fakeRoom struct {
	id       ref.RoomID
	info     feed.RoomInfo
	timeline *fakeTimeline

	mu   sync.Mutex
	sent []string
}

func (r *fakeRoom) ID() ref.RoomID { return r.id }

func (r *fakeRoom) Timeline(ctx context.Context) (coordinator.Timeline, error) {
	return r.timeline, nil
}

func (r *fakeRoom) Info(ctx context.Context) (feed.RoomInfo, error) { return r.info, nil }

func (r *fakeRoom) Send(ctx context.Context, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, body)
	return nil
}

func (r *fakeRoom) sentMessages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

type fakeTimeline struct {
	mu          sync.Mutex
	initialized bool
	items       []feed.TimelineItem
	stream      *feed.Stream[feed.TimelinePatch]
}

func (t *fakeTimeline) Initialized() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.initialized
}

func (t *fakeTimeline) Initialize(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.initialized = true
	return nil
}

func (t *fakeTimeline) Subscribe(ctx context.Context) ([]feed.TimelineItem, feed.Source[feed.TimelinePatch], error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stream = feed.NewStream[feed.TimelinePatch](nil)
	return append([]feed.TimelineItem(nil), t.items...), t.stream, nil
}

func (t *fakeTimeline) push(patch feed.TimelinePatch) {
	t.mu.Lock()
	stream := t.stream
	t.mu.Unlock()
	stream.Push(patch)
}

type fakeRoomList struct {
	mu      sync.Mutex
	entries []feed.RoomListEntry
	stream  *feed.Stream[feed.RoomListBatch]
}

func (l *fakeRoomList) Subscribe(ctx context.Context) ([]feed.RoomListEntry, feed.Source[feed.RoomListBatch], error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stream = feed.NewStream[feed.RoomListBatch](nil)
	return append([]feed.RoomListEntry(nil), l.entries...), l.stream, nil
}

func (l *fakeRoomList) push(batch feed.RoomListBatch) {
	l.mu.Lock()
	stream := l.stream
	l.mu.Unlock()
	stream.Push(batch)
}

type fakeForgetter struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeForgetter) Forget(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

func event(id, body string) feed.TimelineItem {
	return feed.TimelineItem{Kind: feed.ItemEvent, EventID: id, Sender: "@alice:example.org", Body: body}
}

// testEnv is a daemon serving fakes on a real socket.
type testEnv struct {
	daemon      *Daemon
	client      *service.ServiceClient
	establisher *fakeEstablisher
	engine      *fakeEngine
	matrix      *fakeClient
	general     *fakeRoom
	forgetter   *fakeForgetter
	clock       *clock.FakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	timeline := &fakeTimeline{items: []feed.TimelineItem{feed.TimelineStart(), event("$1", "first")}}
	general := &fakeRoom{
		id:       ref.MustParseRoomID(testRoomID),
		info:     feed.RoomInfo{RoomID: testRoomID, Name: "General", JoinedMembers: 3},
		timeline: timeline,
	}
	matrix := &fakeClient{
		userID: ref.MustParseUserID("@alice:example.org"),
		rooms:  map[string]*fakeRoom{testRoomID: general},
		roomList: &fakeRoomList{entries: []feed.RoomListEntry{
			{RoomID: testRoomID, DisplayName: "General"},
		}},
	}
	engine := &fakeEngine{}
	establisher := &fakeEstablisher{client: matrix, engine: engine}
	forgetter := &fakeForgetter{}
	fakeClock := clock.Fake(testEpoch)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	daemon := newDaemon(coordinator.New(establisher, logger), forgetter, fakeClock, logger)

	socketPath := filepath.Join(testutil.SocketDir(t), "feedbridge.sock")
	server := service.NewSocketServer(socketPath, logger)
	daemon.registerActions(server)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	waitForSocket(t, socketPath)

	return &testEnv{
		daemon:      daemon,
		client:      service.NewServiceClient(socketPath),
		establisher: establisher,
		engine:      engine,
		matrix:      matrix,
		general:     general,
		forgetter:   forgetter,
		clock:       fakeClock,
	}
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err := service.NewServiceClient(path).Call(context.Background(), "status", nil, nil); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("daemon socket %s never answered", path)
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func (env *testEnv) call(t *testing.T, action string, fields map[string]any, result any) error {
	t.Helper()
	return env.client.Call(testContext(t), action, fields, result)
}

func (env *testEnv) mustCall(t *testing.T, action string, fields map[string]any, result any) {
	t.Helper()
	if err := env.call(t, action, fields, result); err != nil {
		t.Fatalf("%s: %v", action, err)
	}
}

func (env *testEnv) login(t *testing.T) {
	t.Helper()
	env.mustCall(t, "login", map[string]any{"username": "alice", "password": "hunter2"}, nil)
}

func (env *testEnv) status(t *testing.T) statusResponse {
	t.Helper()
	var status statusResponse
	env.mustCall(t, "status", nil, &status)
	return status
}

// waitForSlot polls status until feed reaches state.
func (env *testEnv) waitForSlot(t *testing.T, feedName, state string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, slot := range env.status(t).Slots {
			if slot.Feed == feedName && slot.State == state {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s slot never reached %s", feedName, state)
}

// slotCycles returns the cycle count status reports for feed.
func (env *testEnv) slotCycles(t *testing.T, feedName string) uint64 {
	t.Helper()
	for _, slot := range env.status(t).Slots {
		if slot.Feed == feedName {
			return slot.Cycles
		}
	}
	t.Fatalf("status has no %s slot", feedName)
	return 0
}

func requireKind(t *testing.T, err error, want coordinator.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("error = nil, want kind %q", want)
	}
	if got := coordinator.KindOf(err); got != want {
		t.Fatalf("kind = %q, want %q (error: %v)", got, want, err)
	}
}

func (e *fakeEstablisher) calls() ([]coordinator.Credentials, []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]coordinator.Credentials(nil), e.credentials...), append([]string(nil), e.passwords...)
}

func (e *fakeEstablisher) fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

func (e *fakeEngine) stops() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

func (c *fakeClient) closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (f *fakeForgetter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
