// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/feedbridge/lib/feed"
	"github.com/bureau-foundation/feedbridge/lib/ref"
)

// eventLog records teardown ordering across fakes.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeEstablisher struct {
	client *fakeClient
	engine *fakeEngine
	err    error

	mu    sync.Mutex
	calls int
}

func (e *fakeEstablisher) Establish(_ context.Context, _ Credentials) (Client, SyncEngine, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, nil, e.err
	}
	return e.client, e.engine, nil
}

func (e *fakeEstablisher) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type fakeEngine struct {
	log *eventLog
}

func (e *fakeEngine) Stop(context.Context) error {
	e.log.add("engine.stop")
	return nil
}

type fakeClient struct {
	log      *eventLog
	userID   ref.UserID
	rooms    map[ref.RoomID]*fakeRoom
	roomList *fakeRoomList

	// When non-nil, Room signals entered and then waits on gate.
	entered chan struct{}
	gate    chan struct{}
}

func (c *fakeClient) UserID() ref.UserID { return c.userID }

func (c *fakeClient) Room(ctx context.Context, roomID ref.RoomID) (Room, error) {
	if c.gate != nil {
		close(c.entered)
		select {
		case <-c.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	room, ok := c.rooms[roomID]
	if !ok {
		return nil, NewError(KindNotFound, "room", errors.New(roomID.String()))
	}
	return room, nil
}

func (c *fakeClient) RoomList(context.Context) (RoomList, error) { return c.roomList, nil }

func (c *fakeClient) Close() error {
	c.log.add("client.close")
	return nil
}

type fakeRoom struct {
	id       ref.RoomID
	timeline *fakeTimeline
}

func (r *fakeRoom) ID() ref.RoomID { return r.id }

func (r *fakeRoom) Timeline(context.Context) (Timeline, error) { return r.timeline, nil }

func (r *fakeRoom) Info(context.Context) (feed.RoomInfo, error) {
	return feed.RoomInfo{RoomID: r.id.String()}, nil
}

func (r *fakeRoom) Send(context.Context, string) error { return nil }

type fakeTimeline struct {
	items []feed.TimelineItem

	mu          sync.Mutex
	initialized bool
	initCalls   int
	streams     []*feed.Stream[feed.TimelinePatch]
}

func (t *fakeTimeline) Initialized() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.initialized
}

func (t *fakeTimeline) Initialize(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.initCalls++
	t.initialized = true
	return nil
}

func (t *fakeTimeline) Subscribe(context.Context) ([]feed.TimelineItem, feed.Source[feed.TimelinePatch], error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	stream := feed.NewStream[feed.TimelinePatch](nil)
	t.streams = append(t.streams, stream)
	return append([]feed.TimelineItem(nil), t.items...), stream, nil
}

// latest returns the most recently handed-out stream.
func (t *fakeTimeline) latest() *feed.Stream[feed.TimelinePatch] {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.streams[len(t.streams)-1]
}

type fakeRoomList struct {
	entries []feed.RoomListEntry

	mu      sync.Mutex
	streams []*feed.Stream[feed.RoomListBatch]
}

func (l *fakeRoomList) Subscribe(context.Context) ([]feed.RoomListEntry, feed.Source[feed.RoomListBatch], error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stream := feed.NewStream[feed.RoomListBatch](nil)
	l.streams = append(l.streams, stream)
	return append([]feed.RoomListEntry(nil), l.entries...), stream, nil
}

func (l *fakeRoomList) latest() *feed.Stream[feed.RoomListBatch] {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.streams[len(l.streams)-1]
}

const testRoom = "!room1:example.org"

func message(id, body string) feed.TimelineItem {
	return feed.TimelineItem{Kind: feed.ItemEvent, EventID: id, Body: body}
}

// harness is a coordinator wired to fakes, already logged in.
type harness struct {
	coordinator *Coordinator
	establisher *fakeEstablisher
	client      *fakeClient
	timeline    *fakeTimeline
	roomList    *fakeRoomList
	log         *eventLog
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := &eventLog{}
	timeline := &fakeTimeline{items: []feed.TimelineItem{message("$a", "A"), message("$b", "B")}}
	roomList := &fakeRoomList{entries: []feed.RoomListEntry{{RoomID: testRoom, DisplayName: "Room one"}}}
	roomID := ref.MustParseRoomID(testRoom)
	client := &fakeClient{
		log:      log,
		userID:   ref.MustParseUserID("@alice:example.org"),
		rooms:    map[ref.RoomID]*fakeRoom{roomID: {id: roomID, timeline: timeline}},
		roomList: roomList,
	}
	establisher := &fakeEstablisher{client: client, engine: &fakeEngine{log: log}}
	h := &harness{
		coordinator: New(establisher, nil),
		establisher: establisher,
		client:      client,
		timeline:    timeline,
		roomList:    roomList,
		log:         log,
	}
	if err := h.coordinator.Login(testContext(t), Credentials{}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	return h
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

type result[P any] struct {
	unit P
	err  error
}

func pollTimelineAsync(ctx context.Context, c *Coordinator) <-chan result[feed.TimelinePatch] {
	ch := make(chan result[feed.TimelinePatch], 1)
	go func() {
		unit, err := c.PollTimeline(ctx)
		ch <- result[feed.TimelinePatch]{unit, err}
	}()
	return ch
}

func pollRoomListAsync(ctx context.Context, c *Coordinator) <-chan result[feed.RoomListBatch] {
	ch := make(chan result[feed.RoomListBatch], 1)
	go func() {
		unit, err := c.PollRoomList(ctx)
		ch <- result[feed.RoomListBatch]{unit, err}
	}()
	return ch
}

// waitForState spins until kind reaches want. A poll enters
// StatePolling only after its token is installed.
func waitForState(t *testing.T, c *Coordinator, kind FeedKind, want SlotState) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for c.State(kind) != want {
		if time.Now().After(deadline) {
			t.Fatalf("%s slot state = %s, want %s", kind, c.State(kind), want)
		}
		time.Sleep(time.Millisecond)
	}
}

// pollCycle returns the cycle number of kind's most recent poll.
func pollCycle(c *Coordinator, kind FeedKind) uint64 {
	return c.slots[kind].status().Cycles
}

func requireKind(t *testing.T, err error, want Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("error kind = %q, want %q (error: %v)", got, want, err)
	}
}
