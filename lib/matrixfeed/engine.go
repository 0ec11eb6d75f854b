// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package matrixfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/feedbridge/lib/clock"
	"github.com/bureau-foundation/feedbridge/lib/feed"
	"github.com/bureau-foundation/feedbridge/lib/ref"
	"github.com/bureau-foundation/feedbridge/messaging"
)

// ErrStopped is returned for feed requests after Stop.
var ErrStopped = errors.New("matrixfeed: sync engine stopped")

// Session is the part of *messaging.DirectSession the engine uses.
type Session interface {
	UserID() ref.UserID
	Sync(ctx context.Context, options messaging.SyncOptions) (*messaging.SyncResponse, error)
	RoomMessages(ctx context.Context, roomID ref.RoomID, options messaging.RoomMessagesOptions) (*messaging.RoomMessagesResponse, error)
	GetRoomState(ctx context.Context, roomID ref.RoomID) ([]messaging.Event, error)
	JoinedMembers(ctx context.Context, roomID ref.RoomID) (map[string]messaging.JoinedMember, error)
	SendMessage(ctx context.Context, roomID ref.RoomID, content messaging.MessageContent) (ref.EventID, error)
	CloseIdleConnections()
	Close() error
}

// Config holds the parameters for NewEngine.
type Config struct {
	Session Session

	// Store caches the sync position between runs. Nil disables the
	// cache and every start performs a full initial sync.
	Store *Store

	// Clock drives retry backoff. Defaults to clock.Real().
	Clock clock.Clock

	Logger *slog.Logger

	// SyncTimeout is the /sync long-poll duration. Default 30s.
	SyncTimeout time.Duration

	// MaxBackoff caps the retry delay after a failed /sync. The delay
	// starts at one second and doubles. Default 30s.
	MaxBackoff time.Duration

	// TimelineLimit is the number of events loaded when a timeline is
	// first opened and requested per room from /sync. Default 50.
	TimelineLimit int
}

// Engine runs the /sync loop and maintains room list and timeline
// state for every joined room. Changes are published as patches to
// the subscribed streams.
type Engine struct {
	session       Session
	store         *Store
	clock         clock.Clock
	logger        *slog.Logger
	syncTimeout   time.Duration
	maxBackoff    time.Duration
	timelineLimit int
	filter        string

	mu              sync.Mutex
	rooms           map[ref.RoomID]*roomState
	order           []ref.RoomID
	roomListStreams map[*feed.Stream[feed.RoomListBatch]]struct{}
	since           string
	started         bool
	stopped         bool
	cancel          context.CancelFunc
	done            chan struct{}
}

// NewEngine validates config. No I/O happens until Start.
func NewEngine(config Config) (*Engine, error) {
	if config.Session == nil {
		return nil, fmt.Errorf("matrixfeed: Session is required")
	}
	engine := &Engine{
		session:         config.Session,
		store:           config.Store,
		clock:           config.Clock,
		logger:          config.Logger,
		syncTimeout:     config.SyncTimeout,
		maxBackoff:      config.MaxBackoff,
		timelineLimit:   config.TimelineLimit,
		rooms:           make(map[ref.RoomID]*roomState),
		roomListStreams: make(map[*feed.Stream[feed.RoomListBatch]]struct{}),
	}
	if engine.clock == nil {
		engine.clock = clock.Real()
	}
	if engine.logger == nil {
		engine.logger = slog.Default()
	}
	if engine.syncTimeout <= 0 {
		engine.syncTimeout = 30 * time.Second
	}
	if engine.maxBackoff <= 0 {
		engine.maxBackoff = 30 * time.Second
	}
	if engine.timelineLimit <= 0 {
		engine.timelineLimit = 50
	}

	filter, err := json.Marshal(map[string]any{
		"room": map[string]any{
			"timeline": map[string]any{"limit": engine.timelineLimit},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("matrixfeed: encoding sync filter: %w", err)
	}
	engine.filter = string(filter)
	return engine, nil
}

// Start performs the initial sync and launches the incremental loop.
// The loop outlives ctx; Stop ends it. A cached sync position is
// resumed when the store holds one for this user.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("matrixfeed: engine already started")
	}
	e.started = true
	e.mu.Unlock()

	since := e.loadCache(ctx)

	response, err := e.session.Sync(ctx, messaging.SyncOptions{Since: since, Filter: e.filter})
	if err != nil && since != "" && isStalePosition(err) {
		e.logger.Warn("cached sync position rejected, starting a full sync", "error", err)
		e.mu.Lock()
		e.rooms = make(map[ref.RoomID]*roomState)
		e.order = nil
		e.mu.Unlock()
		response, err = e.session.Sync(ctx, messaging.SyncOptions{Filter: e.filter})
	}
	if err != nil {
		return fmt.Errorf("initial sync: %w", err)
	}

	e.mu.Lock()
	e.applyLocked(response)
	rooms := len(e.order)
	e.mu.Unlock()
	e.persist(ctx)

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.mu.Lock()
	e.cancel = cancel
	e.done = done
	e.mu.Unlock()

	e.logger.Info("initial sync complete",
		"user_id", e.session.UserID().String(),
		"rooms", rooms,
		"resumed", since != "",
	)
	go func() {
		defer close(done)
		e.run(loopCtx)
	}()
	return nil
}

// Stop ends the sync loop, waits for it, and terminates every
// subscription: timelines reach end of stream and room lists receive
// one empty batch. Idempotent.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("matrixfeed: waiting for sync loop: %w", ctx.Err())
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil
	}
	e.stopped = true
	for _, room := range e.rooms {
		room.finishTimelines()
	}
	for stream := range e.roomListStreams {
		stream.Push(feed.RoomListBatch{})
		stream.Finish()
	}
	e.logger.Info("sync engine stopped")
	return nil
}

// run is the incremental /sync loop. Transient failures back off
// exponentially from one second to maxBackoff.
func (e *Engine) run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		e.mu.Lock()
		since := e.since
		e.mu.Unlock()

		response, err := e.session.Sync(ctx, messaging.SyncOptions{
			Since:      since,
			Timeout:    int(e.syncTimeout / time.Millisecond),
			SetTimeout: true,
			Filter:     e.filter,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Error("sync failed, retrying", "error", err, "backoff", backoff)
			e.session.CloseIdleConnections()
			select {
			case <-ctx.Done():
				return
			case <-e.clock.After(backoff):
			}
			backoff = min(backoff*2, e.maxBackoff)
			continue
		}
		backoff = time.Second

		e.mu.Lock()
		batch := e.applyLocked(response)
		if len(batch) > 0 {
			for stream := range e.roomListStreams {
				stream.Push(batch)
			}
		}
		e.mu.Unlock()
		e.persist(ctx)
	}
}

// loadCache seeds the room list from the store and returns the cached
// since token.
func (e *Engine) loadCache(ctx context.Context) string {
	if e.store == nil {
		return ""
	}
	since, summaries, err := e.store.Load(ctx, e.session.UserID())
	if err != nil {
		e.logger.Warn("state cache unreadable, starting a full sync", "error", err)
		return ""
	}
	if since == "" {
		return ""
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, summary := range summaries {
		room, err := roomFromSummary(summary)
		if err != nil {
			e.logger.Warn("invalid cached room, starting a full sync", "room_id", summary.RoomID, "error", err)
			e.rooms = make(map[ref.RoomID]*roomState)
			e.order = nil
			return ""
		}
		e.rooms[room.id] = room
		e.order = append(e.order, room.id)
	}
	return since
}

func (e *Engine) persist(ctx context.Context) {
	if e.store == nil {
		return
	}
	e.mu.Lock()
	since := e.since
	summaries := make([]RoomSummary, 0, len(e.order))
	for position, id := range e.order {
		summaries = append(summaries, e.rooms[id].summary(position))
	}
	e.mu.Unlock()

	if err := e.store.Save(ctx, e.session.UserID(), since, summaries); err != nil && ctx.Err() == nil {
		e.logger.Warn("saving state cache failed", "error", err)
	}
}

// applyLocked folds a sync response into the engine state and returns
// the room list changes. Timeline patches are published directly.
// Caller holds e.mu.
func (e *Engine) applyLocked(response *messaging.SyncResponse) feed.RoomListBatch {
	var batch feed.RoomListBatch
	e.since = response.NextBatch

	for _, roomID := range sortedRoomIDs(response.Rooms.Join) {
		joined := response.Rooms.Join[roomID]
		room, known := e.rooms[roomID]
		if !known {
			room = newRoomState(roomID)
			e.rooms[roomID] = room
		}
		before := room.entry()
		e.applyJoinedLocked(room, &joined)

		switch {
		case !known:
			e.order = append(e.order, roomID)
			batch = append(batch, feed.PushBack(room.entry()))
		case room.entry() != before:
			batch = append(batch, feed.SetAt(e.positionLocked(roomID), room.entry()))
		}
	}

	for _, roomID := range sortedRoomIDs(response.Rooms.Leave) {
		room, known := e.rooms[roomID]
		if !known {
			continue
		}
		position := e.positionLocked(roomID)
		e.order = slices.Delete(e.order, position, position+1)
		delete(e.rooms, roomID)
		room.finishTimelines()
		batch = append(batch, feed.RemoveAt[feed.RoomListEntry](position))
		e.logger.Debug("left room", "room_id", roomID.String())
	}
	return batch
}

func (e *Engine) applyJoinedLocked(room *roomState, joined *messaging.JoinedRoom) {
	for i := range joined.State.Events {
		room.applyState(&joined.State.Events[i])
	}
	if joined.Summary.Heroes != nil {
		room.heroes = slices.Clone(joined.Summary.Heroes)
	}
	if joined.Summary.JoinedMemberCount != nil {
		room.joinedMembers = *joined.Summary.JoinedMemberCount
	}
	room.notificationCount = joined.UnreadNotifications.NotificationCount
	room.highlightCount = joined.UnreadNotifications.HighlightCount

	limited := joined.Timeline.Limited
	var window []feed.TimelineItem
	for i := range joined.Timeline.Events {
		event := &joined.Timeline.Events[i]
		room.applyState(event)

		if event.Type == messaging.EventTypeRedaction {
			target := event.RedactsID()
			if !limited {
				e.redactLocked(room, target)
				continue
			}
			redactIn(window, target)
			if room.latest != nil && room.latest.EventID == target {
				latest := redacted(*room.latest)
				room.latest = &latest
			}
			continue
		}

		item := itemFromEvent(event)
		latest := item
		room.latest = &latest
		if limited {
			window = append(window, item)
			continue
		}
		e.appendLocked(room, item)
	}

	if !limited {
		return
	}
	if room.initialized {
		room.items = window
		room.publish(feed.Reset(slices.Clone(window)))
	} else {
		room.pending = window
	}
}

// appendLocked adds a live event to the room timeline.
func (e *Engine) appendLocked(room *roomState, item feed.TimelineItem) {
	if !room.initialized {
		room.pending = append(room.pending, item)
		if excess := len(room.pending) - e.timelineLimit; excess > 0 {
			room.pending = slices.Delete(room.pending, 0, excess)
		}
		return
	}
	if room.indexOf(item.EventID) >= 0 {
		return
	}
	room.items = append(room.items, item)
	room.publish(feed.PushBack(item))
}

// redactLocked replaces the target event with its redacted form.
func (e *Engine) redactLocked(room *roomState, target string) {
	if target == "" {
		return
	}
	if room.latest != nil && room.latest.EventID == target {
		latest := redacted(*room.latest)
		room.latest = &latest
	}
	if !room.initialized {
		redactIn(room.pending, target)
		return
	}
	index := room.indexOf(target)
	if index < 0 || room.items[index].Redacted {
		return
	}
	item := redacted(room.items[index])
	room.items[index] = item
	room.publish(feed.SetAt(index, item))
}

// initializeTimeline loads the most recent history of room. Later
// calls return immediately.
func (e *Engine) initializeTimeline(ctx context.Context, room *roomState) error {
	room.initMu.Lock()
	defer room.initMu.Unlock()

	e.mu.Lock()
	initialized := room.initialized
	e.mu.Unlock()
	if initialized {
		return nil
	}

	response, err := e.session.RoomMessages(ctx, room.id, messaging.RoomMessagesOptions{
		Direction: "b",
		Limit:     e.timelineLimit,
	})
	if err != nil {
		return fmt.Errorf("loading history of %s: %w", room.id, err)
	}

	// The chunk is newest first.
	var items []feed.TimelineItem
	if response.End == "" {
		items = append(items, feed.TimelineStart())
	}
	var redactions []string
	for i := len(response.Chunk) - 1; i >= 0; i-- {
		event := &response.Chunk[i]
		if event.Type == messaging.EventTypeRedaction {
			redactions = append(redactions, event.RedactsID())
			continue
		}
		items = append(items, itemFromEvent(event))
	}
	for _, target := range redactions {
		redactIn(items, target)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, item := range room.pending {
		if index := indexOfEvent(items, item.EventID); index >= 0 {
			items[index] = item
			continue
		}
		items = append(items, item)
	}
	room.items = items
	room.pending = nil
	room.initialized = true
	if room.latest == nil {
		for i := len(items) - 1; i >= 0; i-- {
			if items[i].Kind == feed.ItemEvent {
				latest := items[i]
				room.latest = &latest
				break
			}
		}
	}
	e.logger.Debug("timeline initialized",
		"room_id", room.id.String(),
		"items", len(items),
		"at_start", response.End == "",
	)
	return nil
}

// refreshRoom re-reads the room state from the server and returns the
// resulting metadata. A changed display name is published to the room
// list.
func (e *Engine) refreshRoom(ctx context.Context, room *roomState) (feed.RoomInfo, error) {
	events, err := e.session.GetRoomState(ctx, room.id)
	if err != nil {
		return feed.RoomInfo{}, fmt.Errorf("reading state of %s: %w", room.id, err)
	}

	e.mu.Lock()
	needMembers := room.joinedMembers == 0
	e.mu.Unlock()
	members := -1
	if needMembers {
		joined, err := e.session.JoinedMembers(ctx, room.id)
		if err != nil {
			e.logger.Debug("joined members unavailable", "room_id", room.id.String(), "error", err)
		} else {
			members = len(joined)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	before := room.entry()
	for i := range events {
		room.applyState(&events[i])
	}
	if members >= 0 {
		room.joinedMembers = members
	}
	if e.rooms[room.id] == room && room.entry() != before && !e.stopped {
		batch := feed.RoomListBatch{feed.SetAt(e.positionLocked(room.id), room.entry())}
		for stream := range e.roomListStreams {
			stream.Push(batch)
		}
	}
	return room.info(), nil
}

// room returns the state of a joined room, or nil.
func (e *Engine) room(roomID ref.RoomID) *roomState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rooms[roomID]
}

func (e *Engine) timelineInitialized(room *roomState) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return room.initialized
}

func (e *Engine) subscribeTimeline(room *roomState) ([]feed.TimelineItem, feed.Source[feed.TimelinePatch], error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil, nil, ErrStopped
	}
	if e.rooms[room.id] != room {
		return nil, nil, fmt.Errorf("matrixfeed: %s is no longer joined", room.id)
	}
	if !room.initialized {
		return nil, nil, fmt.Errorf("matrixfeed: timeline of %s is not initialized", room.id)
	}

	var stream *feed.Stream[feed.TimelinePatch]
	stream = feed.NewStream[feed.TimelinePatch](func() {
		e.mu.Lock()
		delete(room.timelineStreams, stream)
		e.mu.Unlock()
	})
	room.timelineStreams[stream] = struct{}{}
	return slices.Clone(room.items), stream, nil
}

func (e *Engine) subscribeRoomList() ([]feed.RoomListEntry, feed.Source[feed.RoomListBatch], error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil, nil, ErrStopped
	}

	entries := make([]feed.RoomListEntry, 0, len(e.order))
	for _, id := range e.order {
		entries = append(entries, e.rooms[id].entry())
	}
	var stream *feed.Stream[feed.RoomListBatch]
	stream = feed.NewStream[feed.RoomListBatch](func() {
		e.mu.Lock()
		delete(e.roomListStreams, stream)
		e.mu.Unlock()
	})
	e.roomListStreams[stream] = struct{}{}
	return entries, stream, nil
}

// positionLocked returns the room list index of roomID. Caller holds
// e.mu.
func (e *Engine) positionLocked(roomID ref.RoomID) int {
	return slices.Index(e.order, roomID)
}

func sortedRoomIDs[V any](rooms map[ref.RoomID]V) []ref.RoomID {
	return slices.SortedFunc(maps.Keys(rooms), func(a, b ref.RoomID) int {
		return strings.Compare(a.String(), b.String())
	})
}

func indexOfEvent(items []feed.TimelineItem, eventID string) int {
	return slices.IndexFunc(items, func(item feed.TimelineItem) bool {
		return item.Kind == feed.ItemEvent && item.EventID == eventID
	})
}

// redactIn redacts the target in items in place.
func redactIn(items []feed.TimelineItem, target string) {
	if index := indexOfEvent(items, target); index >= 0 {
		items[index] = redacted(items[index])
	}
}

// isStalePosition reports whether a resumed sync failed because the
// server no longer accepts the since token, as opposed to rejecting
// the session.
func isStalePosition(err error) bool {
	var matrixErr *messaging.MatrixError
	if !errors.As(err, &matrixErr) || messaging.IsTokenRejected(err) {
		return false
	}
	return matrixErr.StatusCode >= 400 && matrixErr.StatusCode < 500
}
