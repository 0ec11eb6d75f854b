// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package matrixfeed

import (
	"slices"
	"strings"
	"sync"

	"github.com/bureau-foundation/feedbridge/lib/feed"
	"github.com/bureau-foundation/feedbridge/lib/ref"
	"github.com/bureau-foundation/feedbridge/messaging"
)

// roomState is the engine's view of one joined room. All fields
// except initMu are guarded by Engine.mu.
type roomState struct {
	id ref.RoomID

	name              string
	topic             string
	avatarURL         string
	canonicalAlias    string
	heroes            []string
	joinedMembers     int
	notificationCount int
	highlightCount    int
	latest            *feed.TimelineItem

	// initMu serializes timeline initialization. It is never held
	// together with Engine.mu across I/O.
	initMu sync.Mutex

	initialized bool
	items       []feed.TimelineItem

	// pending collects events seen by sync before the timeline was
	// initialized, so events that race the /messages fetch are kept.
	pending []feed.TimelineItem

	timelineStreams map[*feed.Stream[feed.TimelinePatch]]struct{}
}

func newRoomState(id ref.RoomID) *roomState {
	return &roomState{
		id:              id,
		timelineStreams: make(map[*feed.Stream[feed.TimelinePatch]]struct{}),
	}
}

func roomFromSummary(summary RoomSummary) (*roomState, error) {
	id, err := ref.ParseRoomID(summary.RoomID)
	if err != nil {
		return nil, err
	}
	room := newRoomState(id)
	room.name = summary.Name
	room.topic = summary.Topic
	room.avatarURL = summary.AvatarURL
	room.canonicalAlias = summary.CanonicalAlias
	room.heroes = summary.Heroes
	room.joinedMembers = summary.JoinedMembers
	room.notificationCount = summary.NotificationCount
	room.highlightCount = summary.HighlightCount
	return room, nil
}

func (r *roomState) summary(position int) RoomSummary {
	return RoomSummary{
		RoomID:            r.id.String(),
		Position:          position,
		Name:              r.name,
		Topic:             r.topic,
		AvatarURL:         r.avatarURL,
		CanonicalAlias:    r.canonicalAlias,
		Heroes:            slices.Clone(r.heroes),
		JoinedMembers:     r.joinedMembers,
		NotificationCount: r.notificationCount,
		HighlightCount:    r.highlightCount,
	}
}

// displayName follows the client-server naming order: explicit name,
// canonical alias, heroes, then the room ID.
func (r *roomState) displayName() string {
	switch {
	case r.name != "":
		return r.name
	case r.canonicalAlias != "":
		return r.canonicalAlias
	case len(r.heroes) > 0:
		return strings.Join(r.heroes, ", ")
	}
	return r.id.String()
}

func (r *roomState) entry() feed.RoomListEntry {
	return feed.RoomListEntry{RoomID: r.id.String(), DisplayName: r.displayName()}
}

func (r *roomState) info() feed.RoomInfo {
	info := feed.RoomInfo{
		RoomID:            r.id.String(),
		Name:              r.displayName(),
		Topic:             r.topic,
		AvatarURL:         r.avatarURL,
		CanonicalAlias:    r.canonicalAlias,
		JoinedMembers:     r.joinedMembers,
		NotificationCount: r.notificationCount,
		HighlightCount:    r.highlightCount,
	}
	if r.latest != nil {
		latest := *r.latest
		info.LatestEvent = &latest
	}
	return info
}

// applyState folds one state event into the room metadata.
func (r *roomState) applyState(event *messaging.Event) {
	if !event.IsState() || *event.StateKey != "" {
		return
	}
	switch event.Type {
	case messaging.EventTypeName:
		r.name = event.ContentString("name")
	case messaging.EventTypeTopic:
		r.topic = event.ContentString("topic")
	case messaging.EventTypeAvatar:
		r.avatarURL = event.ContentString("url")
	case messaging.EventTypeCanonicalAlias:
		r.canonicalAlias = event.ContentString("alias")
	}
}

// indexOf returns the position of the item with eventID, or -1.
func (r *roomState) indexOf(eventID string) int {
	return indexOfEvent(r.items, eventID)
}

// publish sends patch to every timeline subscriber.
func (r *roomState) publish(patch feed.TimelinePatch) {
	for stream := range r.timelineStreams {
		stream.Push(patch)
	}
}

// finishTimelines ends every timeline subscription of the room.
func (r *roomState) finishTimelines() {
	for stream := range r.timelineStreams {
		stream.Finish()
	}
}

// itemFromEvent converts a timeline event.
func itemFromEvent(event *messaging.Event) feed.TimelineItem {
	item := feed.TimelineItem{
		Kind:           feed.ItemEvent,
		EventID:        event.EventID.String(),
		Sender:         event.Sender.String(),
		OriginServerTS: event.OriginServerTS,
		EventType:      event.Type,
		MsgType:        event.ContentString("msgtype"),
		Body:           event.ContentString("body"),
		FormattedBody:  event.ContentString("formatted_body"),
	}
	if event.Unsigned != nil && len(event.Unsigned.RedactedBecause) > 0 {
		item = redacted(item)
	}
	return item
}

// redacted strips an item's content the way a server-side redaction
// does.
func redacted(item feed.TimelineItem) feed.TimelineItem {
	item.MsgType = ""
	item.Body = ""
	item.FormattedBody = ""
	item.Redacted = true
	return item
}
