// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package feed

// TimelineItemKind distinguishes real events from virtual markers.
type TimelineItemKind string

const (
	// ItemEvent is a room event.
	ItemEvent TimelineItemKind = "event"

	// ItemTimelineStart marks the beginning of the room: there is no
	// earlier history to paginate.
	ItemTimelineStart TimelineItemKind = "timeline_start"
)

// TimelineItem is one entry of a room timeline feed.
type TimelineItem struct {
	Kind           TimelineItemKind `json:"kind"`
	EventID        string           `json:"event_id,omitempty"`
	Sender         string           `json:"sender,omitempty"`
	OriginServerTS int64            `json:"origin_server_ts,omitempty"`
	EventType      string           `json:"event_type,omitempty"`
	MsgType        string           `json:"msgtype,omitempty"`
	Body           string           `json:"body,omitempty"`
	FormattedBody  string           `json:"formatted_body,omitempty"`
	Redacted       bool             `json:"redacted,omitempty"`
}

// TimelineStart returns the start-of-room marker.
func TimelineStart() TimelineItem {
	return TimelineItem{Kind: ItemTimelineStart}
}

// RoomListEntry is one entry of the room list feed.
type RoomListEntry struct {
	RoomID      string `json:"room_id"`
	DisplayName string `json:"display_name"`
}

// RoomInfo is a point-in-time metadata snapshot of one room.
type RoomInfo struct {
	RoomID            string        `json:"room_id"`
	Name              string        `json:"name,omitempty"`
	Topic             string        `json:"topic,omitempty"`
	AvatarURL         string        `json:"avatar_url,omitempty"`
	CanonicalAlias    string        `json:"canonical_alias,omitempty"`
	JoinedMembers     int           `json:"joined_members"`
	NotificationCount int           `json:"notification_count"`
	HighlightCount    int           `json:"highlight_count"`
	LatestEvent       *TimelineItem `json:"latest_event,omitempty"`
}

// TimelinePatch is the unit delivered by a timeline poll.
type TimelinePatch = Patch[TimelineItem]

// RoomListBatch is the unit delivered by a room list poll. An empty
// batch ends the room list feed.
type RoomListBatch = []Patch[RoomListEntry]
