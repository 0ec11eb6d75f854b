// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/bureau-foundation/feedbridge/lib/feed"
)

// theme holds the styles for text output. Styles render plain text
// when the output is not a terminal.
type theme struct {
	heading lipgloss.Style
	faint   lipgloss.Style
	sender  lipgloss.Style
	good    lipgloss.Style
	bad     lipgloss.Style
	patch   lipgloss.Style
}

func newTheme(w io.Writer) theme {
	renderer := lipgloss.NewRenderer(w)
	return theme{
		heading: renderer.NewStyle().Bold(true),
		faint:   renderer.NewStyle().Faint(true),
		sender:  renderer.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "25", Dark: "75"}),
		good:    renderer.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "28", Dark: "78"}),
		bad:     renderer.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "124", Dark: "203"}),
		patch:   renderer.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "92", Dark: "177"}).Width(10),
	}
}

// statusView mirrors the daemon's status response.
type statusView struct {
	Version       string           `cbor:"version" json:"version"`
	UptimeSeconds float64          `cbor:"uptime_seconds" json:"uptime_seconds"`
	LoggedIn      bool             `cbor:"logged_in" json:"logged_in"`
	UserID        string           `cbor:"user_id,omitempty" json:"user_id,omitempty"`
	Slots         []slotStatusView `cbor:"slots" json:"slots"`
}

type slotStatusView struct {
	Feed           string `cbor:"feed" json:"feed"`
	State          string `cbor:"state" json:"state"`
	FeedID         string `cbor:"feed_id,omitempty" json:"feed_id,omitempty"`
	SnapshotLength int    `cbor:"snapshot_length" json:"snapshot_length"`
	Cycles         uint64 `cbor:"cycles" json:"cycles"`
}

// cancelView mirrors the daemon's cancel response.
type cancelView struct {
	Cancelled bool `cbor:"cancelled" json:"cancelled"`
}

func (t theme) renderStatus(w io.Writer, status statusView) {
	uptime := (time.Duration(status.UptimeSeconds) * time.Second).String()
	fmt.Fprintf(w, "%s %s %s\n", t.heading.Render("feedbridge"), status.Version, t.faint.Render("up "+uptime))
	if status.LoggedIn {
		fmt.Fprintf(w, "session   %s %s\n", t.good.Render("logged in"), status.UserID)
	} else {
		fmt.Fprintf(w, "session   %s\n", t.bad.Render("logged out"))
	}
	for _, slot := range status.Slots {
		line := fmt.Sprintf("%-9s %s", slot.Feed, slot.State)
		if slot.FeedID != "" {
			line += " " + slot.FeedID
		}
		if slot.State != "unsubscribed" {
			line += t.faint.Render(fmt.Sprintf(" (%d items, %d polls)", slot.SnapshotLength, slot.Cycles))
		}
		fmt.Fprintln(w, line)
	}
}

func (t theme) renderItem(item feed.TimelineItem) string {
	if item.Kind == feed.ItemTimelineStart {
		return t.faint.Render("── start of room ──")
	}
	stamp := ""
	if item.OriginServerTS > 0 {
		stamp = time.UnixMilli(item.OriginServerTS).UTC().Format("2006-01-02 15:04") + " "
	}
	body := item.Body
	switch {
	case item.Redacted:
		body = t.faint.Render("(redacted)")
	case item.EventType != "" && item.EventType != "m.room.message":
		body = t.faint.Render(item.EventType)
	}
	return t.faint.Render(stamp) + t.sender.Render(item.Sender) + " " + body
}

func (t theme) renderTimeline(w io.Writer, items []feed.TimelineItem) {
	for _, item := range items {
		fmt.Fprintln(w, t.renderItem(item))
	}
}

func (t theme) renderEntry(entry feed.RoomListEntry) string {
	name := entry.DisplayName
	if name == "" {
		name = t.faint.Render("(unnamed)")
	}
	return name + " " + t.faint.Render(entry.RoomID)
}

func (t theme) renderRoomList(w io.Writer, entries []feed.RoomListEntry) {
	for index, entry := range entries {
		fmt.Fprintf(w, "%3d  %s\n", index, t.renderEntry(entry))
	}
}

// describePatch renders one patch as a single line. value renders a
// collection element.
func describePatch[T any](t theme, patch feed.Patch[T], value func(T) string) string {
	var detail string
	switch patch.Kind {
	case feed.KindInsertAt, feed.KindSetAt:
		detail = fmt.Sprintf("[%d] %s", patch.Index, value(derefOrZero(patch.Value)))
	case feed.KindRemoveAt:
		detail = fmt.Sprintf("[%d]", patch.Index)
	case feed.KindPushBack, feed.KindPushFront:
		detail = value(derefOrZero(patch.Value))
	case feed.KindReset, feed.KindAppend:
		detail = fmt.Sprintf("%d items", len(patch.Values))
	case feed.KindTruncate:
		detail = fmt.Sprintf("to %d", patch.Length)
	}
	return strings.TrimRight(t.patch.Render(string(patch.Kind))+" "+detail, " ")
}

func derefOrZero[T any](value *T) T {
	if value == nil {
		var zero T
		return zero
	}
	return *value
}

func (t theme) renderRoomInfo(w io.Writer, info feed.RoomInfo) {
	name := info.Name
	if name == "" {
		name = info.RoomID
	}
	fmt.Fprintln(w, t.heading.Render(name))
	rows := [][2]string{
		{"room id", info.RoomID},
		{"alias", info.CanonicalAlias},
		{"topic", info.Topic},
		{"avatar", info.AvatarURL},
		{"members", fmt.Sprint(info.JoinedMembers)},
		{"unread", fmt.Sprintf("%d (%d highlights)", info.NotificationCount, info.HighlightCount)},
	}
	for _, row := range rows {
		if row[1] == "" {
			continue
		}
		fmt.Fprintf(w, "  %-8s %s\n", row[0], row[1])
	}
	if info.LatestEvent != nil {
		fmt.Fprintf(w, "  %-8s %s\n", "latest", t.renderItem(*info.LatestEvent))
	}
}
