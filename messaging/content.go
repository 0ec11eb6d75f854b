// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"html"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// FormatHTML is the only rich-text format Matrix defines.
const FormatHTML = "org.matrix.custom.html"

// MessageContent is the content of an m.room.message event.
type MessageContent struct {
	MsgType       string `json:"msgtype"`
	Body          string `json:"body"`
	Format        string `json:"format,omitempty"`
	FormattedBody string `json:"formatted_body,omitempty"`
}

// NewTextMessage returns a plain m.text message.
func NewTextMessage(body string) MessageContent {
	return MessageContent{MsgType: "m.text", Body: body}
}

// NewMessage returns an m.text message for body, adding an HTML
// formatted_body when body contains Markdown. Plain text is sent
// without a formatted body.
func NewMessage(body string) MessageContent {
	content := NewTextMessage(body)
	if formatted, ok := renderMarkdown(body); ok {
		content.Format = FormatHTML
		content.FormattedBody = formatted
	}
	return content
}

var (
	markdownOnce   sync.Once
	markdownParser goldmark.Markdown
)

func getMarkdownParser() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownParser = goldmark.New(
			goldmark.WithExtensions(extension.Strikethrough, extension.Linkify, extension.Table),
		)
	})
	return markdownParser
}

// renderMarkdown converts body to HTML and reports whether the result
// carries any markup beyond a single paragraph of escaped text.
func renderMarkdown(body string) (string, bool) {
	var buffer bytes.Buffer
	if err := getMarkdownParser().Convert([]byte(body), &buffer); err != nil {
		return "", false
	}
	rendered := strings.TrimSpace(buffer.String())
	if rendered == "" {
		return "", false
	}

	inner, single := strings.CutPrefix(rendered, "<p>")
	if single {
		inner, single = strings.CutSuffix(inner, "</p>")
	}
	if single && !strings.Contains(inner, "<") {
		if html.UnescapeString(inner) == strings.TrimSpace(body) {
			return "", false
		}
	}
	if single && !strings.Contains(inner, "<p>") {
		// Matrix clients expect inline HTML without a wrapping paragraph.
		return inner, true
	}
	return rendered, true
}
