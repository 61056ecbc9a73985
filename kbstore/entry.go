// Package kbstore is the system of record for captured knowledge entries.
//
// Everything lives under one project folder:
//
//	kb.md           entry blocks, newest first
//	screenshots/    decoded screenshot payloads
//	files/          decoded file attachments
//	topics.json     topic vocabulary
//	entities.json   people vocabulary
//	kanban-columns.json
//
// Each entry is a markdown list block keyed by its capture timestamp
// (YYYY-MM-DD HH:MM:SS, local time). The store re-parses and rewrites the
// whole file on every mutation; at personal scale (low thousands of
// entries) that is cheap and keeps the file hand-editable.
package kbstore

import (
	"fmt"
	"strings"
)

// Entity classification values produced by the AI pipeline.
const (
	EntityProject      = "project"
	EntityTask         = "task"
	EntityKnowledge    = "knowledge"
	EntityUnclassified = "unclassified"
)

// TimestampLayout is the entry key format. Local time, second precision.
const TimestampLayout = "2006-01-02 15:04:05"

// Entry is one captured knowledge-base record.
type Entry struct {
	Timestamp    string   `json:"timestamp"`
	Type         string   `json:"type"`
	Source       string   `json:"source"`
	Title        string   `json:"title,omitempty"`
	URL          string   `json:"url,omitempty"`
	Group        string   `json:"group,omitempty"`
	GroupColor   string   `json:"groupColor,omitempty"`
	SelectedText string   `json:"selectedText,omitempty"`
	Screenshot   string   `json:"screenshot,omitempty"`
	File         string   `json:"file,omitempty"`
	Notes        string   `json:"notes,omitempty"`
	Description  string   `json:"description,omitempty"`
	Image        string   `json:"image,omitempty"`
	Author       string   `json:"author,omitempty"`
	Published    string   `json:"published,omitempty"`
	ReadTime     int      `json:"readTime,omitempty"`
	Summary      string   `json:"aiSummary,omitempty"`
	Entity       string   `json:"entity,omitempty"`
	TaskStatus   string   `json:"taskStatus,omitempty"`
	Topics       []string `json:"topics,omitempty"`
	People       []string `json:"people,omitempty"`
	Category     string   `json:"category,omitempty"`

	// Transport-only payloads, decoded to disk at append time and never
	// serialized into kb.md.
	ScreenshotData string `json:"screenshotData,omitempty"`
	FileData       string `json:"fileData,omitempty"`
	FileName       string `json:"fileName,omitempty"`
}

// linkSchemes are the URL schemes rendered as markdown links in the head
// line; anything else renders the title as plain text.
var linkSchemes = []string{"http://", "https://", "file://", "chrome-extension://"}

func isLinkable(url string) bool {
	for _, s := range linkSchemes {
		if strings.HasPrefix(url, s) {
			return true
		}
	}
	return false
}

// Block serializes the entry into its kb.md representation, without a
// trailing blank line.
func (e *Entry) Block() string {
	var b strings.Builder

	// The title is stored raw, empty included; "Untitled" is a display
	// concern, not a storage value.
	head := e.Title
	if e.URL != "" && isLinkable(e.URL) {
		head = fmt.Sprintf("[%s](%s)", e.Title, e.URL)
	}
	fmt.Fprintf(&b, "- `%s` | `%s` | `%s` | %s\n", e.Type, e.Source, e.Timestamp, head)

	if e.Group != "" {
		if e.GroupColor != "" {
			fmt.Fprintf(&b, "  - `group: %s (%s)`\n", e.Group, e.GroupColor)
		} else {
			fmt.Fprintf(&b, "  - `group: %s`\n", e.Group)
		}
	}
	if e.SelectedText != "" {
		fmt.Fprintf(&b, "  - > %s\n", oneLine(e.SelectedText))
	}
	if e.Screenshot != "" {
		fmt.Fprintf(&b, "  - ![Screenshot](%s)\n", e.Screenshot)
	}
	if e.File != "" {
		fmt.Fprintf(&b, "  - [Attachment](%s)\n", e.File)
	}
	if e.Notes != "" {
		lines := strings.Split(e.Notes, "\n")
		fmt.Fprintf(&b, "  - Notes: %s\n", lines[0])
		for _, line := range lines[1:] {
			fmt.Fprintf(&b, "    %s\n", line)
		}
	}
	writeField(&b, "Description", oneLine(e.Description))
	writeField(&b, "Image", e.Image)
	writeField(&b, "Author", e.Author)
	writeField(&b, "Published", e.Published)
	if e.ReadTime > 0 {
		fmt.Fprintf(&b, "  - ReadTime: %d min\n", e.ReadTime)
	}
	writeField(&b, "AI Summary", oneLine(e.Summary))
	writeField(&b, "Entity", e.Entity)
	writeField(&b, "Status", e.TaskStatus)
	if len(e.Topics) > 0 {
		writeField(&b, "Topics", strings.Join(e.Topics, ", "))
	}
	if len(e.People) > 0 {
		writeField(&b, "People", strings.Join(e.People, ", "))
	}
	writeField(&b, "Category", e.Category)

	return strings.TrimSuffix(b.String(), "\n")
}

func writeField(b *strings.Builder, key, val string) {
	if val != "" {
		fmt.Fprintf(b, "  - %s: %s\n", key, val)
	}
}

// oneLine collapses newlines so single-line metadata fields cannot break
// the block format.
func oneLine(s string) string {
	return strings.TrimSpace(strings.Join(strings.Fields(s), " "))
}

// Patch describes a partial update to an entry. Nil pointers leave the
// field untouched; empty values clear it.
type Patch struct {
	Title      *string
	Notes      *string
	Summary    *string
	Entity     *string
	TaskStatus *string
	Topics     *[]string
	People     *[]string
	Category   *string
}

func (p *Patch) apply(e *Entry) {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Notes != nil {
		e.Notes = *p.Notes
	}
	if p.Summary != nil {
		e.Summary = *p.Summary
	}
	if p.Entity != nil {
		e.Entity = *p.Entity
	}
	if p.TaskStatus != nil {
		e.TaskStatus = *p.TaskStatus
	}
	if p.Topics != nil {
		e.Topics = append([]string(nil), (*p.Topics)...)
	}
	if p.People != nil {
		e.People = append([]string(nil), (*p.People)...)
	}
	if p.Category != nil {
		e.Category = *p.Category
	}
}

// Ptr is a convenience for building Patch literals.
func Ptr[T any](v T) *T { return &v }
