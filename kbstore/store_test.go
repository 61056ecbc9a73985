package kbstore

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestAppendRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	in := &Entry{
		Type:         "link",
		Source:       "browser",
		Title:        "Go blog",
		URL:          "https://go.dev/blog",
		SelectedText: "quoted text",
		Notes:        "first line\nsecond line",
		Topics:       []string{"go", "blogs"},
	}
	ts, err := s.Append(ctx, in)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var matches []*Entry
	for _, e := range entries {
		if e.Timestamp == ts {
			matches = append(matches, e)
		}
	}
	if len(matches) != 1 {
		t.Fatalf("want exactly 1 entry with timestamp %q, got %d", ts, len(matches))
	}
	got := matches[0]
	if got.Type != "link" || got.Source != "browser" || got.Title != "Go blog" ||
		got.URL != "https://go.dev/blog" || got.SelectedText != "quoted text" {
		t.Errorf("fields did not round-trip: %+v", got)
	}
	if got.Notes != "first line\nsecond line" {
		t.Errorf("notes = %q", got.Notes)
	}
	if strings.Join(got.Topics, ",") != "go,blogs" {
		t.Errorf("topics = %v", got.Topics)
	}
}

func TestAppendPrependsNewestFirst(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first := &Entry{Type: "note", Source: "widget", Timestamp: "2026-01-01 10:00:00", Notes: "one"}
	second := &Entry{Type: "note", Source: "widget", Timestamp: "2026-01-01 10:00:01", Notes: "two"}
	for _, e := range []*Entry{first, second} {
		if _, err := s.Append(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	entries, _ := s.List(ctx)
	if len(entries) != 2 {
		t.Fatalf("got %d entries", len(entries))
	}
	if entries[0].Timestamp != second.Timestamp {
		t.Errorf("newest entry not first: %s", entries[0].Timestamp)
	}
}

func TestGeneratedTimestampAvoidsCollision(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)
	s, err := Open(t.TempDir(), WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	ts1, err := s.Append(ctx, &Entry{Type: "note", Source: "widget", Notes: "a"})
	if err != nil {
		t.Fatal(err)
	}
	ts2, err := s.Append(ctx, &Entry{Type: "note", Source: "widget", Notes: "b"})
	if err != nil {
		t.Fatal(err)
	}
	if ts1 == ts2 {
		t.Fatalf("collision not avoided: %s", ts1)
	}
	if ts1 != "2026-03-01 12:00:00" || ts2 != "2026-03-01 12:00:01" {
		t.Errorf("unexpected timestamps %s / %s", ts1, ts2)
	}
}

func TestUpdateNonInterference(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := &Entry{Type: "note", Source: "widget", Timestamp: "2026-01-01 09:00:00", Notes: "alpha", Title: "A"}
	b := &Entry{Type: "note", Source: "widget", Timestamp: "2026-01-01 09:00:01", Notes: "beta", Title: "B"}
	c := &Entry{Type: "link", Source: "browser", Timestamp: "2026-01-01 09:00:02", Title: "C", URL: "https://example.com"}
	for _, e := range []*Entry{a, b, c} {
		if _, err := s.Append(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	err := s.Update(ctx, b.Timestamp, Patch{Notes: Ptr("BETA"), Entity: Ptr(EntityKnowledge)})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	entries, _ := s.List(ctx)
	byTS := map[string]*Entry{}
	for _, e := range entries {
		byTS[e.Timestamp] = e
	}
	if byTS[b.Timestamp].Notes != "BETA" || byTS[b.Timestamp].Entity != EntityKnowledge {
		t.Errorf("patched entry wrong: %+v", byTS[b.Timestamp])
	}
	if byTS[a.Timestamp].Notes != "alpha" || byTS[a.Timestamp].Entity != "" {
		t.Errorf("entry A disturbed: %+v", byTS[a.Timestamp])
	}
	if byTS[c.Timestamp].Title != "C" || byTS[c.Timestamp].URL != "https://example.com" {
		t.Errorf("entry C disturbed: %+v", byTS[c.Timestamp])
	}
}

func TestUpdateNotFound(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.Append(ctx, &Entry{Type: "note", Source: "widget", Timestamp: "2026-01-01 08:00:00", Notes: "x"}); err != nil {
		t.Fatal(err)
	}

	err := s.Update(ctx, "1999-01-01 00:00:00", Patch{Notes: Ptr("nope")})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	entries, _ := s.List(ctx)
	if len(entries) != 1 {
		t.Errorf("entry count changed: %d", len(entries))
	}
}

func TestDeleteRemovesEntryAndMedia(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	png := base64.StdEncoding.EncodeToString([]byte("fake png bytes"))
	e := &Entry{
		Type:           "screenshot",
		Source:         "browser",
		Timestamp:      "2026-02-02 14:30:00",
		Title:          "Shot",
		ScreenshotData: "data:image/png;base64," + png,
	}
	if _, err := s.Append(ctx, e); err != nil {
		t.Fatal(err)
	}
	if e.Screenshot == "" {
		t.Fatal("screenshot path not recorded")
	}
	abs := filepath.Join(s.Root(), e.Screenshot)
	if _, err := os.Stat(abs); err != nil {
		t.Fatalf("screenshot not written: %v", err)
	}

	if err := s.Delete(ctx, e.Timestamp); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	entries, _ := s.List(ctx)
	if len(entries) != 0 {
		t.Errorf("entry not removed")
	}
	if _, err := os.Stat(abs); !os.IsNotExist(err) {
		t.Errorf("media file still present")
	}
}

func TestDeleteNotFound(t *testing.T) {
	s := testStore(t)
	err := s.Delete(context.Background(), "1999-01-01 00:00:00")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestAppendBadBase64(t *testing.T) {
	s := testStore(t)
	e := &Entry{
		Type:           "screenshot",
		Source:         "browser",
		Timestamp:      "2026-02-02 15:00:00",
		ScreenshotData: "not!!valid@@base64",
	}
	if _, err := s.Append(context.Background(), e); err == nil {
		t.Fatal("want decode error")
	}
	entries, _ := s.List(context.Background())
	if len(entries) != 0 {
		t.Errorf("failed append left an entry behind")
	}
}

func TestFileAttachment(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	e := &Entry{
		Type:      "pdf",
		Source:    "widget",
		Timestamp: "2026-02-03 10:00:00",
		FileName:  "../sneaky/report.pdf",
		FileData:  base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 fake")),
	}
	if _, err := s.Append(ctx, e); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(e.File, "files/") {
		t.Fatalf("attachment outside files/: %q", e.File)
	}
	if strings.Contains(e.File, "..") {
		t.Fatalf("traversal survived sanitation: %q", e.File)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), e.File)); err != nil {
		t.Fatalf("attachment not written: %v", err)
	}

	got, err := s.Get(ctx, e.Timestamp)
	if err != nil {
		t.Fatal(err)
	}
	if got.File != e.File {
		t.Errorf("file path did not round-trip: %q vs %q", got.File, e.File)
	}
}

func TestGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if _, err := s.Append(ctx, &Entry{Type: "idea", Source: "widget", Timestamp: "2026-04-01 09:00:00", Notes: "hi"}); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Get(ctx, "2026-04-01 09:00:00"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := s.Get(ctx, "2026-04-01 09:00:01"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
