package kbstore

import (
	"context"
	"errors"
	"testing"
)

func TestTopicsMergeDedupeSort(t *testing.T) {
	v := OpenVocab(t.TempDir())
	ctx := context.Background()

	if err := v.MergeTopics(ctx, []string{"zig", "go", "go", ""}); err != nil {
		t.Fatal(err)
	}
	if err := v.AddTopic(ctx, "ada"); err != nil {
		t.Fatal(err)
	}

	topics, err := v.Topics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"ada", "go", "zig"}
	if len(topics) != len(want) {
		t.Fatalf("topics = %v", topics)
	}
	for i := range want {
		if topics[i] != want[i] {
			t.Fatalf("topics = %v, want %v", topics, want)
		}
	}
}

func TestRenameTopicDoesNotTouchEntries(t *testing.T) {
	dir := t.TempDir()
	v := OpenVocab(dir)
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := s.Append(ctx, &Entry{
		Type: "note", Source: "widget", Timestamp: "2026-01-01 12:00:00",
		Notes: "x", Topics: []string{"golang"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := v.MergeTopics(ctx, []string{"golang"}); err != nil {
		t.Fatal(err)
	}

	if err := v.RenameTopic(ctx, "golang", "go"); err != nil {
		t.Fatalf("RenameTopic: %v", err)
	}

	topics, _ := v.Topics(ctx)
	if len(topics) != 1 || topics[0] != "go" {
		t.Errorf("vocabulary not renamed: %v", topics)
	}

	// The entry keeps the old topic name. Documented behaviour: vocabulary
	// renames are not propagated into existing entries.
	e, err := s.Get(ctx, "2026-01-01 12:00:00")
	if err != nil {
		t.Fatal(err)
	}
	if len(e.Topics) != 1 || e.Topics[0] != "golang" {
		t.Errorf("entry topics changed by vocabulary rename: %v", e.Topics)
	}
}

func TestRenameMissingTopic(t *testing.T) {
	v := OpenVocab(t.TempDir())
	err := v.RenameTopic(context.Background(), "ghost", "real")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestDeleteTopic(t *testing.T) {
	v := OpenVocab(t.TempDir())
	ctx := context.Background()
	if err := v.MergeTopics(ctx, []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	if err := v.DeleteTopic(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	topics, _ := v.Topics(ctx)
	if len(topics) != 1 || topics[0] != "b" {
		t.Errorf("topics = %v", topics)
	}
	if err := v.DeleteTopic(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: want ErrNotFound, got %v", err)
	}
}

func TestPeopleVocab(t *testing.T) {
	v := OpenVocab(t.TempDir())
	ctx := context.Background()

	if err := v.MergePeople(ctx, []string{"Ada Lovelace", "Alan Turing"}); err != nil {
		t.Fatal(err)
	}
	if err := v.RenamePerson(ctx, "Alan Turing", "A. Turing"); err != nil {
		t.Fatal(err)
	}
	people, err := v.People(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(people) != 2 || people[0] != "A. Turing" || people[1] != "Ada Lovelace" {
		t.Errorf("people = %v", people)
	}
}

func TestKanbanColumns(t *testing.T) {
	v := OpenVocab(t.TempDir())
	ctx := context.Background()

	cols, err := v.Columns(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cols) != 3 || cols[0].ID != "not-started" {
		t.Fatalf("defaults not seeded: %v", cols)
	}

	if err := v.AddColumn(ctx, Column{ID: "blocked", Name: "Blocked", Color: "#ef4444"}); err != nil {
		t.Fatal(err)
	}
	if err := v.AddColumn(ctx, Column{ID: "blocked", Name: "Again"}); err == nil {
		t.Error("duplicate column id accepted")
	}

	if err := v.UpdateColumn(ctx, "blocked", "On Hold", ""); err != nil {
		t.Fatal(err)
	}
	cols, _ = v.Columns(ctx)
	var found *Column
	for i := range cols {
		if cols[i].ID == "blocked" {
			found = &cols[i]
		}
	}
	if found == nil || found.Name != "On Hold" || found.Color != "#ef4444" {
		t.Errorf("update lost data: %+v", found)
	}

	if err := v.DeleteColumn(ctx, "done"); !errors.Is(err, ErrDefaultColumn) {
		t.Errorf("default column delete: want ErrDefaultColumn, got %v", err)
	}
	if err := v.DeleteColumn(ctx, "blocked"); err != nil {
		t.Fatal(err)
	}
	if err := v.DeleteColumn(ctx, "blocked"); !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}
