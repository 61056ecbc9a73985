package kbstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Vocabulary file names inside the project folder.
const (
	topicsFile  = "topics.json"
	peopleFile  = "entities.json"
	columnsFile = "kanban-columns.json"
)

// ErrDefaultColumn is returned when deleting a built-in kanban column.
var ErrDefaultColumn = errors.New("kbstore: default kanban column cannot be deleted")

// Column is one kanban board column.
type Column struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// DefaultColumns are seeded on first read and protected from deletion.
func DefaultColumns() []Column {
	return []Column{
		{ID: "not-started", Name: "Not Started", Color: "#6b7280"},
		{ID: "in-progress", Name: "In Progress", Color: "#3b82f6"},
		{ID: "done", Name: "Done", Color: "#22c55e"},
	}
}

// Vocab manages the three side-lists (topics, people, kanban columns)
// stored as JSON next to kb.md. Renames touch only the vocabulary file:
// topic/person references inside existing entries are left as-is.
type Vocab struct {
	dir string
	mu  sync.Mutex
}

// OpenVocab creates a Vocab rooted at the project folder.
func OpenVocab(dir string) *Vocab {
	return &Vocab{dir: dir}
}

type topicsDoc struct {
	Topics []string `json:"topics"`
}

type peopleDoc struct {
	People []string `json:"people"`
}

type columnsDoc struct {
	Columns []Column `json:"columns"`
}

// Topics returns the sorted topic vocabulary.
func (v *Vocab) Topics(ctx context.Context) ([]string, error) {
	return v.readList(ctx, topicsFile)
}

// AddTopic inserts a topic, deduplicated and sorted.
func (v *Vocab) AddTopic(ctx context.Context, name string) error {
	return v.MergeTopics(ctx, []string{name})
}

// MergeTopics merges names into the topic vocabulary.
func (v *Vocab) MergeTopics(ctx context.Context, names []string) error {
	return v.mergeList(ctx, topicsFile, names)
}

// RenameTopic replaces old with new in the vocabulary only. Entries
// holding the old name keep it; this is the documented gap.
func (v *Vocab) RenameTopic(ctx context.Context, oldName, newName string) error {
	return v.renameIn(ctx, topicsFile, oldName, newName)
}

// DeleteTopic removes a topic from the vocabulary.
func (v *Vocab) DeleteTopic(ctx context.Context, name string) error {
	return v.deleteFrom(ctx, topicsFile, name)
}

// People returns the sorted people vocabulary.
func (v *Vocab) People(ctx context.Context) ([]string, error) {
	return v.readList(ctx, peopleFile)
}

// AddPerson inserts a person, deduplicated and sorted.
func (v *Vocab) AddPerson(ctx context.Context, name string) error {
	return v.MergePeople(ctx, []string{name})
}

// MergePeople merges names into the people vocabulary.
func (v *Vocab) MergePeople(ctx context.Context, names []string) error {
	return v.mergeList(ctx, peopleFile, names)
}

// RenamePerson replaces old with new in the vocabulary only.
func (v *Vocab) RenamePerson(ctx context.Context, oldName, newName string) error {
	return v.renameIn(ctx, peopleFile, oldName, newName)
}

// DeletePerson removes a person from the vocabulary.
func (v *Vocab) DeletePerson(ctx context.Context, name string) error {
	return v.deleteFrom(ctx, peopleFile, name)
}

// Columns returns the kanban columns, seeding defaults on first read.
func (v *Vocab) Columns(ctx context.Context) ([]Column, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loadColumnsLocked()
}

// AddColumn appends a column. An existing id is an error.
func (v *Vocab) AddColumn(ctx context.Context, c Column) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.ID == "" || c.Name == "" {
		return errors.New("kbstore: column needs id and name")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	cols, err := v.loadColumnsLocked()
	if err != nil {
		return err
	}
	for _, existing := range cols {
		if existing.ID == c.ID {
			return fmt.Errorf("kbstore: column %q already exists", c.ID)
		}
	}
	return v.saveColumnsLocked(append(cols, c))
}

// UpdateColumn changes a column's name and/or color.
func (v *Vocab) UpdateColumn(ctx context.Context, id, name, color string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	cols, err := v.loadColumnsLocked()
	if err != nil {
		return err
	}
	for i := range cols {
		if cols[i].ID != id {
			continue
		}
		if name != "" {
			cols[i].Name = name
		}
		if color != "" {
			cols[i].Color = color
		}
		return v.saveColumnsLocked(cols)
	}
	return fmt.Errorf("kbstore: column %q: %w", id, ErrNotFound)
}

// DeleteColumn removes a column. Default columns are protected.
func (v *Vocab) DeleteColumn(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, d := range DefaultColumns() {
		if d.ID == id {
			return ErrDefaultColumn
		}
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	cols, err := v.loadColumnsLocked()
	if err != nil {
		return err
	}
	for i := range cols {
		if cols[i].ID == id {
			return v.saveColumnsLocked(append(cols[:i:i], cols[i+1:]...))
		}
	}
	return fmt.Errorf("kbstore: column %q: %w", id, ErrNotFound)
}

func (v *Vocab) readList(ctx context.Context, file string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loadListLocked(file)
}

func (v *Vocab) mergeList(ctx context.Context, file string, names []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	list, err := v.loadListLocked(file)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(list))
	for _, n := range list {
		seen[n] = true
	}
	for _, n := range names {
		if n != "" && !seen[n] {
			list = append(list, n)
			seen[n] = true
		}
	}
	sort.Strings(list)
	return v.saveListLocked(file, list)
}

func (v *Vocab) renameIn(ctx context.Context, file, oldName, newName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if newName == "" {
		return errors.New("kbstore: new name is empty")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	list, err := v.loadListLocked(file)
	if err != nil {
		return err
	}
	found := false
	out := list[:0]
	for _, n := range list {
		switch n {
		case oldName:
			found = true
		case newName:
			// already present; the rename collapses into it
		default:
			out = append(out, n)
			continue
		}
	}
	if !found {
		return fmt.Errorf("kbstore: rename %q: %w", oldName, ErrNotFound)
	}
	out = append(out, newName)
	sort.Strings(out)
	return v.saveListLocked(file, out)
}

func (v *Vocab) deleteFrom(ctx context.Context, file, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	list, err := v.loadListLocked(file)
	if err != nil {
		return err
	}
	for i, n := range list {
		if n == name {
			return v.saveListLocked(file, append(list[:i:i], list[i+1:]...))
		}
	}
	return fmt.Errorf("kbstore: delete %q: %w", name, ErrNotFound)
}

func (v *Vocab) loadListLocked(file string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(v.dir, file))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("kbstore: read %s: %w", file, err)
	}
	switch file {
	case peopleFile:
		var doc peopleDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("kbstore: parse %s: %w", file, err)
		}
		return doc.People, nil
	default:
		var doc topicsDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("kbstore: parse %s: %w", file, err)
		}
		return doc.Topics, nil
	}
}

func (v *Vocab) saveListLocked(file string, list []string) error {
	if list == nil {
		list = []string{}
	}
	var doc any
	switch file {
	case peopleFile:
		doc = peopleDoc{People: list}
	default:
		doc = topicsDoc{Topics: list}
	}
	return v.saveJSONLocked(file, doc)
}

func (v *Vocab) loadColumnsLocked() ([]Column, error) {
	data, err := os.ReadFile(filepath.Join(v.dir, columnsFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultColumns(), nil
		}
		return nil, fmt.Errorf("kbstore: read %s: %w", columnsFile, err)
	}
	var doc columnsDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("kbstore: parse %s: %w", columnsFile, err)
	}
	if len(doc.Columns) == 0 {
		return DefaultColumns(), nil
	}
	return doc.Columns, nil
}

func (v *Vocab) saveColumnsLocked(cols []Column) error {
	return v.saveJSONLocked(columnsFile, columnsDoc{Columns: cols})
}

func (v *Vocab) saveJSONLocked(file string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("kbstore: marshal %s: %w", file, err)
	}
	if err := writeFileAtomic(filepath.Join(v.dir, file), append(data, '\n')); err != nil {
		return fmt.Errorf("kbstore: save %s: %w", file, err)
	}
	return nil
}
