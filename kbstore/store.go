package kbstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// KBFileName is the markdown file holding all entries.
const KBFileName = "kb.md"

// ErrNotFound is returned when no entry matches the requested timestamp.
var ErrNotFound = errors.New("kbstore: entry not found")

// Store reads and writes the knowledge base rooted at a project folder.
// It is the sole writer within the process; a mutex serializes mutations.
// Timestamp keys are assumed unique: Update and Delete act on the first
// matching block.
type Store struct {
	root   string
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// Option customises the store.
type Option func(*Store)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open creates a Store rooted at dir, creating the folder if needed.
func Open(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("kbstore: create root: %w", err)
	}
	s := &Store{
		root:   dir,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Root returns the project folder path.
func (s *Store) Root() string { return s.root }

func (s *Store) kbPath() string { return filepath.Join(s.root, KBFileName) }

// Append persists a new entry at the top of kb.md and returns its
// timestamp key. When the entry has no timestamp one is generated from
// the current local time, bumped by one second while it collides with an
// existing key. Media payloads are decoded to disk first; a decode or
// write failure aborts the append.
func (s *Store) Append(ctx context.Context, e *Entry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.loadLocked()

	if e.Timestamp == "" {
		e.Timestamp = s.uniqueTimestamp(existing)
	}
	if err := s.writeMedia(e); err != nil {
		return "", err
	}

	all := append([]*Entry{e}, existing...)
	if err := s.writeFileLocked(all); err != nil {
		return "", err
	}
	s.logger.Debug("kbstore: appended", "timestamp", e.Timestamp, "type", e.Type)
	return e.Timestamp, nil
}

// List parses the full file into entries, newest first (file order).
func (s *Store) List(ctx context.Context) ([]*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(), nil
}

// Get returns the first entry matching timestamp, or ErrNotFound.
func (s *Store) Get(ctx context.Context, timestamp string) (*Entry, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Timestamp == timestamp {
			return e, nil
		}
	}
	return nil, fmt.Errorf("kbstore: get %q: %w", timestamp, ErrNotFound)
}

// Update applies patch to the first entry matching timestamp and rewrites
// the file. Other blocks are unaffected apart from serialization
// normalization. Returns ErrNotFound when no block matches.
func (s *Store) Update(ctx context.Context, timestamp string, patch Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.loadLocked()
	for _, e := range entries {
		if e.Timestamp == timestamp {
			patch.apply(e)
			return s.writeFileLocked(entries)
		}
	}
	return fmt.Errorf("kbstore: update %q: %w", timestamp, ErrNotFound)
}

// Delete removes the first entry matching timestamp, rewrites the file,
// and removes referenced media best-effort (a missing media file is not
// an error). Returns ErrNotFound when no block matches.
func (s *Store) Delete(ctx context.Context, timestamp string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.loadLocked()
	for i, e := range entries {
		if e.Timestamp != timestamp {
			continue
		}
		rest := append(entries[:i:i], entries[i+1:]...)
		if err := s.writeFileLocked(rest); err != nil {
			return err
		}
		s.removeMedia(e)
		return nil
	}
	return fmt.Errorf("kbstore: delete %q: %w", timestamp, ErrNotFound)
}

// loadLocked reads and parses kb.md. A missing file is an empty store.
func (s *Store) loadLocked() []*Entry {
	data, err := os.ReadFile(s.kbPath())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("kbstore: read", "error", err)
		}
		return nil
	}
	return ParseFile(string(data))
}

func (s *Store) writeFileLocked(entries []*Entry) error {
	return writeFileAtomic(s.kbPath(), []byte(Render(entries)))
}

func (s *Store) uniqueTimestamp(existing []*Entry) string {
	used := make(map[string]bool, len(existing))
	for _, e := range existing {
		used[e.Timestamp] = true
	}
	t := s.now()
	ts := t.Format(TimestampLayout)
	for used[ts] {
		t = t.Add(time.Second)
		ts = t.Format(TimestampLayout)
	}
	return ts
}

// writeFileAtomic writes data via a temp file in the same directory
// followed by rename, so readers never observe a partial file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".kb-*.tmp")
	if err != nil {
		return fmt.Errorf("kbstore: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("kbstore: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("kbstore: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("kbstore: rename: %w", err)
	}
	return nil
}
