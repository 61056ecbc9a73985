// Package apilog records every outbound API call (LLM, search proxies)
// in a local SQLite table so the viewer can show what the tool did on the
// user's behalf.
//
// Writes are asynchronous: callers enqueue entries without blocking and a
// background goroutine flushes them in batches. A full buffer drops
// entries rather than applying backpressure to capture paths.
package apilog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/grimoire/dbopen"
	"github.com/hazyhaar/grimoire/idgen"
	"github.com/hazyhaar/grimoire/kit"
)

// Schema for the api_calls table, applied by Store.Init.
const Schema = `
CREATE TABLE IF NOT EXISTS api_calls (
	id TEXT PRIMARY KEY,
	timestamp INTEGER NOT NULL,
	service TEXT NOT NULL,
	action TEXT NOT NULL,
	status TEXT NOT NULL,
	details TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	request TEXT,
	response TEXT
);
CREATE INDEX IF NOT EXISTS idx_api_calls_ts ON api_calls(timestamp);
CREATE INDEX IF NOT EXISTS idx_api_calls_service ON api_calls(service);
`

// DefaultLimit and MaxLimit bound List results.
const (
	DefaultLimit = 200
	MaxLimit     = 500
)

// Entry is one recorded API call.
type Entry struct {
	ID         string `json:"id"`
	Timestamp  int64  `json:"timestamp"` // unix milliseconds
	Service    string `json:"service"`   // "openai", "github", "notion", ...
	Action     string `json:"action"`    // "classify", "grammar", "search", ...
	Status     string `json:"status"`    // "ok" or "error"
	Details    string `json:"details,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Request    string `json:"request,omitempty"`
	Response   string `json:"response,omitempty"`
}

// Store persists API call entries asynchronously.
type Store struct {
	db       *sql.DB
	newID    idgen.Generator
	ch       chan *Entry
	flushReq chan chan struct{}
	quit     chan struct{}
	done     chan struct{}
	once     sync.Once
}

// NewStore creates a Store backed by db and starts the flush goroutine.
func NewStore(db *sql.DB) *Store {
	s := &Store{
		db:       db,
		newID:    idgen.Prefixed("log_", idgen.UUIDv7()),
		ch:       make(chan *Entry, 1024),
		flushReq: make(chan chan struct{}),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.flushLoop()
	return s
}

// Init creates the api_calls table if it doesn't exist.
func (s *Store) Init() error {
	_, err := s.db.Exec(Schema)
	return err
}

// Record queues an entry for async persistence. Non-blocking; drops if
// the buffer is full. Missing id/timestamp are filled in. Safe after
// Close: detached enrichment runs can outlive shutdown, so a late
// Record is a silent drop, never a crash.
func (s *Store) Record(e *Entry) {
	if e.ID == "" {
		e.ID = s.newID()
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.ch <- e:
	default:
	}
}

// RecordCall is a convenience for the common shape: it measures nothing
// itself, callers pass the observed duration and outcome. The invoking
// transport and request id, when tagged on ctx, are stamped into the
// details so the log shows which surface triggered the call.
func (s *Store) RecordCall(ctx context.Context, service, action string, err error, d time.Duration, details string) {
	status := "ok"
	if err != nil {
		status = "error"
		if details == "" {
			details = err.Error()
		}
	}
	tags := "transport=" + kit.GetTransport(ctx)
	if id := kit.GetRequestID(ctx); id != "" {
		tags += " request=" + id
	}
	if details != "" {
		details += " " + tags
	} else {
		details = tags
	}
	s.Record(&Entry{
		Service:    service,
		Action:     action,
		Status:     status,
		Details:    details,
		DurationMS: d.Milliseconds(),
	})
}

// List returns entries newest first. since (unix ms, 0 = all) filters by
// timestamp; limit defaults to DefaultLimit and is capped at MaxLimit.
func (s *Store) List(ctx context.Context, since int64, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, service, action, status, details, duration_ms, request, response
		FROM api_calls
		WHERE timestamp > ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("apilog: list: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e := &Entry{}
		var details, req, resp sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Service, &e.Action, &e.Status,
			&details, &e.DurationMS, &req, &resp); err != nil {
			return nil, fmt.Errorf("apilog: scan: %w", err)
		}
		e.Details, e.Request, e.Response = details.String, req.String, resp.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// Clear deletes all recorded entries.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM api_calls`); err != nil {
		return fmt.Errorf("apilog: clear: %w", err)
	}
	return nil
}

// Flush synchronously drains pending entries (tests and shutdown paths).
func (s *Store) Flush() {
	ack := make(chan struct{})
	select {
	case s.flushReq <- ack:
		<-ack
	case <-s.done:
	}
}

// Close drains the buffer and stops the flush goroutine. The entry
// channel is never closed; senders may still be live when shutdown
// begins.
func (s *Store) Close() error {
	s.once.Do(func() {
		close(s.quit)
		<-s.done
	})
	return nil
}

func (s *Store) flushLoop() {
	defer close(s.done)

	batch := make([]*Entry, 0, 64)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case e := <-s.ch:
			batch = append(batch, e)
			if len(batch) >= 64 {
				s.flushBatch(batch)
				batch = batch[:0]
			}
		case ack := <-s.flushReq:
			batch = drainInto(batch, s.ch)
			s.flushBatch(batch)
			batch = batch[:0]
			close(ack)
		case <-ticker.C:
			if len(batch) > 0 {
				s.flushBatch(batch)
				batch = batch[:0]
			}
		case <-s.quit:
			batch = drainInto(batch, s.ch)
			s.flushBatch(batch)
			return
		}
	}
}

func drainInto(batch []*Entry, ch <-chan *Entry) []*Entry {
	for {
		select {
		case e := <-ch:
			batch = append(batch, e)
		default:
			return batch
		}
	}
}

func (s *Store) flushBatch(batch []*Entry) {
	if len(batch) == 0 {
		return
	}

	err := dbopen.RunTx(context.Background(), s.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT INTO api_calls
			(id, timestamp, service, action, status, details, duration_ms, request, response)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range batch {
			if _, err := stmt.Exec(e.ID, e.Timestamp, e.Service, e.Action, e.Status,
				e.Details, e.DurationMS, e.Request, e.Response); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("apilog: flush", "error", err, "batch", len(batch))
	}
}
