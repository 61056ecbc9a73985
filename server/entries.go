package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/grimoire/kbstore"
)

// tsParam decodes the {timestamp} path parameter; timestamps contain a
// space so they arrive percent-encoded.
func tsParam(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "timestamp")
	ts, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("bad timestamp %q", raw)
	}
	return ts, nil
}

func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	p, _, err := s.current()
	if err != nil {
		writeError(w, 500, err)
		return
	}
	entries, err := p.store.List(r.Context())
	if err != nil {
		writeError(w, 500, err)
		return
	}

	q := r.URL.Query()
	entries = filterEntries(entries, q.Get("type"), q.Get("entity"), q.Get("q"))
	writeJSON(w, 200, map[string]any{"entries": entries})
}

// filterEntries applies the optional type, entity and free-text filters.
// Text search is a case-insensitive substring match over the visible
// fields.
func filterEntries(entries []*kbstore.Entry, typ, entity, text string) []*kbstore.Entry {
	text = strings.ToLower(strings.TrimSpace(text))
	out := make([]*kbstore.Entry, 0, len(entries))
	for _, e := range entries {
		if typ != "" && e.Type != typ {
			continue
		}
		if entity != "" && e.Entity != entity {
			continue
		}
		if text != "" && !entryMatches(e, text) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func entryMatches(e *kbstore.Entry, needle string) bool {
	fields := []string{e.Title, e.URL, e.Notes, e.SelectedText, e.Summary, e.Description, e.Category}
	fields = append(fields, e.Topics...)
	fields = append(fields, e.People...)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}

func (s *Server) createEntry(w http.ResponseWriter, r *http.Request) {
	var e kbstore.Entry
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, 400, err)
		return
	}
	p, st, err := s.current()
	if err != nil {
		writeError(w, 500, err)
		return
	}
	ts, err := p.store.Append(r.Context(), &e)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if pipe := s.pipeline(p, st); pipe != nil {
		pipe.Detach(r.Context(), ts)
	}
	writeJSON(w, 201, map[string]string{"timestamp": ts})
}

func (s *Server) getEntry(w http.ResponseWriter, r *http.Request) {
	ts, err := tsParam(r)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	p, _, err := s.current()
	if err != nil {
		writeError(w, 500, err)
		return
	}
	e, err := p.store.Get(r.Context(), ts)
	if errors.Is(err, kbstore.ErrNotFound) {
		writeError(w, 404, err)
		return
	}
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, e)
}

// entryPatch mirrors the patchable entry fields by their wire names.
type entryPatch struct {
	Title      *string   `json:"title"`
	Notes      *string   `json:"notes"`
	Summary    *string   `json:"aiSummary"`
	Entity     *string   `json:"entity"`
	TaskStatus *string   `json:"taskStatus"`
	Topics     *[]string `json:"topics"`
	People     *[]string `json:"people"`
	Category   *string   `json:"category"`
}

func (s *Server) patchEntry(w http.ResponseWriter, r *http.Request) {
	ts, err := tsParam(r)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	var body entryPatch
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, 400, err)
		return
	}
	p, _, err := s.current()
	if err != nil {
		writeError(w, 500, err)
		return
	}
	patch := kbstore.Patch{
		Title:      body.Title,
		Notes:      body.Notes,
		Summary:    body.Summary,
		Entity:     body.Entity,
		TaskStatus: body.TaskStatus,
		Topics:     body.Topics,
		People:     body.People,
		Category:   body.Category,
	}
	err = p.store.Update(r.Context(), ts, patch)
	if errors.Is(err, kbstore.ErrNotFound) {
		writeError(w, 404, err)
		return
	}
	if err != nil {
		writeError(w, 500, err)
		return
	}
	e, err := p.store.Get(r.Context(), ts)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, e)
}

func (s *Server) deleteEntry(w http.ResponseWriter, r *http.Request) {
	ts, err := tsParam(r)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	p, _, err := s.current()
	if err != nil {
		writeError(w, 500, err)
		return
	}
	err = p.store.Delete(r.Context(), ts)
	if errors.Is(err, kbstore.ErrNotFound) {
		writeError(w, 404, err)
		return
	}
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "deleted"})
}
