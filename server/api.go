package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/grimoire/apilog"
	"github.com/hazyhaar/grimoire/safeio"
	"github.com/hazyhaar/grimoire/searchproxy"
)

func (s *Server) getSettings(w http.ResponseWriter, _ *http.Request) {
	masked, err := s.cfg.Settings.Masked()
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, masked)
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, 400, err)
		return
	}
	if _, err := s.cfg.Settings.Apply(patch); err != nil {
		writeError(w, 400, err)
		return
	}
	masked, err := s.cfg.Settings.Masked()
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, masked)
}

func (s *Server) getLogs(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Calls == nil {
		writeJSON(w, 200, map[string]any{"logs": []any{}})
		return
	}
	q := r.URL.Query()
	since, _ := strconv.ParseInt(q.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))

	s.cfg.Calls.Flush()
	logs, err := s.cfg.Calls.List(r.Context(), since, limit)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if logs == nil {
		logs = []*apilog.Entry{}
	}
	writeJSON(w, 200, map[string]any{"logs": logs})
}

func (s *Server) clearLogs(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Calls == nil {
		writeJSON(w, 200, map[string]string{"status": "cleared"})
		return
	}
	if err := s.cfg.Calls.Clear(r.Context()); err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "cleared"})
}

// search proxies one provider query. Missing tokens and upstream
// failures come back as error envelopes, never as crashes.
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	var body struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, 400, err)
		return
	}
	if body.Query == "" {
		writeError(w, 400, fmt.Errorf("missing query"))
		return
	}
	st, err := s.cfg.Settings.Load()
	if err != nil {
		writeError(w, 500, err)
		return
	}

	var results []searchproxy.Result
	switch provider {
	case "github":
		results, err = s.cfg.Search.GitHub(r.Context(), st, body.Query)
	case "notion":
		results, err = s.cfg.Search.Notion(r.Context(), st, body.Query)
	case "fastmail":
		results, err = s.cfg.Search.Fastmail(r.Context(), st, body.Query)
	case "capsule":
		results, err = s.cfg.Search.Capsule(r.Context(), st, body.Query)
	default:
		writeError(w, 404, fmt.Errorf("unknown provider %q", provider))
		return
	}
	if err != nil {
		writeError(w, 502, err)
		return
	}
	if results == nil {
		results = []searchproxy.Result{}
	}
	writeJSON(w, 200, map[string]any{"results": results})
}

// media serves screenshots and file attachments from the project folder.
// Paths are confined to the media subdirectory.
func (s *Server) media(subdir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rel := chi.URLParam(r, "*")
		p, _, err := s.current()
		if err != nil {
			writeError(w, 500, err)
			return
		}
		base := filepath.Join(p.store.Root(), subdir)
		path, err := safeio.SafePath(base, rel)
		if err != nil {
			writeError(w, 400, err)
			return
		}
		http.ServeFile(w, r, path)
	}
}
