// Package server is the local viewer API: a chi router bound to
// loopback that exposes the knowledge base, vocabularies, settings, API
// logs, external search and captured media to the web UI.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/grimoire/aipipe"
	"github.com/hazyhaar/grimoire/apilog"
	"github.com/hazyhaar/grimoire/idgen"
	"github.com/hazyhaar/grimoire/kbstore"
	"github.com/hazyhaar/grimoire/kit"
	"github.com/hazyhaar/grimoire/searchproxy"
	"github.com/hazyhaar/grimoire/settings"
)

// Config wires the server's collaborators.
type Config struct {
	Settings *settings.Manager
	Search   *searchproxy.Proxy
	Calls    *apilog.Store // optional
	Logger   *slog.Logger
	// DefaultFolder is the project folder used until settings name one.
	DefaultFolder string
	// NewLLM builds the completion client for the current settings.
	// Defaults to the OpenAI client.
	NewLLM func(*settings.Settings) aipipe.LLM
}

// Server carries the handler state.
type Server struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	stores map[string]*project
}

type project struct {
	store *kbstore.Store
	vocab *kbstore.Vocab
}

// New creates a Server.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NewLLM == nil {
		cfg.NewLLM = func(st *settings.Settings) aipipe.LLM {
			return aipipe.NewClient(st.OpenAIAPIKey, aipipe.WithModel(st.OpenAIModel))
		}
	}
	return &Server{
		cfg:    cfg,
		logger: cfg.Logger,
		stores: make(map[string]*project),
	}
}

// current resolves the store for the configured project folder, cached
// per folder so a settings change takes effect on the next request.
func (s *Server) current() (*project, *settings.Settings, error) {
	st, err := s.cfg.Settings.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load settings: %w", err)
	}
	folder := st.ProjectFolder
	if folder == "" {
		folder = s.cfg.DefaultFolder
	}
	if folder == "" {
		return nil, nil, fmt.Errorf("no project folder configured")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.stores[folder]; ok {
		return p, st, nil
	}
	store, err := kbstore.Open(folder, kbstore.WithLogger(s.logger))
	if err != nil {
		return nil, nil, err
	}
	p := &project{store: store, vocab: kbstore.OpenVocab(folder)}
	s.stores[folder] = p
	return p, st, nil
}

func (s *Server) pipeline(p *project, st *settings.Settings) *aipipe.Pipeline {
	if st.OpenAIAPIKey == "" {
		return nil
	}
	return aipipe.New(aipipe.Config{
		Store:   p.store,
		Vocab:   p.vocab,
		LLM:     s.cfg.NewLLM(st),
		Calls:   s.cfg.Calls,
		Prompts: st.Prompts,
		Logger:  s.logger,
	})
}

// Router builds the full route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(s.requestLog)
	r.Use(localCORS)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Route("/api/entries", func(r chi.Router) {
		r.Get("/", s.listEntries)
		r.Post("/", s.createEntry)
		r.Get("/{timestamp}", s.getEntry)
		r.Patch("/{timestamp}", s.patchEntry)
		r.Delete("/{timestamp}", s.deleteEntry)
	})

	r.Route("/api/topics", s.vocabRoutes(vocabTopics))
	r.Route("/api/entities", s.vocabRoutes(vocabPeople))
	r.Route("/api/kanban-columns", s.columnRoutes)

	r.Get("/api/settings", s.getSettings)
	r.Put("/api/settings", s.putSettings)

	r.Get("/api/logs", s.getLogs)
	r.Delete("/api/logs", s.clearLogs)

	r.Post("/api/search/{provider}", s.search)

	r.Get("/media/screenshots/*", s.media("screenshots"))
	r.Get("/media/files/*", s.media("files"))

	return r
}

// requestLog tags each request with a correlation id and logs one line
// per request.
func (s *Server) requestLog(next http.Handler) http.Handler {
	newID := idgen.Prefixed("req_", idgen.UUIDv7())
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := newID()
		ctx := kit.WithRequestID(kit.WithTransport(r.Context(), "http"), id)
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r.WithContext(ctx))
		s.logger.Info("http",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// localCORS is permissive. The server only binds loopback; the browser
// extension and the viewer page both talk to it cross-origin.
func localCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("server: encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
