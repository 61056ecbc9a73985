package nativemsg

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/hazyhaar/grimoire/aipipe"
	"github.com/hazyhaar/grimoire/apilog"
	"github.com/hazyhaar/grimoire/kbstore"
	"github.com/hazyhaar/grimoire/kit"
	"github.com/hazyhaar/grimoire/searchproxy"
	"github.com/hazyhaar/grimoire/settings"
)

// Request is the envelope the extension sends. Fields beyond Action are
// populated per action.
type Request struct {
	Action    string          `json:"action"`
	Entry     *kbstore.Entry  `json:"entry,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Updates   json.RawMessage `json:"updates,omitempty"`
	Settings  map[string]any  `json:"settings,omitempty"`
	Query     string          `json:"query,omitempty"`
}

// Response is the envelope sent back. Error is set only when Success is
// false.
type Response struct {
	Success   bool                 `json:"success"`
	Error     string               `json:"error,omitempty"`
	Timestamp string               `json:"timestamp,omitempty"`
	Entry     *kbstore.Entry       `json:"entry,omitempty"`
	Entries   []*kbstore.Entry     `json:"entries,omitempty"`
	Settings  map[string]any       `json:"settings,omitempty"`
	Results   []searchproxy.Result `json:"results,omitempty"`
}

// Config wires the host's collaborators.
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

// Host dispatches native messaging requests against the knowledge base.
type Host struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	stores map[string]*project
}

// project bundles the per-folder store and vocabulary.
type project struct {
	store *kbstore.Store
	vocab *kbstore.Vocab
}

// New creates a Host.
func New(cfg Config) *Host {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NewLLM == nil {
		cfg.NewLLM = func(st *settings.Settings) aipipe.LLM {
			return aipipe.NewClient(st.OpenAIAPIKey, aipipe.WithModel(st.OpenAIModel))
		}
	}
	return &Host{
		cfg:    cfg,
		logger: cfg.Logger,
		stores: make(map[string]*project),
	}
}

// Serve reads frames until the pipe closes, answering each with exactly
// one response frame. Handler failures are reported in-band; only codec
// failures terminate the loop.
func (h *Host) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := ReadFrame(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		resp := h.Handle(ctx, frame)
		if err := WriteFrame(w, resp); err != nil {
			return err
		}
	}
}

// Handle processes one raw request frame. It never panics outward.
func (h *Host) Handle(ctx context.Context, frame []byte) (resp *Response) {
	defer func() {
		if p := recover(); p != nil {
			h.logger.Error("nativemsg: handler panic", "panic", p)
			resp = fail("internal error")
		}
	}()

	ctx = kit.WithTransport(ctx, "native")

	var req Request
	if err := json.Unmarshal(frame, &req); err != nil {
		return fail("invalid request: " + err.Error())
	}

	switch req.Action {
	case "append":
		return h.append(ctx, &req)
	case "update_entry":
		return h.updateEntry(ctx, &req)
	case "delete_entry":
		return h.deleteEntry(ctx, &req)
	case "list_entries":
		return h.listEntries(ctx)
	case "classify_entry":
		return h.classifyEntry(ctx, &req)
	case "get_settings":
		return h.getSettings()
	case "update_settings":
		return h.updateSettings(&req)
	case "search_github":
		return h.searchGitHub(ctx, &req)
	case "":
		return fail("missing action")
	default:
		return fail("unknown action: " + req.Action)
	}
}

func fail(msg string) *Response {
	return &Response{Success: false, Error: msg}
}

// current loads the settings and resolves the store for the configured
// project folder. Stores are cached per folder so a folder change in
// settings takes effect on the next request.
func (h *Host) current() (*project, *settings.Settings, error) {
	st, err := h.cfg.Settings.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load settings: %w", err)
	}
	folder := st.ProjectFolder
	if folder == "" {
		folder = h.cfg.DefaultFolder
	}
	if folder == "" {
		return nil, nil, fmt.Errorf("no project folder configured")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.stores[folder]; ok {
		return p, st, nil
	}
	store, err := kbstore.Open(folder, kbstore.WithLogger(h.logger))
	if err != nil {
		return nil, nil, err
	}
	p := &project{store: store, vocab: kbstore.OpenVocab(folder)}
	h.stores[folder] = p
	return p, st, nil
}

// pipeline builds an enrichment pipeline for the current settings, nil
// when no API key is configured.
func (h *Host) pipeline(p *project, st *settings.Settings) *aipipe.Pipeline {
	if st.OpenAIAPIKey == "" {
		return nil
	}
	return aipipe.New(aipipe.Config{
		Store:   p.store,
		Vocab:   p.vocab,
		LLM:     h.cfg.NewLLM(st),
		Calls:   h.cfg.Calls,
		Prompts: st.Prompts,
		Logger:  h.logger,
	})
}

func (h *Host) append(ctx context.Context, req *Request) *Response {
	if req.Entry == nil {
		return fail("append: missing entry")
	}
	p, st, err := h.current()
	if err != nil {
		return fail(err.Error())
	}
	ts, err := p.store.Append(ctx, req.Entry)
	if err != nil {
		return fail(err.Error())
	}
	if pipe := h.pipeline(p, st); pipe != nil {
		pipe.Detach(ctx, ts)
	}
	return &Response{Success: true, Timestamp: ts}
}

// entryUpdates mirrors the patchable entry fields by their wire names.
type entryUpdates struct {
	Title      *string   `json:"title"`
	Notes      *string   `json:"notes"`
	Summary    *string   `json:"aiSummary"`
	Entity     *string   `json:"entity"`
	TaskStatus *string   `json:"taskStatus"`
	Topics     *[]string `json:"topics"`
	People     *[]string `json:"people"`
	Category   *string   `json:"category"`
}

func (u *entryUpdates) patch() kbstore.Patch {
	return kbstore.Patch{
		Title:      u.Title,
		Notes:      u.Notes,
		Summary:    u.Summary,
		Entity:     u.Entity,
		TaskStatus: u.TaskStatus,
		Topics:     u.Topics,
		People:     u.People,
		Category:   u.Category,
	}
}

func (h *Host) updateEntry(ctx context.Context, req *Request) *Response {
	if req.Timestamp == "" {
		return fail("update_entry: missing timestamp")
	}
	var updates entryUpdates
	if len(req.Updates) > 0 {
		if err := json.Unmarshal(req.Updates, &updates); err != nil {
			return fail("update_entry: invalid updates: " + err.Error())
		}
	}
	p, _, err := h.current()
	if err != nil {
		return fail(err.Error())
	}
	if err := p.store.Update(ctx, req.Timestamp, updates.patch()); err != nil {
		return fail(err.Error())
	}
	return &Response{Success: true, Timestamp: req.Timestamp}
}

func (h *Host) deleteEntry(ctx context.Context, req *Request) *Response {
	if req.Timestamp == "" {
		return fail("delete_entry: missing timestamp")
	}
	p, _, err := h.current()
	if err != nil {
		return fail(err.Error())
	}
	if err := p.store.Delete(ctx, req.Timestamp); err != nil {
		return fail(err.Error())
	}
	return &Response{Success: true}
}

func (h *Host) listEntries(ctx context.Context) *Response {
	p, _, err := h.current()
	if err != nil {
		return fail(err.Error())
	}
	entries, err := p.store.List(ctx)
	if err != nil {
		return fail(err.Error())
	}
	return &Response{Success: true, Entries: entries}
}

// classifyEntry re-runs enrichment synchronously and returns the updated
// entry, so the extension can refresh its view in one round trip.
func (h *Host) classifyEntry(ctx context.Context, req *Request) *Response {
	if req.Timestamp == "" {
		return fail("classify_entry: missing timestamp")
	}
	p, st, err := h.current()
	if err != nil {
		return fail(err.Error())
	}
	pipe := h.pipeline(p, st)
	if pipe == nil {
		return fail("openai api key not configured")
	}
	pipe.Process(ctx, req.Timestamp)
	entry, err := p.store.Get(ctx, req.Timestamp)
	if err != nil {
		return fail(err.Error())
	}
	return &Response{Success: true, Entry: entry}
}

func (h *Host) getSettings() *Response {
	masked, err := h.cfg.Settings.Masked()
	if err != nil {
		return fail(err.Error())
	}
	return &Response{Success: true, Settings: masked}
}

func (h *Host) updateSettings(req *Request) *Response {
	if _, err := h.cfg.Settings.Apply(req.Settings); err != nil {
		return fail(err.Error())
	}
	masked, err := h.cfg.Settings.Masked()
	if err != nil {
		return fail(err.Error())
	}
	return &Response{Success: true, Settings: masked}
}

func (h *Host) searchGitHub(ctx context.Context, req *Request) *Response {
	if req.Query == "" {
		return fail("search_github: missing query")
	}
	st, err := h.cfg.Settings.Load()
	if err != nil {
		return fail(err.Error())
	}
	results, err := h.cfg.Search.GitHub(ctx, st, req.Query)
	if err != nil {
		return fail(err.Error())
	}
	return &Response{Success: true, Results: results}
}
