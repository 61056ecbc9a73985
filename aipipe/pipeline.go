package aipipe

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/grimoire/apilog"
	"github.com/hazyhaar/grimoire/docpipe"
	"github.com/hazyhaar/grimoire/kbstore"
	"github.com/hazyhaar/grimoire/pagefetch"
)

// DetachTimeout bounds a single background enrichment run.
const DetachTimeout = 5 * time.Minute

// Config wires the pipeline's collaborators.
type Config struct {
	Store *kbstore.Store
	Vocab *kbstore.Vocab
	LLM   LLM
	Docs  *docpipe.Pipeline
	Pages *pagefetch.Fetcher
	Calls *apilog.Store // optional API call log
	// Prompts overrides instruction text per prompt key (settings).
	Prompts map[string]string
	Logger  *slog.Logger
}

// Pipeline runs the enrichment steps for one entry at a time.
type Pipeline struct {
	store   *kbstore.Store
	vocab   *kbstore.Vocab
	llm     LLM
	docs    *docpipe.Pipeline
	pages   *pagefetch.Fetcher
	calls   *apilog.Store
	prompts map[string]string
	logger  *slog.Logger

	wg sync.WaitGroup
}

// New creates a Pipeline. Store, Vocab and LLM are required; Docs and
// Pages default to fresh instances.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		store:   cfg.Store,
		vocab:   cfg.Vocab,
		llm:     cfg.LLM,
		docs:    cfg.Docs,
		pages:   cfg.Pages,
		calls:   cfg.Calls,
		prompts: cfg.Prompts,
		logger:  cfg.Logger,
	}
	if p.docs == nil {
		p.docs = docpipe.New(docpipe.Config{Logger: cfg.Logger})
	}
	if p.pages == nil {
		p.pages = pagefetch.New(pagefetch.Config{})
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Detach runs Process in the background with its own bounded context.
// Capture paths call this and return immediately; the caller's context
// values (transport, request id) survive, its cancellation does not.
func (p *Pipeline) Detach(ctx context.Context, timestamp string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DetachTimeout)
		defer cancel()
		p.Process(ctx, timestamp)
	}()
}

// Wait blocks until all detached runs finish.
func (p *Pipeline) Wait() { p.wg.Wait() }

// Process enriches one entry: grammar pass on notes, type-routed summary,
// entity classification. Each step patches the store on success and is
// logged and skipped on failure; there are no retries.
func (p *Pipeline) Process(ctx context.Context, timestamp string) {
	e, err := p.store.Get(ctx, timestamp)
	if err != nil {
		p.logger.Warn("aipipe: entry vanished before enrichment", "timestamp", timestamp, "error", err)
		return
	}

	notes := p.grammar(ctx, e)
	summary := p.summarize(ctx, e, notes)
	p.classify(ctx, e, notes, summary)
}

// grammar corrects the entry's notes and returns the text classification
// should use, corrected when the pass succeeded and raw otherwise.
func (p *Pipeline) grammar(ctx context.Context, e *kbstore.Entry) string {
	if strings.TrimSpace(e.Notes) == "" {
		return e.Notes
	}

	start := time.Now()
	corrected, err := p.llm.Complete(ctx, p.prompt(PromptGrammar)+"\n\n"+e.Notes)
	p.recordCall(ctx, "grammar", err, time.Since(start), e.Timestamp)
	if err != nil {
		p.logger.Warn("aipipe: grammar pass failed", "timestamp", e.Timestamp, "error", err)
		return e.Notes
	}
	corrected = strings.TrimSpace(corrected)
	if corrected == "" || corrected == e.Notes {
		return e.Notes
	}

	if err := p.store.Update(ctx, e.Timestamp, kbstore.Patch{Notes: &corrected}); err != nil {
		p.logger.Warn("aipipe: save corrected notes", "timestamp", e.Timestamp, "error", err)
		return e.Notes
	}
	return corrected
}

// summarize produces and stores the type-routed summary. Returns the
// summary text, empty when the type takes none or the step failed.
func (p *Pipeline) summarize(ctx context.Context, e *kbstore.Entry, notes string) string {
	var (
		summary string
		err     error
		action  string
	)
	start := time.Now()

	switch summaryRoute(e.Type) {
	case routeNone, routeAudio:
		// Video is deliberately skipped; audio has no transcript to work
		// from.
		return ""
	case routeImage:
		action = "summary_image"
		summary, err = p.summarizeImage(ctx, e)
	case routeDocument:
		action = "summary_document"
		summary, err = p.summarizeDocument(ctx, e)
	case routeLink:
		action = "summary_link"
		summary, err = p.summarizeLink(ctx, e)
	case routeResearch:
		action = "summary_research"
		summary, err = p.summarizeText(ctx, PromptSummaryResearch, e, notes)
	default:
		action = "summary_text"
		summary, err = p.summarizeText(ctx, PromptSummaryText, e, notes)
	}

	if err == nil && summary == "" {
		// Nothing to summarize for this entry.
		return ""
	}
	p.recordCall(ctx, action, err, time.Since(start), e.Timestamp)
	if err != nil {
		p.logger.Warn("aipipe: summary failed", "timestamp", e.Timestamp, "type", e.Type, "error", err)
		return ""
	}

	if err := p.store.Update(ctx, e.Timestamp, kbstore.Patch{Summary: &summary}); err != nil {
		p.logger.Warn("aipipe: save summary", "timestamp", e.Timestamp, "error", err)
		return ""
	}
	return summary
}

func (p *Pipeline) summarizeText(ctx context.Context, promptKey string, e *kbstore.Entry, notes string) (string, error) {
	content := entryContent(e, notes)
	if content == "" {
		return "", nil
	}
	return p.llm.Complete(ctx, p.prompt(promptKey)+"\n\n"+content)
}

func (p *Pipeline) summarizeLink(ctx context.Context, e *kbstore.Entry) (string, error) {
	if !strings.HasPrefix(e.URL, "http://") && !strings.HasPrefix(e.URL, "https://") {
		return "", nil
	}
	page, err := p.pages.Fetch(ctx, e.URL)
	if err != nil {
		return "", fmt.Errorf("fetch page: %w", err)
	}
	if page.Markdown == "" {
		return "", nil
	}
	return p.llm.Complete(ctx, p.prompt(PromptSummaryLink)+"\n\n"+page.Markdown)
}

func (p *Pipeline) summarizeDocument(ctx context.Context, e *kbstore.Entry) (string, error) {
	if e.File == "" {
		return "", nil
	}
	doc, err := p.docs.Extract(ctx, filepath.Join(p.store.Root(), filepath.FromSlash(e.File)))
	if errors.Is(err, docpipe.ErrUnsupported) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("extract document: %w", err)
	}
	if doc.Text == "" {
		return "", nil
	}
	return p.llm.Complete(ctx, p.prompt(PromptSummaryDocument)+"\n\n"+doc.Text)
}

func (p *Pipeline) summarizeImage(ctx context.Context, e *kbstore.Entry) (string, error) {
	if e.Screenshot == "" {
		return "", nil
	}
	data, err := os.ReadFile(filepath.Join(p.store.Root(), filepath.FromSlash(e.Screenshot)))
	if err != nil {
		return "", fmt.Errorf("read screenshot: %w", err)
	}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
	return p.llm.CompleteVision(ctx, p.prompt(PromptSummaryImage), dataURL)
}

// classification is the JSON shape the model replies with.
type classification struct {
	Entity string   `json:"entity"`
	Topics []string `json:"topics"`
	People []string `json:"people"`
}

var validEntities = map[string]bool{
	kbstore.EntityProject:      true,
	kbstore.EntityTask:         true,
	kbstore.EntityKnowledge:    true,
	kbstore.EntityUnclassified: true,
}

func (p *Pipeline) classify(ctx context.Context, e *kbstore.Entry, notes, summary string) {
	content := entryContent(e, notes)
	if summary != "" {
		content += "\nSummary: " + summary
	}
	if strings.TrimSpace(content) == "" {
		return
	}

	start := time.Now()
	reply, err := p.llm.Complete(ctx, p.prompt(PromptClassification)+"\n\n"+content)
	p.recordCall(ctx, "classification", err, time.Since(start), e.Timestamp)
	if err != nil {
		p.logger.Warn("aipipe: classification failed", "timestamp", e.Timestamp, "error", err)
		return
	}

	var c classification
	if err := json.Unmarshal([]byte(StripFences(reply)), &c); err != nil {
		p.logger.Warn("aipipe: classification reply not JSON", "timestamp", e.Timestamp, "error", err)
		return
	}
	if !validEntities[c.Entity] {
		c.Entity = kbstore.EntityUnclassified
	}

	patch := kbstore.Patch{Entity: &c.Entity}
	if len(c.Topics) > 0 {
		patch.Topics = &c.Topics
	}
	if len(c.People) > 0 {
		patch.People = &c.People
	}
	if c.Entity == kbstore.EntityTask && e.TaskStatus == "" {
		patch.TaskStatus = kbstore.Ptr("not-started")
	}
	if err := p.store.Update(ctx, e.Timestamp, patch); err != nil {
		p.logger.Warn("aipipe: save classification", "timestamp", e.Timestamp, "error", err)
		return
	}

	if len(c.Topics) > 0 {
		if err := p.vocab.MergeTopics(ctx, c.Topics); err != nil {
			p.logger.Warn("aipipe: merge topics", "error", err)
		}
	}
	if len(c.People) > 0 {
		if err := p.vocab.MergePeople(ctx, c.People); err != nil {
			p.logger.Warn("aipipe: merge people", "error", err)
		}
	}
}

// entryContent renders the entry's own text for a prompt.
func entryContent(e *kbstore.Entry, notes string) string {
	var sb strings.Builder
	add := func(label, val string) {
		if strings.TrimSpace(val) == "" {
			return
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(label)
		sb.WriteString(": ")
		sb.WriteString(val)
	}
	add("Title", e.Title)
	add("URL", e.URL)
	add("Selected text", e.SelectedText)
	add("Description", e.Description)
	add("Notes", notes)
	return sb.String()
}

func (p *Pipeline) prompt(key string) string {
	if v, ok := p.prompts[key]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return defaultPrompts[key]
}

func (p *Pipeline) recordCall(ctx context.Context, action string, err error, d time.Duration, timestamp string) {
	if p.calls == nil {
		return
	}
	p.calls.RecordCall(ctx, "openai", action, err, d, "entry="+timestamp)
}
