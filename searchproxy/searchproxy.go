// Package searchproxy federates searches over the external services the
// owner has connected: GitHub, Notion, Fastmail and Capsule CRM. Tokens
// come from settings; the host and viewer only ever see the normalized
// Result shape, never raw provider payloads.
package searchproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/grimoire/apilog"
	"github.com/hazyhaar/grimoire/safeio"
)

// Result is one normalized search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url,omitempty"`
	Snippet string `json:"snippet,omitempty"`
	Kind    string `json:"kind"`
}

// Default provider endpoints; overridable for tests.
const (
	DefaultGitHubBaseURL      = "https://api.github.com"
	DefaultNotionBaseURL      = "https://api.notion.com"
	DefaultFastmailSessionURL = "https://api.fastmail.com/jmap/session"
	DefaultCapsuleBaseURL     = "https://api.capsulecrm.com/api/v2"
)

// perProviderLimit caps the hits kept from each provider sub-search.
const perProviderLimit = 10

// Config configures the proxy.
type Config struct {
	HTTPClient *http.Client
	Calls      *apilog.Store // optional API call log
	Logger     *slog.Logger

	GitHubBaseURL      string
	NotionBaseURL      string
	FastmailSessionURL string
}

// Proxy performs provider searches.
type Proxy struct {
	client *http.Client
	calls  *apilog.Store
	logger *slog.Logger

	githubBase      string
	notionBase      string
	fastmailSession string
}

// New creates a Proxy with sane defaults.
func New(cfg Config) *Proxy {
	p := &Proxy{
		client:          cfg.HTTPClient,
		calls:           cfg.Calls,
		logger:          cfg.Logger,
		githubBase:      cfg.GitHubBaseURL,
		notionBase:      cfg.NotionBaseURL,
		fastmailSession: cfg.FastmailSessionURL,
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: 20 * time.Second}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.githubBase == "" {
		p.githubBase = DefaultGitHubBaseURL
	}
	if p.notionBase == "" {
		p.notionBase = DefaultNotionBaseURL
	}
	if p.fastmailSession == "" {
		p.fastmailSession = DefaultFastmailSessionURL
	}
	return p
}

// doJSON performs a request with a bearer token and decodes the JSON
// response into out. Bodies are bounded.
func (p *Proxy) doJSON(ctx context.Context, method, url, token string, headers map[string]string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("searchproxy: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("searchproxy: %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := safeio.LimitedReadAll(resp.Body, safeio.MaxResponseBody)
	if err != nil {
		return fmt.Errorf("searchproxy: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("searchproxy: %s: http %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("searchproxy: parse %s: %w", url, err)
	}
	return nil
}

func (p *Proxy) recordCall(ctx context.Context, service, action string, err error, start time.Time, details string) {
	if p.calls == nil {
		return
	}
	p.calls.RecordCall(ctx, service, action, err, time.Since(start), details)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
