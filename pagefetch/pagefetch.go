// Package pagefetch retrieves a captured link's page and renders it as
// markdown for the AI summary pipeline.
//
// The pipeline: fetch (SSRF-guarded, bounded) → sanitize → markdown.
// Scripts, styles and event handlers never reach the converter; the
// output is truncated to a prompt-friendly length.
package pagefetch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/grimoire/safeio"
)

// Page is the fetched and converted result.
type Page struct {
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Markdown string `json:"markdown"`
}

// Config configures the fetcher.
type Config struct {
	Timeout      time.Duration // HTTP timeout. Default: 30s.
	MaxBytes     int64         // Max response body size. Default: 5MB.
	MaxTextChars int           // Markdown cap for prompt budgets. Default: 12000.
	UserAgent    string
	// URLValidator validates URLs before fetch (SSRF prevention).
	// Default: safeio.ValidateURL.
	URLValidator func(string) error
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 5 * 1024 * 1024
	}
	if c.MaxTextChars <= 0 {
		c.MaxTextChars = 12000
	}
	if c.UserAgent == "" {
		c.UserAgent = "grimoire/1.0"
	}
	if c.URLValidator == nil {
		c.URLValidator = safeio.ValidateURL
	}
}

// Fetcher fetches pages and converts them to markdown.
type Fetcher struct {
	client    *http.Client
	config    Config
	sanitizer *bluemonday.Policy
	converter *converter.Converter
}

// New creates a Fetcher with SSRF protection on redirects.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	validate := cfg.URLValidator
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
				return nil
			},
		},
		config:    cfg,
		sanitizer: bluemonday.UGCPolicy(),
		converter: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Fetch retrieves url and returns its title and markdown rendering.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	if err := f.config.URLValidator(url); err != nil {
		return nil, fmt.Errorf("pagefetch: URL blocked: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("pagefetch: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pagefetch: get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return nil, fmt.Errorf("pagefetch: http %d", resp.StatusCode)
	}

	body, err := safeio.LimitedReadAll(resp.Body, f.config.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("pagefetch: read body: %w", err)
	}

	return f.Convert(url, body)
}

// Convert renders raw HTML (already in hand, e.g. sent by the extension)
// to a Page without fetching.
func (f *Fetcher) Convert(url string, rawHTML []byte) (*Page, error) {
	title := pageTitle(rawHTML)

	clean := f.sanitizer.SanitizeBytes(rawHTML)
	md, err := f.converter.ConvertString(string(clean), converter.WithDomain(url))
	if err != nil {
		return nil, fmt.Errorf("pagefetch: convert: %w", err)
	}
	md = strings.TrimSpace(md)
	if runes := []rune(md); len(runes) > f.config.MaxTextChars {
		md = string(runes[:f.config.MaxTextChars])
	}

	return &Page{URL: url, Title: title, Markdown: md}, nil
}

// pageTitle pulls <title> from the raw document; the sanitizer strips
// head elements, so this runs first.
func pageTitle(rawHTML []byte) string {
	doc, err := html.Parse(bytes.NewReader(rawHTML))
	if err != nil {
		return ""
	}
	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Title {
			if n.FirstChild != nil {
				title = strings.TrimSpace(n.FirstChild.Data)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}
