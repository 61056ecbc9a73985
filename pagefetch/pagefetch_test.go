package pagefetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// allowAll lets tests target the httptest loopback server.
func allowAll(string) error { return nil }

func TestFetchConvertsToMarkdown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Release Notes</title></head>
<body><h1>Version 2.0</h1><p>Now with <strong>tables</strong>.</p>
<script>alert("xss")</script></body></html>`))
	}))
	defer srv.Close()

	f := New(Config{URLValidator: allowAll})
	page, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if page.Title != "Release Notes" {
		t.Errorf("title = %q", page.Title)
	}
	if !strings.Contains(page.Markdown, "Version 2.0") {
		t.Errorf("heading missing: %q", page.Markdown)
	}
	if !strings.Contains(page.Markdown, "**tables**") {
		t.Errorf("bold not converted: %q", page.Markdown)
	}
	if strings.Contains(page.Markdown, "alert(") {
		t.Errorf("script survived sanitation: %q", page.Markdown)
	}
}

func TestFetchRejectsBlockedURL(t *testing.T) {
	f := New(Config{})
	if _, err := f.Fetch(context.Background(), "http://127.0.0.1:1/x"); err == nil {
		t.Fatal("loopback URL not blocked")
	}
	if _, err := f.Fetch(context.Background(), "ftp://example.com/x"); err == nil {
		t.Fatal("non-http scheme not blocked")
	}
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(Config{URLValidator: allowAll})
	if _, err := f.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("want error on 404")
	}
}

func TestFetchBoundedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>" + strings.Repeat("<p>spam</p>", 10000) + "</body></html>"))
	}))
	defer srv.Close()

	f := New(Config{URLValidator: allowAll, MaxBytes: 1024})
	if _, err := f.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("oversize body accepted")
	}
}

func TestConvertCapsOutput(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("<html><body>")
	for range 2000 {
		sb.WriteString("<p>lorem ipsum dolor</p>")
	}
	sb.WriteString("</body></html>")

	f := New(Config{URLValidator: allowAll, MaxTextChars: 500})
	page, err := f.Convert("https://example.com", []byte(sb.String()))
	if err != nil {
		t.Fatal(err)
	}
	if len([]rune(page.Markdown)) > 500 {
		t.Errorf("markdown not capped: %d chars", len(page.Markdown))
	}
}

func TestConvertRelativeLinks(t *testing.T) {
	rawHTML := []byte(`<html><body><p><a href="/docs">docs</a></p></body></html>`)
	f := New(Config{URLValidator: allowAll})
	page, err := f.Convert("https://example.com/page", rawHTML)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(page.Markdown, "https://example.com/docs") {
		t.Errorf("relative link not resolved: %q", page.Markdown)
	}
}
