// Package docpipe turns captured document files into prompt-ready text
// for the AI summary pipeline.
//
// Supported formats:
//   - .pdf   — content stream text extraction via pdfcpu
//   - .docx  — Microsoft Word (archive/zip → word/document.xml)
//   - .md    — Markdown (heading-aware flattening)
//   - .txt   — plain text (whitespace normalization)
//   - .html  — HTML (boilerplate-stripped visible text)
//
// The output is a flat Document: a title guess plus extracted text capped
// at a prompt-friendly length. Formats the browser can capture but this
// pipeline cannot read (OneNote, Excel, PowerPoint exports) return
// ErrUnsupported so the caller can skip the summary instead of failing
// the capture.
package docpipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupported marks file types with no extractor.
var ErrUnsupported = errors.New("docpipe: unsupported format")

// Format identifies a document type.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDocx Format = "docx"
	FormatMD   Format = "md"
	FormatTXT  Format = "txt"
	FormatHTML Format = "html"
)

// Document is the flattened extraction result.
type Document struct {
	Path   string `json:"path"`
	Format Format `json:"format"`
	Title  string `json:"title,omitempty"`
	Text   string `json:"text"`
}

// Config configures the pipeline.
type Config struct {
	// MaxFileSize caps input files (default: 100 MB).
	MaxFileSize int64 `yaml:"max_file_size"`
	// MaxTextChars caps extracted text for prompt budgets (default: 12000).
	MaxTextChars int `yaml:"max_text_chars"`
	Logger       *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 100 * 1024 * 1024
	}
	if c.MaxTextChars <= 0 {
		c.MaxTextChars = 12000
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Pipeline is the document extraction engine.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	cfg.defaults()
	return &Pipeline{cfg: cfg, logger: cfg.Logger}
}

// Detect returns the document format based on file extension, or
// ErrUnsupported.
func (p *Pipeline) Detect(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".pdf":
		return FormatPDF, nil
	case ".docx":
		return FormatDocx, nil
	case ".md", ".markdown":
		return FormatMD, nil
	case ".txt", ".text":
		return FormatTXT, nil
	case ".html", ".htm":
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("docpipe: %q: %w", ext, ErrUnsupported)
	}
}

// Extract reads a document file and returns its flattened text.
func (p *Pipeline) Extract(ctx context.Context, path string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("docpipe: stat %s: %w", path, err)
	}
	if info.Size() > p.cfg.MaxFileSize {
		return nil, fmt.Errorf("docpipe: file too large: %d bytes (max %d)", info.Size(), p.cfg.MaxFileSize)
	}

	format, err := p.Detect(path)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("docpipe: extracting", "path", path, "format", format)

	var title, text string
	switch format {
	case FormatPDF:
		title, text, err = extractPDF(path)
	case FormatDocx:
		title, text, err = extractDocx(path)
	case FormatMD:
		title, text, err = extractMarkdown(path)
	case FormatTXT:
		title, text, err = extractText(path)
	case FormatHTML:
		title, text, err = extractHTMLFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("docpipe: extract %s (%s): %w", path, format, err)
	}

	if runes := []rune(text); len(runes) > p.cfg.MaxTextChars {
		text = string(runes[:p.cfg.MaxTextChars])
	}

	return &Document{Path: path, Format: format, Title: title, Text: text}, nil
}

// SupportedExtensions lists the extensions Extract accepts.
func SupportedExtensions() []string {
	return []string{".pdf", ".docx", ".md", ".txt", ".html"}
}
