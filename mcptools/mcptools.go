// Package mcptools exposes the knowledge base to MCP clients: search,
// list, append and the topic vocabulary. The tools are read-mostly;
// kb_append is the one mutation, so an agent can drop notes into the
// base without touching classification or settings.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/grimoire/kbstore"
	"github.com/hazyhaar/grimoire/kit"
)

// Service holds the store behind the tools.
type Service struct {
	store *kbstore.Store
	vocab *kbstore.Vocab
}

// New creates the tool service.
func New(store *kbstore.Store, vocab *kbstore.Vocab) *Service {
	return &Service{store: store, vocab: vocab}
}

// Register adds all knowledge-base tools to the server.
func (s *Service) Register(srv *mcp.Server) {
	s.registerSearchTool(srv)
	s.registerListTool(srv)
	s.registerAppendTool(srv)
	s.registerTopicsTool(srv)
}

// tagMCP marks the invoking transport for downstream logging.
func tagMCP(ctx context.Context) context.Context {
	return kit.WithTransport(ctx, "mcp")
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// --- kb_search ---

type searchReq struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (s *Service) registerSearchTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "kb_search",
		Description: "Search knowledge base entries by free text over titles, notes, summaries, topics and people.",
		InputSchema: inputSchema(map[string]any{
			"query": map[string]any{"type": "string", "description": "Text to search for"},
			"limit": map[string]any{"type": "integer", "description": "Max entries to return (default 20)"},
		}, []string{"query"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*searchReq)
		if strings.TrimSpace(r.Query) == "" {
			return nil, fmt.Errorf("empty query")
		}
		entries, err := s.store.List(ctx)
		if err != nil {
			return nil, err
		}
		needle := strings.ToLower(r.Query)
		limit := r.Limit
		if limit <= 0 {
			limit = 20
		}
		matched := make([]*kbstore.Entry, 0, limit)
		for _, e := range entries {
			if entryMatches(e, needle) {
				matched = append(matched, e)
				if len(matched) >= limit {
					break
				}
			}
		}
		return map[string]any{"entries": matched}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r searchReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r, EnrichCtx: tagMCP}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
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

// --- kb_list ---

type listReq struct {
	Type   string `json:"type"`
	Entity string `json:"entity"`
	Limit  int    `json:"limit"`
}

func (s *Service) registerListTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "kb_list",
		Description: "List knowledge base entries, newest first, optionally filtered by type or entity.",
		InputSchema: inputSchema(map[string]any{
			"type":   map[string]any{"type": "string", "description": "Filter by entry type (snippet, link, screenshot, ...)"},
			"entity": map[string]any{"type": "string", "description": "Filter by entity (project, task, knowledge, unclassified)"},
			"limit":  map[string]any{"type": "integer", "description": "Max entries to return (default 50)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*listReq)
		entries, err := s.store.List(ctx)
		if err != nil {
			return nil, err
		}
		limit := r.Limit
		if limit <= 0 {
			limit = 50
		}
		out := make([]*kbstore.Entry, 0, limit)
		for _, e := range entries {
			if r.Type != "" && e.Type != r.Type {
				continue
			}
			if r.Entity != "" && e.Entity != r.Entity {
				continue
			}
			out = append(out, e)
			if len(out) >= limit {
				break
			}
		}
		return map[string]any{"entries": out}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r listReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r, EnrichCtx: tagMCP}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- kb_append ---

type appendReq struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url"`
	Notes string `json:"notes"`
}

func (s *Service) registerAppendTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "kb_append",
		Description: "Append a new entry to the knowledge base.",
		InputSchema: inputSchema(map[string]any{
			"type":  map[string]any{"type": "string", "description": "Entry type (default note)"},
			"title": map[string]any{"type": "string", "description": "Entry title"},
			"url":   map[string]any{"type": "string", "description": "Source URL"},
			"notes": map[string]any{"type": "string", "description": "Free-form notes"},
		}, []string{"title"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*appendReq)
		if strings.TrimSpace(r.Title) == "" && strings.TrimSpace(r.Notes) == "" {
			return nil, fmt.Errorf("empty entry")
		}
		typ := r.Type
		if typ == "" {
			typ = "note"
		}
		ts, err := s.store.Append(ctx, &kbstore.Entry{
			Type:   typ,
			Source: "mcp",
			Title:  r.Title,
			URL:    r.URL,
			Notes:  r.Notes,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"timestamp": ts}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r appendReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r, EnrichCtx: tagMCP}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- kb_topics ---

func (s *Service) registerTopicsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "kb_topics",
		Description: "List the topic and people vocabularies of the knowledge base.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		topics, err := s.vocab.Topics(ctx)
		if err != nil {
			return nil, err
		}
		people, err := s.vocab.People(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"topics": topics, "people": people}, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil, EnrichCtx: tagMCP}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
