package searchproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/grimoire/settings"
)

const notionVersion = "2022-06-28"

// Notion searches pages and databases via the workspace search endpoint.
func (p *Proxy) Notion(ctx context.Context, st *settings.Settings, query string) ([]Result, error) {
	if st.NotionToken == "" {
		return nil, fmt.Errorf("searchproxy: notion token not configured")
	}

	body, err := json.Marshal(map[string]any{
		"query":     query,
		"page_size": perProviderLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("searchproxy: marshal notion query: %w", err)
	}

	var reply struct {
		Results []struct {
			Object     string                     `json:"object"`
			URL        string                     `json:"url"`
			Title      []notionRichText           `json:"title"`
			Properties map[string]json.RawMessage `json:"properties"`
		} `json:"results"`
	}

	start := time.Now()
	err = p.doJSON(ctx, "POST", p.notionBase+"/v1/search", st.NotionToken,
		map[string]string{"Notion-Version": notionVersion},
		bytes.NewReader(body), &reply)
	p.recordCall(ctx, "notion", "search", err, start, truncate(query, 80))
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(reply.Results))
	for _, item := range reply.Results {
		title := notionPlainText(item.Title)
		if title == "" {
			title = notionPageTitle(item.Properties)
		}
		if title == "" {
			title = "Untitled"
		}
		results = append(results, Result{
			Title: title,
			URL:   item.URL,
			Kind:  item.Object,
		})
	}
	return results, nil
}

type notionRichText struct {
	PlainText string `json:"plain_text"`
}

func notionPlainText(parts []notionRichText) string {
	var s string
	for _, part := range parts {
		s += part.PlainText
	}
	return s
}

// notionPageTitle digs the title property out of a page's properties.
// Pages store their title under an arbitrarily named property of type
// "title".
func notionPageTitle(props map[string]json.RawMessage) string {
	for _, raw := range props {
		var prop struct {
			Type  string           `json:"type"`
			Title []notionRichText `json:"title"`
		}
		if err := json.Unmarshal(raw, &prop); err != nil {
			continue
		}
		if prop.Type == "title" {
			return notionPlainText(prop.Title)
		}
	}
	return ""
}
