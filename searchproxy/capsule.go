package searchproxy

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/grimoire/settings"
)

// Capsule searches the CRM: parties, opportunities and cases through the
// search endpoints, plus open tasks matched locally since the tasks API
// has no search. A custom base URL in settings supports self-hosted
// deployments and tests.
func (p *Proxy) Capsule(ctx context.Context, st *settings.Settings, query string) ([]Result, error) {
	if st.CapsuleToken == "" {
		return nil, fmt.Errorf("searchproxy: capsule token not configured")
	}
	base := st.CapsuleBaseURL
	if base == "" {
		base = DefaultCapsuleBaseURL
	}
	base = strings.TrimSuffix(base, "/")

	var results []Result
	for _, sub := range []struct {
		kind string
		fn   func(context.Context, string, string, string) ([]Result, error)
	}{
		{"party", p.capsuleParties},
		{"opportunity", p.capsuleOpportunities},
		{"case", p.capsuleCases},
		{"task", p.capsuleTasks},
	} {
		start := time.Now()
		hits, err := sub.fn(ctx, base, st.CapsuleToken, query)
		p.recordCall(ctx, "capsule", "search_"+sub.kind, err, start, truncate(query, 80))
		if err != nil {
			p.logger.Warn("searchproxy: capsule sub-search failed", "kind", sub.kind, "error", err)
			continue
		}
		results = append(results, hits...)
	}
	return results, nil
}

func (p *Proxy) capsuleParties(ctx context.Context, base, token, query string) ([]Result, error) {
	var reply struct {
		Parties []struct {
			ID           int64  `json:"id"`
			Type         string `json:"type"`
			FirstName    string `json:"firstName"`
			LastName     string `json:"lastName"`
			Name         string `json:"name"`
			Organisation *struct {
				Name string `json:"name"`
			} `json:"organisation"`
		} `json:"parties"`
	}
	if err := p.doJSON(ctx, "GET", base+"/parties/search?q="+url.QueryEscape(query), token, nil, nil, &reply); err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(reply.Parties))
	for _, party := range reply.Parties {
		title := party.Name
		if title == "" {
			title = strings.TrimSpace(party.FirstName + " " + party.LastName)
		}
		if title == "" {
			continue
		}
		snippet := party.Type
		if party.Organisation != nil && party.Organisation.Name != "" {
			snippet = party.Organisation.Name
		}
		results = append(results, Result{
			Title:   title,
			URL:     capsuleLink("party", party.ID),
			Snippet: snippet,
			Kind:    "party",
		})
	}
	return results, nil
}

func (p *Proxy) capsuleOpportunities(ctx context.Context, base, token, query string) ([]Result, error) {
	var reply struct {
		Opportunities []struct {
			ID          int64  `json:"id"`
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"opportunities"`
	}
	if err := p.doJSON(ctx, "GET", base+"/opportunities/search?q="+url.QueryEscape(query), token, nil, nil, &reply); err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(reply.Opportunities))
	for _, opp := range reply.Opportunities {
		results = append(results, Result{
			Title:   opp.Name,
			URL:     capsuleLink("opportunity", opp.ID),
			Snippet: truncate(opp.Description, 200),
			Kind:    "opportunity",
		})
	}
	return results, nil
}

func (p *Proxy) capsuleCases(ctx context.Context, base, token, query string) ([]Result, error) {
	var reply struct {
		Kases []struct {
			ID          int64  `json:"id"`
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"kases"`
	}
	if err := p.doJSON(ctx, "GET", base+"/kases/search?q="+url.QueryEscape(query), token, nil, nil, &reply); err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(reply.Kases))
	for _, kase := range reply.Kases {
		results = append(results, Result{
			Title:   kase.Name,
			URL:     capsuleLink("kase", kase.ID),
			Snippet: truncate(kase.Description, 200),
			Kind:    "case",
		})
	}
	return results, nil
}

func (p *Proxy) capsuleTasks(ctx context.Context, base, token, query string) ([]Result, error) {
	var reply struct {
		Tasks []struct {
			ID          int64  `json:"id"`
			Description string `json:"description"`
			Detail      string `json:"detail"`
			DueOn       string `json:"dueOn"`
		} `json:"tasks"`
	}
	if err := p.doJSON(ctx, "GET", base+"/tasks?perPage=100", token, nil, nil, &reply); err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)
	var results []Result
	for _, task := range reply.Tasks {
		if !strings.Contains(strings.ToLower(task.Description), needle) &&
			!strings.Contains(strings.ToLower(task.Detail), needle) {
			continue
		}
		snippet := truncate(task.Detail, 200)
		if task.DueOn != "" {
			snippet = "due " + task.DueOn + " " + snippet
		}
		results = append(results, Result{
			Title:   task.Description,
			URL:     capsuleLink("task", task.ID),
			Snippet: strings.TrimSpace(snippet),
			Kind:    "task",
		})
		if len(results) >= perProviderLimit {
			break
		}
	}
	return results, nil
}

func capsuleLink(kind string, id int64) string {
	return fmt.Sprintf("https://app.capsulecrm.com/%s/%d", kind, id)
}
