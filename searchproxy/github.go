package searchproxy

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/grimoire/settings"
)

// GitHub searches repositories, code, issues and commits. The settings'
// org and repo lists scope code, issue and commit searches. A failing
// sub-search is logged and skipped so one flaky endpoint does not sink
// the whole query.
func (p *Proxy) GitHub(ctx context.Context, st *settings.Settings, query string) ([]Result, error) {
	if st.GitHubToken == "" {
		return nil, fmt.Errorf("searchproxy: github token not configured")
	}

	scope := githubScope(st)
	var results []Result
	for _, sub := range []struct {
		kind string
		path string
		q    string
	}{
		{"repository", "/search/repositories", query},
		{"code", "/search/code", query + scope},
		{"issue", "/search/issues", query + scope},
		{"commit", "/search/commits", query + scope},
	} {
		start := time.Now()
		hits, err := p.githubSearch(ctx, st.GitHubToken, sub.path, sub.q, sub.kind)
		p.recordCall(ctx, "github", "search_"+sub.kind, err, start, truncate(query, 80))
		if err != nil {
			p.logger.Warn("searchproxy: github sub-search failed", "kind", sub.kind, "error", err)
			continue
		}
		results = append(results, hits...)
	}
	return results, nil
}

// githubScope builds the qualifier suffix from the configured org and
// repo list. Code, issue and commit searches require a scope or return
// far too much noise.
func githubScope(st *settings.Settings) string {
	var sb strings.Builder
	if st.GitHubOrg != "" {
		sb.WriteString(" org:")
		sb.WriteString(st.GitHubOrg)
	}
	for _, repo := range st.GitHubRepos {
		sb.WriteString(" repo:")
		sb.WriteString(repo)
	}
	return sb.String()
}

type githubSearchReply struct {
	Items []struct {
		// repositories
		FullName    string `json:"full_name"`
		Description string `json:"description"`
		// code
		Name       string `json:"name"`
		Path       string `json:"path"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
		// issues
		Title string `json:"title"`
		Body  string `json:"body"`
		// commits
		Commit struct {
			Message string `json:"message"`
		} `json:"commit"`
		HTMLURL string `json:"html_url"`
	} `json:"items"`
}

func (p *Proxy) githubSearch(ctx context.Context, token, path, query, kind string) ([]Result, error) {
	u := p.githubBase + path + "?per_page=" + fmt.Sprint(perProviderLimit) + "&q=" + url.QueryEscape(query)

	var reply githubSearchReply
	headers := map[string]string{"Accept": "application/vnd.github+json"}
	if err := p.doJSON(ctx, "GET", u, token, headers, nil, &reply); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(reply.Items))
	for _, item := range reply.Items {
		r := Result{Kind: kind, URL: item.HTMLURL}
		switch kind {
		case "repository":
			r.Title = item.FullName
			r.Snippet = truncate(item.Description, 200)
		case "code":
			r.Title = item.Path
			r.Snippet = item.Repository.FullName
		case "issue":
			r.Title = item.Title
			r.Snippet = truncate(item.Body, 200)
		case "commit":
			r.Title = firstCommitLine(item.Commit.Message)
			r.Snippet = item.Repository.FullName
		}
		if r.Title == "" {
			continue
		}
		results = append(results, r)
	}
	return results, nil
}

func firstCommitLine(msg string) string {
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		return msg[:i]
	}
	return msg
}
