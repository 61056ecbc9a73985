package searchproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/grimoire/settings"
)

const jmapMailURN = "urn:ietf:params:jmap:mail"

// Fastmail searches mail over JMAP: fetch the session to learn the API
// URL and account, then chain Email/query into Email/get with a back
// reference.
func (p *Proxy) Fastmail(ctx context.Context, st *settings.Settings, query string) ([]Result, error) {
	if st.FastmailToken == "" {
		return nil, fmt.Errorf("searchproxy: fastmail token not configured")
	}

	start := time.Now()
	results, err := p.fastmailSearch(ctx, st.FastmailToken, query)
	p.recordCall(ctx, "fastmail", "search", err, start, truncate(query, 80))
	return results, err
}

func (p *Proxy) fastmailSearch(ctx context.Context, token, query string) ([]Result, error) {
	var session struct {
		APIURL          string            `json:"apiUrl"`
		PrimaryAccounts map[string]string `json:"primaryAccounts"`
	}
	if err := p.doJSON(ctx, "GET", p.fastmailSession, token, nil, nil, &session); err != nil {
		return nil, fmt.Errorf("jmap session: %w", err)
	}
	accountID := session.PrimaryAccounts[jmapMailURN]
	if session.APIURL == "" || accountID == "" {
		return nil, fmt.Errorf("searchproxy: jmap session missing mail account")
	}

	reqBody, err := json.Marshal(map[string]any{
		"using": []string{"urn:ietf:params:jmap:core", jmapMailURN},
		"methodCalls": []any{
			[]any{"Email/query", map[string]any{
				"accountId": accountID,
				"filter":    map[string]any{"text": query},
				"limit":     perProviderLimit,
			}, "0"},
			[]any{"Email/get", map[string]any{
				"accountId": accountID,
				"#ids": map[string]any{
					"resultOf": "0",
					"name":     "Email/query",
					"path":     "/ids",
				},
				"properties": []string{"subject", "from", "receivedAt", "preview"},
			}, "1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("searchproxy: marshal jmap request: %w", err)
	}

	var reply struct {
		MethodResponses []json.RawMessage `json:"methodResponses"`
	}
	if err := p.doJSON(ctx, "POST", session.APIURL, token, nil, bytes.NewReader(reqBody), &reply); err != nil {
		return nil, fmt.Errorf("jmap call: %w", err)
	}

	emails, err := jmapEmailList(reply.MethodResponses)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(emails))
	for _, e := range emails {
		from := ""
		if len(e.From) > 0 {
			from = e.From[0].Name
			if from == "" {
				from = e.From[0].Email
			}
		}
		title := e.Subject
		if title == "" {
			title = "(no subject)"
		}
		snippet := truncate(e.Preview, 200)
		if from != "" {
			snippet = from + ": " + snippet
		}
		results = append(results, Result{Title: title, Snippet: snippet, Kind: "email"})
	}
	return results, nil
}

type jmapEmail struct {
	Subject string `json:"subject"`
	Preview string `json:"preview"`
	From    []struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"from"`
}

// jmapEmailList finds the Email/get response among the method responses.
// Each response is a triple [name, args, callId].
func jmapEmailList(responses []json.RawMessage) ([]jmapEmail, error) {
	for _, raw := range responses {
		var triple []json.RawMessage
		if err := json.Unmarshal(raw, &triple); err != nil || len(triple) < 2 {
			continue
		}
		var name string
		if err := json.Unmarshal(triple[0], &name); err != nil || name != "Email/get" {
			continue
		}
		var args struct {
			List []jmapEmail `json:"list"`
		}
		if err := json.Unmarshal(triple[1], &args); err != nil {
			return nil, fmt.Errorf("searchproxy: parse Email/get: %w", err)
		}
		return args.List, nil
	}
	return nil, fmt.Errorf("searchproxy: jmap reply has no Email/get response")
}
