package searchproxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hazyhaar/grimoire/settings"
)

func TestGitHubSearch(t *testing.T) {
	var gotQueries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer gh-token" {
			t.Errorf("auth = %q", got)
		}
		gotQueries = append(gotQueries, r.URL.Path+"|"+r.URL.Query().Get("q"))
		switch r.URL.Path {
		case "/search/repositories":
			json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{
				{"full_name": "acme/widgets", "description": "Widget factory", "html_url": "https://github.com/acme/widgets"},
			}})
		case "/search/issues":
			json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{
				{"title": "Widget crash", "body": "It crashed.", "html_url": "https://github.com/acme/widgets/issues/1"},
			}})
		case "/search/commits":
			json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{
				{"commit": map[string]any{"message": "Fix widget\n\nDetails."}, "html_url": "https://github.com/acme/widgets/commit/abc"},
			}})
		default:
			json.NewEncoder(w).Encode(map[string]any{"items": []any{}})
		}
	}))
	defer srv.Close()

	p := New(Config{GitHubBaseURL: srv.URL})
	st := &settings.Settings{GitHubToken: "gh-token", GitHubOrg: "acme", GitHubRepos: []string{"acme/widgets"}}
	results, err := p.GitHub(context.Background(), st, "widget")
	if err != nil {
		t.Fatalf("GitHub: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d: %+v", len(results), results)
	}
	if results[0].Kind != "repository" || results[0].Title != "acme/widgets" {
		t.Errorf("repo result = %+v", results[0])
	}
	if results[2].Title != "Fix widget" {
		t.Errorf("commit title = %q", results[2].Title)
	}
	// Scoped sub-searches must carry the org and repo qualifiers.
	for _, q := range gotQueries {
		if q == "/search/code|widget org:acme repo:acme/widgets" {
			return
		}
	}
	t.Errorf("code search not scoped: %v", gotQueries)
}

func TestGitHubRequiresToken(t *testing.T) {
	p := New(Config{})
	if _, err := p.GitHub(context.Background(), &settings.Settings{}, "x"); err == nil {
		t.Fatal("want error without token")
	}
}

func TestNotionSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Notion-Version"); got != "2022-06-28" {
			t.Errorf("Notion-Version = %q", got)
		}
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["query"] != "roadmap" {
			t.Errorf("query = %v", req["query"])
		}
		json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{
			{
				"object": "page",
				"url":    "https://notion.so/p1",
				"properties": map[string]any{
					"Name": map[string]any{
						"type":  "title",
						"title": []map[string]any{{"plain_text": "Roadmap "}, {"plain_text": "2026"}},
					},
				},
			},
			{
				"object": "database",
				"url":    "https://notion.so/d1",
				"title":  []map[string]any{{"plain_text": "Projects"}},
			},
		}})
	}))
	defer srv.Close()

	p := New(Config{NotionBaseURL: srv.URL})
	results, err := p.Notion(context.Background(), &settings.Settings{NotionToken: "nt"}, "roadmap")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Title != "Roadmap 2026" || results[0].Kind != "page" {
		t.Errorf("page result = %+v", results[0])
	}
	if results[1].Title != "Projects" || results[1].Kind != "database" {
		t.Errorf("database result = %+v", results[1])
	}
}

func TestFastmailSearch(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/jmap/session", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"apiUrl":          srv.URL + "/jmap/api",
			"primaryAccounts": map[string]string{jmapMailURN: "acc1"},
		})
	})
	mux.HandleFunc("/jmap/api", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			MethodCalls []json.RawMessage `json:"methodCalls"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.MethodCalls) != 2 {
			t.Errorf("method calls = %d", len(req.MethodCalls))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"methodResponses": []any{
				[]any{"Email/query", map[string]any{"ids": []string{"m1"}}, "0"},
				[]any{"Email/get", map[string]any{"list": []map[string]any{
					{
						"subject": "Invoice overdue",
						"preview": "Please pay.",
						"from":    []map[string]any{{"name": "Accounts", "email": "acc@example.com"}},
					},
				}}, "1"},
			},
		})
	})

	p := New(Config{FastmailSessionURL: srv.URL + "/jmap/session"})
	results, err := p.Fastmail(context.Background(), &settings.Settings{FastmailToken: "fm"}, "invoice")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Title != "Invoice overdue" || results[0].Kind != "email" {
		t.Errorf("result = %+v", results[0])
	}
	if results[0].Snippet != "Accounts: Please pay." {
		t.Errorf("snippet = %q", results[0].Snippet)
	}
}

func TestCapsuleSearch(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/parties/search", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"parties": []map[string]any{
			{"id": 1, "type": "person", "firstName": "Ana", "lastName": "Torres"},
		}})
	})
	mux.HandleFunc("/opportunities/search", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"opportunities": []map[string]any{
			{"id": 2, "name": "Widget deal", "description": "Big one."},
		}})
	})
	mux.HandleFunc("/kases/search", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"kases": []any{}})
	})
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"tasks": []map[string]any{
			{"id": 3, "description": "Call Ana", "detail": "About the deal", "dueOn": "2026-09-01"},
			{"id": 4, "description": "Unrelated chore", "detail": ""},
		}})
	})

	p := New(Config{})
	st := &settings.Settings{CapsuleToken: "cp", CapsuleBaseURL: srv.URL}
	results, err := p.Capsule(context.Background(), st, "ana")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Title != "Ana Torres" || results[0].Kind != "party" {
		t.Errorf("party = %+v", results[0])
	}
	if results[2].Title != "Call Ana" || results[2].Kind != "task" {
		t.Errorf("task = %+v", results[2])
	}
}

func TestGitHubSubSearchFailureIsSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/search/repositories" {
			json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{
				{"full_name": "acme/ok", "html_url": "https://github.com/acme/ok"},
			}})
			return
		}
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := New(Config{GitHubBaseURL: srv.URL})
	results, err := p.GitHub(context.Background(), &settings.Settings{GitHubToken: "t"}, "x")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Title != "acme/ok" {
		t.Errorf("results = %+v", results)
	}
}
