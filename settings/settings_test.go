package settings

import (
	"path/filepath"
	"strings"
	"testing"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(filepath.Join(t.TempDir(), "settings.json"))
}

func TestLoadMissingFile(t *testing.T) {
	m := testManager(t)
	s, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.OpenAIAPIKey != "" || s.ProjectFolder != "" {
		t.Errorf("expected zero settings, got %+v", s)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := testManager(t)
	in := &Settings{
		OpenAIAPIKey: "sk-test-1234567890",
		GitHubOrg:    "acme",
		GitHubRepos:  []string{"acme/app", "acme/lib"},
		Prompts:      map[string]string{"grammar": "fix this"},
	}
	if err := m.Save(in); err != nil {
		t.Fatal(err)
	}
	got, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if got.OpenAIAPIKey != in.OpenAIAPIKey || got.GitHubOrg != "acme" ||
		len(got.GitHubRepos) != 2 || got.Prompts["grammar"] != "fix this" {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestMaskedHidesSecrets(t *testing.T) {
	m := testManager(t)
	if err := m.Save(&Settings{
		OpenAIAPIKey: "sk-abcdef123456",
		GitHubToken:  "ghp_secret9876",
		GitHubOrg:    "acme",
	}); err != nil {
		t.Fatal(err)
	}

	doc, err := m.Masked()
	if err != nil {
		t.Fatal(err)
	}
	key := doc["openai_api_key"].(string)
	if !strings.HasPrefix(key, "•") || !strings.HasSuffix(key, "3456") {
		t.Errorf("openai_api_key not masked properly: %q", key)
	}
	if strings.Contains(key, "sk-abcdef") {
		t.Errorf("secret leaked: %q", key)
	}
	tok := doc["github_token"].(string)
	if !strings.HasSuffix(tok, "9876") || strings.Contains(tok, "ghp_secret") {
		t.Errorf("github_token not masked: %q", tok)
	}
	if doc["github_org"] != "acme" {
		t.Errorf("non-secret masked: %v", doc["github_org"])
	}
}

func TestApplySkipsMaskedValues(t *testing.T) {
	m := testManager(t)
	if err := m.Save(&Settings{OpenAIAPIKey: "sk-original-key-value"}); err != nil {
		t.Fatal(err)
	}

	// Simulate a form POST that echoes the masked value back.
	masked := MaskValue("sk-original-key-value")
	next, err := m.Apply(map[string]any{
		"openai_api_key": masked,
		"github_org":     "acme",
	})
	if err != nil {
		t.Fatal(err)
	}
	if next.OpenAIAPIKey != "sk-original-key-value" {
		t.Errorf("masked echo destroyed secret: %q", next.OpenAIAPIKey)
	}
	if next.GitHubOrg != "acme" {
		t.Errorf("plain update dropped: %+v", next)
	}
}

func TestApplyEmptyStringClears(t *testing.T) {
	m := testManager(t)
	if err := m.Save(&Settings{NotionToken: "secret_tok_1"}); err != nil {
		t.Fatal(err)
	}
	next, err := m.Apply(map[string]any{"notion_token": ""})
	if err != nil {
		t.Fatal(err)
	}
	if next.NotionToken != "" {
		t.Errorf("empty string did not clear: %q", next.NotionToken)
	}
}

func TestApplyValidatesProjectFolder(t *testing.T) {
	m := testManager(t)

	if _, err := m.Apply(map[string]any{"project_folder": "/etc"}); err == nil {
		t.Error("system dir accepted as project folder")
	}
	if _, err := m.Apply(map[string]any{"project_folder": "relative/path"}); err == nil {
		t.Error("relative path accepted as project folder")
	}

	dir := t.TempDir()
	next, err := m.Apply(map[string]any{"project_folder": dir})
	if err != nil {
		t.Fatalf("valid folder rejected: %v", err)
	}
	if next.ProjectFolder != dir {
		t.Errorf("project folder = %q", next.ProjectFolder)
	}
}

func TestMaskValue(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"abcd", "••••"},
		{"ab", "••"},
		{"abcdefgh", "••••efgh"},
	}
	for _, tt := range tests {
		if got := MaskValue(tt.in); got != tt.want {
			t.Errorf("MaskValue(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
