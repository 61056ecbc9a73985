// Package settings manages the user-facing settings.json: API tokens,
// the project folder location, and prompt overrides for the AI pipeline.
//
// Secrets never leave the process unmasked: any key containing "token" or
// "key" is rendered as bullet characters plus the last four characters,
// and updates that still carry the mask are ignored so a masked value can
// round-trip through an edit form without being destroyed.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hazyhaar/grimoire/safeio"
)

// maskRune prefixes masked secret values.
const maskRune = '•'

// Settings is the persisted configuration document.
type Settings struct {
	OpenAIAPIKey   string            `json:"openai_api_key,omitempty"`
	OpenAIModel    string            `json:"openai_model,omitempty"`
	GitHubToken    string            `json:"github_token,omitempty"`
	GitHubOrg      string            `json:"github_org,omitempty"`
	GitHubRepos    []string          `json:"github_repos,omitempty"`
	NotionToken    string            `json:"notion_token,omitempty"`
	FastmailToken  string            `json:"fastmail_token,omitempty"`
	CapsuleToken   string            `json:"capsule_token,omitempty"`
	CapsuleBaseURL string            `json:"capsule_base_url,omitempty"`
	ProjectFolder  string            `json:"project_folder,omitempty"`
	Prompts        map[string]string `json:"prompts,omitempty"`
}

// Manager loads and saves settings.json with masking-aware updates.
type Manager struct {
	path string
	mu   sync.Mutex
}

// NewManager creates a Manager for the settings file at path.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Load reads the settings file. A missing file yields empty settings.
func (m *Manager) Load() (*Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked()
}

func (m *Manager) loadLocked() (*Settings, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Settings{}, nil
		}
		return nil, fmt.Errorf("settings: read: %w", err)
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("settings: parse: %w", err)
	}
	return &s, nil
}

// Save persists settings atomically, creating parent directories.
func (m *Manager) Save(s *Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(s)
}

func (m *Manager) saveLocked(s *Settings) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("settings: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("settings: marshal: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".settings-*.tmp")
	if err != nil {
		return fmt.Errorf("settings: temp: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("settings: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("settings: close: %w", err)
	}
	if err := os.Rename(name, m.path); err != nil {
		os.Remove(name)
		return fmt.Errorf("settings: rename: %w", err)
	}
	return nil
}

// Masked returns the settings as a JSON object with secrets masked.
func (m *Manager) Masked() (map[string]any, error) {
	s, err := m.Load()
	if err != nil {
		return nil, err
	}
	doc, err := toMap(s)
	if err != nil {
		return nil, err
	}
	for k, v := range doc {
		if !isSecretKey(k) {
			continue
		}
		if sv, ok := v.(string); ok && sv != "" {
			doc[k] = MaskValue(sv)
		}
	}
	return doc, nil
}

// Apply merges a partial update into the stored settings. Masked secret
// values are skipped, empty strings clear the key, and a changed project
// folder must pass validation. The saved settings are returned.
func (m *Manager) Apply(patch map[string]any) (*Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, err := m.loadLocked()
	if err != nil {
		return nil, err
	}
	doc, err := toMap(cur)
	if err != nil {
		return nil, err
	}

	for k, v := range patch {
		sv, isStr := v.(string)
		if isStr && IsMasked(sv) {
			continue
		}
		if isStr && sv == "" {
			delete(doc, k)
			continue
		}
		doc[k] = v
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("settings: merge: %w", err)
	}
	var next Settings
	if err := json.Unmarshal(data, &next); err != nil {
		return nil, fmt.Errorf("settings: invalid update: %w", err)
	}

	if next.ProjectFolder != "" && next.ProjectFolder != cur.ProjectFolder {
		if err := safeio.ValidateProjectFolder(next.ProjectFolder); err != nil {
			return nil, err
		}
	}

	if err := m.saveLocked(&next); err != nil {
		return nil, err
	}
	return &next, nil
}

// MaskValue renders a secret as bullets plus its last four characters.
func MaskValue(s string) string {
	if len(s) <= 4 {
		return strings.Repeat(string(maskRune), len(s))
	}
	return strings.Repeat(string(maskRune), len(s)-4) + s[len(s)-4:]
}

// IsMasked reports whether a value still carries the display mask.
func IsMasked(s string) bool {
	return strings.HasPrefix(s, string(maskRune))
}

func isSecretKey(k string) bool {
	lk := strings.ToLower(k)
	return strings.Contains(lk, "token") || strings.Contains(lk, "key")
}

func toMap(s *Settings) (map[string]any, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("settings: marshal: %w", err)
	}
	doc := map[string]any{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("settings: remarshal: %w", err)
	}
	return doc, nil
}
