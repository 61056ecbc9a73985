package kbstore

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/grimoire/safeio"
)

const (
	screenshotDir = "screenshots"
	filesDir      = "files"
)

// tsFileSuffix turns "2006-01-02 15:04:05" into a filename-safe suffix.
func tsFileSuffix(ts string) string {
	ts = strings.ReplaceAll(ts, " ", "_")
	return strings.ReplaceAll(ts, ":", "-")
}

// writeMedia decodes any embedded payloads to disk and records their
// relative paths on the entry. Transport fields are cleared afterwards.
func (s *Store) writeMedia(e *Entry) error {
	if e.ScreenshotData != "" {
		rel, err := s.saveBase64(e.ScreenshotData, screenshotDir,
			fmt.Sprintf("screenshot_%s.png", tsFileSuffix(e.Timestamp)))
		if err != nil {
			return fmt.Errorf("kbstore: screenshot: %w", err)
		}
		e.Screenshot = rel
		e.ScreenshotData = ""
	}
	if e.FileData != "" {
		name := safeio.SanitizeFilename(e.FileName)
		ext := filepath.Ext(name)
		base := strings.TrimSuffix(name, ext)
		rel, err := s.saveBase64(e.FileData, filesDir,
			fmt.Sprintf("%s_%s%s", base, tsFileSuffix(e.Timestamp), ext))
		if err != nil {
			return fmt.Errorf("kbstore: file: %w", err)
		}
		e.File = rel
		e.FileData = ""
		e.FileName = ""
	}
	return nil
}

// saveBase64 decodes payload (optionally a data: URL) and writes it under
// root/subdir/name, returning the relative path.
func (s *Store) saveBase64(payload, subdir, name string) (string, error) {
	if i := strings.Index(payload, "base64,"); i >= 0 {
		payload = payload[i+len("base64,"):]
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}

	dir := filepath.Join(s.root, subdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", subdir, err)
	}
	rel := filepath.Join(subdir, name)
	abs, err := safeio.SafePath(s.root, rel)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(abs, raw, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", rel, err)
	}
	return rel, nil
}

// removeMedia deletes the entry's media files best-effort. Paths are
// validated against the project root so a hand-edited block cannot reach
// outside it.
func (s *Store) removeMedia(e *Entry) {
	for _, rel := range []string{e.Screenshot, e.File} {
		if rel == "" {
			continue
		}
		abs, err := safeio.SafePath(s.root, rel)
		if err != nil {
			s.logger.Warn("kbstore: media path rejected", "path", rel, "error", err)
			continue
		}
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("kbstore: remove media", "path", rel, "error", err)
		}
	}
}
