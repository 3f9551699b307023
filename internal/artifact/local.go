package artifact

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// LocalPublisher writes reports under a base directory. It is used when no
// bucket is configured, mostly in development.
type LocalPublisher struct {
	baseDir string
}

func NewLocalPublisher(baseDir string) *LocalPublisher {
	return &LocalPublisher{baseDir: baseDir}
}

// Publish writes to a temp file and renames it over the target, so readers
// never see a partially written report.
func (l *LocalPublisher) Publish(_ context.Context, key string, body []byte) (string, error) {
	path, err := l.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("%w: create dirs: %w", ErrPublish, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("%w: create temp file: %w", ErrPublish, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("%w: write %s: %w", ErrPublish, key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: close %s: %w", ErrPublish, key, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", fmt.Errorf("%w: chmod %s: %w", ErrPublish, key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("%w: rename %s: %w", ErrPublish, key, err)
	}
	return key, nil
}

// URL returns a file:// link to the stored report.
func (l *LocalPublisher) URL(_ context.Context, key string) (string, error) {
	path, err := l.path(key)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", key, err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

func (l *LocalPublisher) path(key string) (string, error) {
	clean := sanitizeKey(key)
	if clean == "" || clean == "." || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("%w: invalid key %q", ErrPublish, key)
	}
	return filepath.Join(l.baseDir, clean), nil
}

func sanitizeKey(key string) string {
	key = filepath.Clean(filepath.FromSlash(key))
	key = strings.TrimPrefix(key, string(filepath.Separator))
	key = strings.TrimPrefix(key, "./")
	return key
}

func contentTypeFor(key string) string {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".csv":
		return "text/csv; charset=utf-8"
	}
	if t := mime.TypeByExtension(filepath.Ext(key)); t != "" {
		return t
	}
	return "application/octet-stream"
}
