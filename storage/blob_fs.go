package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileBlobStore writes image bytes below a local directory that is served
// under urlPrefix.
type FileBlobStore struct {
	dir       string
	urlPrefix string
}

func NewFileBlobStore(dir, urlPrefix string) *FileBlobStore {
	return &FileBlobStore{dir: dir, urlPrefix: strings.TrimRight(urlPrefix, "/")}
}

// Put stores data under key. Keys are content addressed, so an existing file
// is left as it is.
func (s *FileBlobStore) Put(_ context.Context, key string, data []byte, _ string) (string, string, error) {
	clean := filepath.Clean("/" + key)[1:]
	if clean == "" {
		return "", "", fmt.Errorf("blob: invalid key %q", key)
	}
	target := filepath.Join(s.dir, clean)
	storedURL := s.urlPrefix + "/" + filepath.ToSlash(clean)

	if _, err := os.Stat(target); err == nil {
		return target, storedURL, nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", "", fmt.Errorf("blob: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".blob-*")
	if err != nil {
		return "", "", fmt.Errorf("blob: create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", "", fmt.Errorf("blob: write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", "", fmt.Errorf("blob: write %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return "", "", fmt.Errorf("blob: rename %s: %w", key, err)
	}
	return target, storedURL, nil
}
