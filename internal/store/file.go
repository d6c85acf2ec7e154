package store

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const recordExt = ".json"

// FileBackend stores one JSON record per key under a directory. Writes go to
// a temp file in the same directory and are renamed over the target, so a
// crash mid-write never corrupts the previous durable copy.
type FileBackend struct {
	dir string
}

// NewFileBackend creates the directory if needed and returns a file backend.
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("file backend: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

// Counterpart keys come from external protocols and may contain anything;
// hex-encode so every key maps to a safe, reversible file name.
func (b *FileBackend) path(key string) string {
	return filepath.Join(b.dir, hex.EncodeToString([]byte(key))+recordExt)
}

// Get returns the stored record for key.
func (b *FileBackend) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session record %s: %w", key, err)
	}
	return data, nil
}

// Put atomically replaces the record for key.
func (b *FileBackend) Put(_ context.Context, key string, data []byte) error {
	target := b.path(key)
	tmp, err := os.CreateTemp(b.dir, "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp record for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp record for %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync temp record for %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp record for %s: %w", key, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace session record %s: %w", key, err)
	}
	return nil
}

// Delete removes the record for key.
func (b *FileBackend) Delete(_ context.Context, key string) error {
	err := os.Remove(b.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete session record %s: %w", key, err)
	}
	return nil
}

// Keys lists all keys with a stored record. Files that do not decode back to
// a key are skipped.
func (b *FileBackend) Keys(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("list session directory: %w", err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, recordExt) || strings.HasPrefix(name, ".") {
			continue
		}
		raw, err := hex.DecodeString(strings.TrimSuffix(name, recordExt))
		if err != nil {
			continue
		}
		keys = append(keys, string(raw))
	}
	return keys, nil
}

// Ping verifies the directory is still accessible.
func (b *FileBackend) Ping(_ context.Context) error {
	if _, err := os.Stat(b.dir); err != nil {
		return fmt.Errorf("session directory unavailable: %w", err)
	}
	return nil
}

// Close is a no-op for the file backend.
func (b *FileBackend) Close() error { return nil }
