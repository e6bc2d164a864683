package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	auth "github.com/shreegurucool/auth-go"
)

// File persists the token in a JSON key/value document, the way a browser
// keeps it in local storage. Keys other than auth.TokenKey are preserved.
type File struct {
	path string
	mu   sync.Mutex
}

// compile-time check
var _ auth.TokenStore = (*File)(nil)

// NewFile creates a store backed by the document at path. The file and its
// directory are created on first Set.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

// Get returns the stored token, or "" when the file does not exist.
func (f *File) Get(ctx context.Context) (string, error) {
	return f.Value(ctx, auth.TokenKey)
}

// Set stores the token.
func (f *File) Set(ctx context.Context, token string) error {
	return f.SetValue(ctx, auth.TokenKey, token)
}

// Clear removes the token. A missing file is left missing.
func (f *File) Clear(ctx context.Context) error {
	return f.SetValue(ctx, auth.TokenKey, "")
}

// Value returns the entry stored under key, or "" when absent.
func (f *File) Value(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return "", err
	}
	return doc[key], nil
}

// SetValue stores value under key. An empty value removes the entry.
func (f *File) SetValue(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}
	if value == "" {
		if _, ok := doc[key]; !ok {
			return nil
		}
		delete(doc, key)
	} else {
		doc[key] = value
	}
	return f.write(doc)
}

func (f *File) read() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("auth/tokenstore: read %s: %w", f.path, err)
	}
	doc := map[string]string{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("auth/tokenstore: decode %s: %w", f.path, err)
	}
	return doc, nil
}

// write replaces the document atomically.
func (f *File) write(doc map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("auth/tokenstore: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("auth/tokenstore: encode: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".storage-*")
	if err != nil {
		return fmt.Errorf("auth/tokenstore: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("auth/tokenstore: write: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("auth/tokenstore: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("auth/tokenstore: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("auth/tokenstore: %w", err)
	}
	return nil
}
