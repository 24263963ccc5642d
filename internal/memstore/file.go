package memstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// File persists the whole store as one JSON object on disk. Every Put
// rewrites the file through a temporary sibling and a rename.
type File struct {
	path   string
	mu     sync.Mutex
	values map[string][]byte
}

// OpenFile loads path if it exists; otherwise the store starts empty and the
// file is created on the first Put.
func OpenFile(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("memstore: file backend requires a path")
	}
	f := &File{path: path, values: map[string][]byte{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return f, nil
		}
		return nil, fmt.Errorf("memstore: read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return f, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("memstore: decode %s: %w", path, err)
	}
	for key, value := range raw {
		f.values[key] = []byte(value)
	}
	return f, nil
}

// Path returns the backing file.
func (f *File) Path() string { return f.path }

func (f *File) Put(_ context.Context, key string, value []byte) error {
	if err := validatePut(key, value); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	previous, had := f.values[key]
	f.values[key] = append([]byte(nil), value...)
	if err := f.flush(); err != nil {
		if had {
			f.values[key] = previous
		} else {
			delete(f.values, key)
		}
		return err
	}
	return nil
}

func (f *File) Get(_ context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (f *File) Keys(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedKeys(f.values, prefix), nil
}

func (f *File) Close() error { return nil }

func (f *File) flush() error {
	raw := make(map[string]json.RawMessage, len(f.values))
	for key, value := range f.values {
		raw[key] = json.RawMessage(value)
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("memstore: encode: %w", err)
	}
	data = append(data, '\n')
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("memstore: ensure dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("memstore: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("memstore: replace %s: %w", f.path, err)
	}
	return nil
}
