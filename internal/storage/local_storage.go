package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ResultSink stores a processed image and returns where it was written
type ResultSink interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}

// LocalStorage reads source files from disk and writes results into a directory
type LocalStorage struct {
	dir      string
	maxBytes int64
}

// NewLocalStorage writes results under dir
func NewLocalStorage(dir string, maxBytes int64) *LocalStorage {
	return &LocalStorage{dir: dir, maxBytes: maxBytes}
}

// FetchImage reads path from disk
func (s *LocalStorage) FetchImage(ctx context.Context, path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", ErrTooLarge, s.maxBytes)
	}
	return data, nil
}

// Save writes data to dir/name, creating dir when needed
func (s *LocalStorage) Save(ctx context.Context, name string, data []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	path := filepath.Join(s.dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write result: %w", err)
	}
	return path, nil
}
