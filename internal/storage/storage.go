// Package storage holds export bundles. S3 is used in production; local
// disk serves development and tests.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// Provider stores and retrieves export bundles by key.
type Provider interface {
	// Upload stores the object under key.
	Upload(ctx context.Context, key string, data io.Reader, size int64, contentType string) error

	// Download writes the object body to writer.
	Download(ctx context.Context, key string, writer io.Writer) error

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether the key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// PresignDownload returns a time-limited download URL.
	PresignDownload(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// LocalStorage keeps objects on the local filesystem.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a filesystem-backed provider.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if basePath == "" {
		basePath = "/tmp/mocksmith-exports"
	}
	if err := os.MkdirAll(basePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

func (s *LocalStorage) Upload(ctx context.Context, key string, data io.Reader, size int64, contentType string) error {
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, data); err != nil {
		os.Remove(fullPath)
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func (s *LocalStorage) Download(ctx context.Context, key string, writer io.Writer) error {
	f, err := os.Open(filepath.Join(s.basePath, filepath.FromSlash(key)))
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(writer, f); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return nil
}

func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	err := os.Remove(filepath.Join(s.basePath, filepath.FromSlash(key)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.basePath, filepath.FromSlash(key)))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// PresignDownload returns an app-relative URL; the export handler serves
// the body itself when storage is local.
func (s *LocalStorage) PresignDownload(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "/api/v1/exports/download/" + url.PathEscape(key), nil
}
