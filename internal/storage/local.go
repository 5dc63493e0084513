package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrArchiveNotConfigured is returned by Archive when no durable
// backend is configured.
var ErrArchiveNotConfigured = errors.New("asset archive is not configured")

// LocalStore keeps scratch media in a directory on local disk. It has no
// archive backend; wrap it with S3Store when archiving is wanted.
type LocalStore struct {
	scratchDir string
}

// NewLocalStore creates a LocalStore rooted at scratchDir, creating the
// directory if needed. An empty scratchDir falls back to a studio
// subdirectory of the system temp dir.
func NewLocalStore(scratchDir string) (*LocalStore, error) {
	if scratchDir == "" {
		scratchDir = filepath.Join(os.TempDir(), "veostudio")
	}

	if err := os.MkdirAll(scratchDir, 0750); err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}

	return &LocalStore{scratchDir: scratchDir}, nil
}

// ScratchDir returns the scratch directory path.
func (s *LocalStore) ScratchDir() string {
	return s.scratchDir
}

// SaveScratch streams data into a uniquely named file under the scratch
// directory and returns its path. A partial write leaves no file behind.
func (s *LocalStore) SaveScratch(ctx context.Context, name string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.CreateTemp(s.scratchDir, name+"_*")
	if err != nil {
		return "", fmt.Errorf("create scratch file: %w", err)
	}

	fileName := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(fileName)
		return "", fmt.Errorf("write scratch file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(fileName)
		return "", fmt.Errorf("close scratch file: %w", err)
	}

	return fileName, nil
}

// OpenScratch opens a scratch file for reading. The caller closes the
// returned reader.
func (s *LocalStore) OpenScratch(ctx context.Context, path string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.Open(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return nil, fmt.Errorf("open scratch file: %w", err)
	}

	return f, nil
}

// Remove deletes the given scratch files, attempting every path before
// reporting the first failure. Already-gone files are skipped silently.
func (s *LocalStore) Remove(ctx context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove scratch file %s: %w", p, err)
			}
		}
	}
	return firstErr
}

// Archive is not supported by LocalStore and returns
// ErrArchiveNotConfigured.
func (s *LocalStore) Archive(_ context.Context, _ string, _ io.Reader) (string, error) {
	return "", ErrArchiveNotConfigured
}
