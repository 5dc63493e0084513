package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewLocalStore(t *testing.T) {
	t.Run("creates directory if not exists", func(t *testing.T) {
		scratchDir := filepath.Join(os.TempDir(), "veostudio_test_"+randomSuffix())
		defer func() { _ = os.RemoveAll(scratchDir) }()

		store, err := NewLocalStore(scratchDir)
		if err != nil {
			t.Fatalf("NewLocalStore() error = %v", err)
		}

		if store.ScratchDir() != scratchDir {
			t.Errorf("ScratchDir() = %v, want %v", store.ScratchDir(), scratchDir)
		}

		info, err := os.Stat(scratchDir)
		if err != nil {
			t.Fatalf("directory not created: %v", err)
		}
		if !info.IsDir() {
			t.Error("expected directory, got file")
		}
	})

	t.Run("uses default directory when empty", func(t *testing.T) {
		store, err := NewLocalStore("")
		if err != nil {
			t.Fatalf("NewLocalStore() error = %v", err)
		}

		expected := filepath.Join(os.TempDir(), "veostudio")
		if store.ScratchDir() != expected {
			t.Errorf("ScratchDir() = %v, want %v", store.ScratchDir(), expected)
		}
	})
}

func TestLocalStore_SaveScratch(t *testing.T) {
	store := setupTestStore(t)

	t.Run("saves data to scratch file", func(t *testing.T) {
		ctx := context.Background()
		data := bytes.NewReader([]byte("webm bytes"))

		path, err := store.SaveScratch(ctx, "clip", data)
		if err != nil {
			t.Fatalf("SaveScratch() error = %v", err)
		}
		defer func() { _ = os.Remove(path) }()

		if !strings.Contains(path, "clip_") {
			t.Errorf("path %s should contain 'clip_'", path)
		}

		content, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read saved file: %v", err)
		}
		if string(content) != "webm bytes" {
			t.Errorf("got %q, want %q", string(content), "webm bytes")
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := store.SaveScratch(ctx, "clip", bytes.NewReader([]byte("data")))
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestLocalStore_OpenScratch(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	t.Run("opens saved file", func(t *testing.T) {
		path, err := store.SaveScratch(ctx, "open_test", bytes.NewReader([]byte("playback data")))
		if err != nil {
			t.Fatalf("SaveScratch() error = %v", err)
		}
		defer func() { _ = os.Remove(path) }()

		reader, err := store.OpenScratch(ctx, path)
		if err != nil {
			t.Fatalf("OpenScratch() error = %v", err)
		}
		defer func() { _ = reader.Close() }()

		content, err := io.ReadAll(reader)
		if err != nil {
			t.Fatalf("failed to read: %v", err)
		}
		if string(content) != "playback data" {
			t.Errorf("got %q, want %q", string(content), "playback data")
		}
	})

	t.Run("returns error for non-existent file", func(t *testing.T) {
		_, err := store.OpenScratch(ctx, "/non/existent/file")
		if err == nil {
			t.Error("expected error for non-existent file")
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := store.OpenScratch(ctx, "/some/path")
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestLocalStore_Remove(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	t.Run("removes files", func(t *testing.T) {
		var paths []string
		for i := 0; i < 3; i++ {
			path, err := store.SaveScratch(ctx, "remove", bytes.NewReader([]byte("data")))
			if err != nil {
				t.Fatalf("SaveScratch() error = %v", err)
			}
			paths = append(paths, path)
		}

		err := store.Remove(ctx, paths)
		if err != nil {
			t.Fatalf("Remove() error = %v", err)
		}

		for _, p := range paths {
			if _, err := os.Stat(p); !os.IsNotExist(err) {
				t.Errorf("file %s still exists", p)
			}
		}
	})

	t.Run("ignores non-existent files", func(t *testing.T) {
		err := store.Remove(ctx, []string{"/non/existent/file"})
		if err != nil {
			t.Errorf("Remove() should ignore non-existent files, got %v", err)
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := store.Remove(ctx, []string{"/some/path"})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestLocalStore_Archive(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Archive(ctx, "key", bytes.NewReader([]byte("data")))
	if err != ErrArchiveNotConfigured {
		t.Errorf("expected ErrArchiveNotConfigured, got %v", err)
	}
}

func setupTestStore(t *testing.T) *LocalStore {
	t.Helper()
	scratchDir := filepath.Join(os.TempDir(), "veostudio_test_"+randomSuffix())
	t.Cleanup(func() { _ = os.RemoveAll(scratchDir) })

	store, err := NewLocalStore(scratchDir)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func randomSuffix() string {
	return time.Now().Format("20060102150405.000000000")
}
