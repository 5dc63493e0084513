// Package storage holds retrieved and post-processed media on disk for
// playback, and can optionally archive finished assets to S3.
package storage

import (
	"context"
	"io"
)

// AssetStore is the port the workflow uses to persist media. Retrieved
// videos and trimmed derivatives land in scratch files; Archive pushes a
// finished asset to durable storage when that is configured.
type AssetStore interface {
	// SaveScratch writes data to a scratch file and returns its path.
	// The name is a filename hint, not the final name.
	SaveScratch(ctx context.Context, name string, data io.Reader) (path string, err error)

	// OpenScratch opens a scratch file for reading. The caller closes
	// the returned reader.
	OpenScratch(ctx context.Context, path string) (io.ReadCloser, error)

	// Remove deletes the given scratch files. Missing files are not an
	// error; the first real failure is reported after all paths were
	// attempted.
	Remove(ctx context.Context, paths []string) error

	// Archive copies data to durable storage under key and returns its
	// public URL. Returns ErrArchiveNotConfigured when no archive
	// backend is set up.
	Archive(ctx context.Context, key string, data io.Reader) (url string, err error)
}
