// Package storage supplies model and label assets by logical name.
//
// The classification engine only needs load-by-name semantics; this
// package abstracts where the bytes live so deployments can ship
// assets on local disk or pull them from an S3-compatible bucket
// without changing engine code.
package storage

import (
	"context"
	"io"
)

// Store is a minimal interface for asset storage.
//
// Paths are forward-slash separated and relative to the store root.
// Implementations must be safe for concurrent use.
type Store interface {
	// Read opens the named asset for reading.
	// The caller must close the returned ReadCloser when done.
	// If the asset does not exist, an error wrapping os.ErrNotExist is
	// returned.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write opens the named asset for writing, truncating any existing
	// content. The caller must close the returned WriteCloser to flush.
	Write(ctx context.Context, path string) (io.WriteCloser, error)

	// Delete removes the named asset. Deleting a missing asset is not
	// an error (idempotent).
	Delete(ctx context.Context, path string) error

	// Exists reports whether the named asset exists.
	Exists(ctx context.Context, path string) (bool, error)
}

// ReadAll fetches a complete asset into memory. Model files are loaded
// this way once per process.
func ReadAll(ctx context.Context, s Store, path string) ([]byte, error) {
	rc, err := s.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
