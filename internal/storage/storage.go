// Package storage resolves the URIs that appear in catalogs and
// configuration into local files and readers.
//
// It defines the ObjectStore interface (port) for remote buckets with
// S3 and Google Cloud Storage implementations, a LocalStorage download
// directory, and a Resolver that ties them together.
package storage

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotConfigured is returned when a URI uses a cloud scheme for which
	// no ObjectStore was registered.
	ErrNotConfigured = errors.New("storage: object store not configured")
	// ErrObjectNotFound is returned when the object or file does not exist.
	ErrObjectNotFound = errors.New("storage: object not found")
	// ErrUnsupportedScheme is returned for URI schemes this package does not
	// handle.
	ErrUnsupportedScheme = errors.New("storage: unsupported URI scheme")
)

// ObjectStore reads and writes objects in a remote bucket.
type ObjectStore interface {
	// Get opens the object for reading. The caller closes the reader.
	// Returns ErrObjectNotFound if the object does not exist.
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	// Put uploads data and returns the object's URI.
	Put(ctx context.Context, bucket, key string, data io.Reader) (uri string, err error)
}

// IsNotFound reports whether err means the object or file does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}
