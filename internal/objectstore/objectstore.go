// Package objectstore defines the ObjectStore interface — the core's
// sole dependency on "the concrete object store SDK" collaborator
// described as out of scope in spec.md §1. Concrete implementations
// live in objectstore/s3store (production, AWS S3) and
// objectstore/memstore (in-memory fake for tests).
package objectstore

import (
	"context"
	"io"
)

// ObjectStore is a minimal bucket-scoped blob store: get, put, delete.
// Every method takes the bucket explicitly because the core talks to
// three distinct buckets (primary, read-replica, standby) that may live
// in different regions, sometimes via different client instances.
type ObjectStore interface {
	// Get streams the object at bucket/key. Callers MUST close the
	// returned ReadCloser on every exit path.
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	// GetToFile downloads bucket/key directly to a local path,
	// overwriting it. This is the common case in the core (rehydration,
	// cold reads, migration downloads) and lets implementations stream
	// without buffering the whole object in memory.
	GetToFile(ctx context.Context, bucket, key, destPath string) error

	// PutFile uploads the local file at srcPath to bucket/key,
	// overwriting any existing object.
	PutFile(ctx context.Context, bucket, key, srcPath string) error

	// Delete removes bucket/key. Deleting a missing object is not an
	// error (idempotent), matching the best-effort deletion semantics
	// spec.md §9 requires of tenant teardown.
	Delete(ctx context.Context, bucket, key string) error
}

// ErrNotExist is returned by Get/GetToFile when the object is absent.
var ErrNotExist = notExistError("object does not exist")

type notExistError string

func (e notExistError) Error() string { return string(e) }
