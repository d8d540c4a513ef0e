// Package provider defines the object-store abstraction the job system
// runs against.
//
// The surface is deliberately small: every artifact access in the system
// is a get, put, or head by exact key. Providers must be safe for
// concurrent use; authentication uses SDK default credential chains.
package provider

import (
	"context"
	"io"
	"time"
)

// Provider abstracts a single bucket of object storage.
type Provider interface {
	// Head returns metadata for a single object.
	// Returns ErrNotFound if the object does not exist.
	Head(ctx context.Context, key string) (*ObjectMeta, error)

	// GetObject downloads an object as a stream.
	// Returns ErrNotFound if the object does not exist.
	GetObject(ctx context.Context, key string) (body io.ReadCloser, contentLength int64, err error)

	// PutObject creates or overwrites an object, attaching the content
	// type and user metadata from opts.
	PutObject(ctx context.Context, key string, body io.Reader, contentLength int64, opts PutOptions) error

	// Close releases any resources held by the provider.
	Close() error
}

// PutOptions carries the attributes stored alongside an object.
type PutOptions struct {
	// ContentType is the MIME type of the object.
	ContentType string

	// Metadata contains user-defined metadata key-value pairs. Keys are
	// stored lowercase (S3 semantics).
	Metadata map[string]string
}

// ObjectMeta contains metadata for a single object, as returned by Head.
type ObjectMeta struct {
	// Key is the full object key (path) in the bucket.
	Key string

	// Size is the object size in bytes.
	Size int64

	// LastModified is when the object was last modified.
	LastModified time.Time

	// ContentType is the MIME type of the object.
	ContentType string

	// Metadata contains user-defined metadata key-value pairs.
	Metadata map[string]string
}

// GetBytes fetches a whole object into memory. Artifacts in this system
// are single images or small text files, so buffering is the norm.
func GetBytes(ctx context.Context, p Provider, key string) ([]byte, error) {
	body, _, err := p.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()
	return io.ReadAll(body)
}

// ProviderType identifies an object-store backend.
type ProviderType string

const (
	// ProviderS3 represents AWS S3 or S3-compatible storage.
	ProviderS3 ProviderType = "s3"

	// ProviderFile represents local filesystem storage (tests, local dev).
	ProviderFile ProviderType = "file"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}
