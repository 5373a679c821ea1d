// Package storage defines the object storage abstraction used by file-based partitioners,
// readers and writers. Buckets map to directories for the local backend.
package storage

import (
	"context"
	"io"
)

// Config holds the configuration of one named storage connection, found under
// chunkflow.adapter.storage.<name>.
type Config struct {
	Type            string `yaml:"type"`             // "local" or "gcs".
	BucketName      string `yaml:"bucket_name"`      // Default bucket when an operation passes "".
	CredentialsFile string `yaml:"credentials_file"` // GCS service account key. Empty uses default credentials.
	BaseDir         string `yaml:"base_dir"`         // Root directory of the local backend.
	Endpoint        string `yaml:"endpoint"`         // Overrides the GCS endpoint (emulators).
}

// Connection is an open storage connection.
type Connection interface {
	// Name is the configured connection name.
	Name() string
	// Type is the backend type.
	Type() string
	// Close releases the connection.
	Close() error

	// Upload writes data to bucket/objectName, replacing any existing object.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Download opens bucket/objectName for reading. The caller closes the reader.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// DownloadRange opens length bytes of bucket/objectName starting at offset. A negative
	// length reads to the end.
	DownloadRange(ctx context.Context, bucket, objectName string, offset, length int64) (io.ReadCloser, error)
	// Size returns the size of bucket/objectName in bytes.
	Size(ctx context.Context, bucket, objectName string) (int64, error)
	// ListObjects calls fn for every object under prefix, in lexical order.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error
	// DeleteObject removes bucket/objectName. A missing object is not an error.
	DeleteObject(ctx context.Context, bucket, objectName string) error
}

// Provider opens connections of one backend type.
type Provider interface {
	Type() string
	Open(ctx context.Context, name string, cfg Config) (Connection, error)
}
