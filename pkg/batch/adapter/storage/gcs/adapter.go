// Package gcs implements storage connections on Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	storage "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// ProviderType is the storage type handled by this package.
const ProviderType = "gcs"

type connection struct {
	client *gcstorage.Client
	cfg    storage.Config
	name   string
}

var _ storage.Connection = (*connection)(nil)

// NewConnection creates a GCS client for cfg.
func NewConnection(ctx context.Context, name string, cfg storage.Config) (storage.Connection, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
		if cfg.CredentialsFile == "" {
			opts = append(opts, option.WithoutAuthentication())
		}
	}
	client, err := gcstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs storage '%s': failed to create client: %w", name, err)
	}
	return &connection{client: client, cfg: cfg, name: name}, nil
}

func (c *connection) Name() string { return c.name }
func (c *connection) Type() string { return ProviderType }
func (c *connection) Close() error { return c.client.Close() }

func (c *connection) bucket(name string) (*gcstorage.BucketHandle, error) {
	if name == "" {
		name = c.cfg.BucketName
	}
	if name == "" {
		return nil, fmt.Errorf("gcs storage '%s': no bucket given and bucket_name not configured", c.name)
	}
	return c.client.Bucket(name), nil
}

func (c *connection) object(bucket, objectName string) (*gcstorage.ObjectHandle, error) {
	b, err := c.bucket(bucket)
	if err != nil {
		return nil, err
	}
	return b.Object(objectName), nil
}

func (c *connection) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	obj, err := c.object(bucket, objectName)
	if err != nil {
		return err
	}
	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return fmt.Errorf("failed to upload '%s': %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish upload of '%s': %w", objectName, err)
	}
	logger.Debugf("GCS storage '%s': uploaded '%s'.", c.name, objectName)
	return nil
}

func (c *connection) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	return c.DownloadRange(ctx, bucket, objectName, 0, -1)
}

func (c *connection) DownloadRange(ctx context.Context, bucket, objectName string, offset, length int64) (io.ReadCloser, error) {
	obj, err := c.object(bucket, objectName)
	if err != nil {
		return nil, err
	}
	r, err := obj.NewRangeReader(ctx, offset, length)
	if err != nil {
		return nil, fmt.Errorf("failed to open '%s': %w", objectName, err)
	}
	return r, nil
}

func (c *connection) Size(ctx context.Context, bucket, objectName string) (int64, error) {
	obj, err := c.object(bucket, objectName)
	if err != nil {
		return 0, err
	}
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read attributes of '%s': %w", objectName, err)
	}
	return attrs.Size, nil
}

func (c *connection) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	b, err := c.bucket(bucket)
	if err != nil {
		return err
	}
	it := b.Objects(ctx, &gcstorage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list objects with prefix '%s': %w", prefix, err)
		}
		if err := fn(attrs.Name); err != nil {
			return err
		}
	}
}

func (c *connection) DeleteObject(ctx context.Context, bucket, objectName string) error {
	obj, err := c.object(bucket, objectName)
	if err != nil {
		return err
	}
	if err := obj.Delete(ctx); err != nil && !errors.Is(err, gcstorage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete '%s': %w", objectName, err)
	}
	return nil
}

// Provider opens GCS connections.
type Provider struct{}

var _ storage.Provider = Provider{}

// NewProvider creates a Provider.
func NewProvider() Provider { return Provider{} }

// Type implements storage.Provider.
func (Provider) Type() string { return ProviderType }

// Open implements storage.Provider.
func (Provider) Open(ctx context.Context, name string, cfg storage.Config) (storage.Connection, error) {
	return NewConnection(ctx, name, cfg)
}
