// Package local implements storage connections on the local file system. A bucket is a
// directory below the configured base directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	storage "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// ProviderType is the storage type handled by this package.
const ProviderType = "local"

type connection struct {
	cfg  storage.Config
	name string
}

var _ storage.Connection = (*connection)(nil)

// NewConnection opens a local connection, creating BaseDir if it does not exist.
func NewConnection(name string, cfg storage.Config) (storage.Connection, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("local storage '%s': base_dir must be set", name)
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
			return nil, fmt.Errorf("local storage '%s': failed to create base_dir '%s': %w", name, cfg.BaseDir, err)
		}
	case err != nil:
		return nil, fmt.Errorf("local storage '%s': failed to stat base_dir '%s': %w", name, cfg.BaseDir, err)
	case !info.IsDir():
		return nil, fmt.Errorf("local storage '%s': base_dir '%s' is not a directory", name, cfg.BaseDir)
	}
	return &connection{cfg: cfg, name: name}, nil
}

func (c *connection) Name() string { return c.name }
func (c *connection) Type() string { return ProviderType }
func (c *connection) Close() error { return nil }

func (c *connection) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	path, err := c.resolvePath(bucket, objectName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for '%s': %w", path, err)
	}
	// Write to a sibling file and rename so readers never see a partial object.
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create '%s': %w", path, err)
	}
	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write '%s': %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write '%s': %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move '%s' into place: %w", path, err)
	}
	logger.Debugf("Local storage '%s': uploaded '%s'.", c.name, path)
	return nil
}

func (c *connection) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	return c.DownloadRange(ctx, bucket, objectName, 0, -1)
}

func (c *connection) DownloadRange(ctx context.Context, bucket, objectName string, offset, length int64) (io.ReadCloser, error) {
	path, err := c.resolvePath(bucket, objectName)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open '%s': %w", path, err)
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to seek '%s' to %d: %w", path, offset, err)
		}
	}
	if length < 0 {
		return f, nil
	}
	return &limitedFile{Reader: io.LimitReader(f, length), f: f}, nil
}

func (c *connection) Size(ctx context.Context, bucket, objectName string) (int64, error) {
	path, err := c.resolvePath(bucket, objectName)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat '%s': %w", path, err)
	}
	return info.Size(), nil
}

func (c *connection) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	base, err := c.resolvePath(bucket, "")
	if err != nil {
		return err
	}
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !strings.HasPrefix(rel, prefix) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(rel)
	})
	if err != nil {
		return fmt.Errorf("failed to list '%s' with prefix '%s': %w", base, prefix, err)
	}
	return nil
}

func (c *connection) DeleteObject(ctx context.Context, bucket, objectName string) error {
	path, err := c.resolvePath(bucket, objectName)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete '%s': %w", path, err)
	}
	return nil
}

// resolvePath joins BaseDir, bucket and objectName and refuses paths outside BaseDir.
func (c *connection) resolvePath(bucket, objectName string) (string, error) {
	if bucket == "" {
		bucket = c.cfg.BucketName
	}
	full := filepath.Join(c.cfg.BaseDir, bucket, filepath.FromSlash(objectName))

	absBase, err := filepath.Abs(c.cfg.BaseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base_dir '%s': %w", c.cfg.BaseDir, err)
	}
	absFull, err := filepath.Abs(full)
	if err != nil {
		return "", fmt.Errorf("failed to resolve '%s': %w", full, err)
	}
	if absFull != absBase && !strings.HasPrefix(absFull, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path '%s' is outside of base_dir '%s'", full, c.cfg.BaseDir)
	}
	return full, nil
}

type limitedFile struct {
	io.Reader
	f *os.File
}

func (l *limitedFile) Close() error { return l.f.Close() }

// Provider opens local connections.
type Provider struct{}

var _ storage.Provider = Provider{}

// NewProvider creates a Provider.
func NewProvider() Provider { return Provider{} }

// Type implements storage.Provider.
func (Provider) Type() string { return ProviderType }

// Open implements storage.Provider.
func (Provider) Open(ctx context.Context, name string, cfg storage.Config) (storage.Connection, error) {
	return NewConnection(name, cfg)
}
