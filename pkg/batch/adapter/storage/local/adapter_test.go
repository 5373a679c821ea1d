package local_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storage "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/local"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
)

func open(t *testing.T) (storage.Connection, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "store")
	conn, err := local.NewConnection("files", storage.Config{Type: local.ProviderType, BaseDir: dir, BucketName: "incoming"})
	require.NoError(t, err)
	return conn, dir
}

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestConnection_UploadDownload(t *testing.T) {
	ctx := context.Background()
	conn, dir := open(t)

	require.NoError(t, conn.Upload(ctx, "", "customers/a.csv", strings.NewReader("0123456789"), "text/csv"))
	assert.FileExists(t, filepath.Join(dir, "incoming", "customers", "a.csv"))

	rc, err := conn.Download(ctx, "", "customers/a.csv")
	require.NoError(t, err)
	assert.Equal(t, "0123456789", readAll(t, rc))

	rc, err = conn.DownloadRange(ctx, "incoming", "customers/a.csv", 3, 4)
	require.NoError(t, err)
	assert.Equal(t, "3456", readAll(t, rc))

	rc, err = conn.DownloadRange(ctx, "", "customers/a.csv", 8, -1)
	require.NoError(t, err)
	assert.Equal(t, "89", readAll(t, rc))

	size, err := conn.Size(ctx, "", "customers/a.csv")
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)

	require.NoError(t, conn.Upload(ctx, "", "customers/a.csv", strings.NewReader("new"), "text/csv"))
	rc, err = conn.Download(ctx, "", "customers/a.csv")
	require.NoError(t, err)
	assert.Equal(t, "new", readAll(t, rc))
}

func TestConnection_ListObjects(t *testing.T) {
	ctx := context.Background()
	conn, dir := open(t)
	for _, name := range []string{"customers/b.csv", "customers/a.csv", "orders/x.csv"} {
		require.NoError(t, conn.Upload(ctx, "", name, strings.NewReader(name), ""))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "incoming", "customers", ".partial"), []byte("x"), 0o644))

	var listed []string
	require.NoError(t, conn.ListObjects(ctx, "", "customers/", func(name string) error {
		listed = append(listed, name)
		return nil
	}))
	assert.Equal(t, []string{"customers/a.csv", "customers/b.csv"}, listed)
}

func TestConnection_DeleteAndEscape(t *testing.T) {
	ctx := context.Background()
	conn, _ := open(t)
	require.NoError(t, conn.Upload(ctx, "", "a.txt", strings.NewReader("a"), ""))
	require.NoError(t, conn.DeleteObject(ctx, "", "a.txt"))
	require.NoError(t, conn.DeleteObject(ctx, "", "a.txt"), "deleting a missing object is not an error")

	_, err := conn.Size(ctx, "", "a.txt")
	assert.Error(t, err)

	_, err = conn.Download(ctx, "", "../../etc/passwd")
	assert.ErrorContains(t, err, "outside of base_dir")
}

func TestNewConnection_Validation(t *testing.T) {
	_, err := local.NewConnection("files", storage.Config{})
	assert.ErrorContains(t, err, "base_dir must be set")

	file := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = local.NewConnection("files", storage.Config{BaseDir: file})
	assert.ErrorContains(t, err, "not a directory")
}

func TestConnections_OpensConfiguredConnection(t *testing.T) {
	ctx := context.Background()
	cfg := config.NewConfig()
	cfg.Chunkflow.AdapterConfigs["storage"] = map[string]interface{}{
		"input": map[string]interface{}{
			"type":        "local",
			"base_dir":    t.TempDir(),
			"bucket_name": "incoming",
		},
		"archive": map[string]interface{}{"type": "s3"},
	}
	conns := storage.NewConnections(cfg, []storage.Provider{local.NewProvider()})

	conn, err := conns.Get(ctx, "input")
	require.NoError(t, err)
	assert.Equal(t, "input", conn.Name())
	assert.Equal(t, local.ProviderType, conn.Type())

	again, err := conns.Get(ctx, "input")
	require.NoError(t, err)
	assert.Same(t, conn, again)

	_, err = conns.Get(ctx, "archive")
	assert.ErrorContains(t, err, "no provider for type 's3'")
	_, err = conns.Get(ctx, "missing")
	assert.ErrorContains(t, err, "not configured")

	require.NoError(t, conns.CloseAll())
}
