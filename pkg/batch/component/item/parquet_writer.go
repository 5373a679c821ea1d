package item

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	storage "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/configbinder"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// ParquetWriterConfig is the configuration of a ParquetItemWriter.
type ParquetWriterConfig struct {
	// Bucket in the storage connection. Empty uses the connection's default bucket.
	Bucket string `yaml:"bucket"`
	// OutputBaseDir is the object prefix files are written under.
	OutputBaseDir string `yaml:"output_base_dir"`
	// CompressionType is SNAPPY (default), GZIP or NONE.
	CompressionType string `yaml:"compression_type"`
}

// ParquetItemWriter writes every chunk as Parquet files in object storage, one file per
// partition key. Object storage cannot join the chunk transaction, so files are uploaded
// during Write and deleted again if the transaction rolls back.
//
// T must carry parquet struct tags.
type ParquetItemWriter[T any] struct {
	name         string
	conn         storage.Connection
	cfg          ParquetWriterConfig
	codec        parquet.CompressionCodec
	partitionKey func(T) (string, error)

	mu        sync.Mutex
	committed []string
}

// NewParquetItemWriter creates a writer. partitionKey may be nil; otherwise its result becomes
// a directory below OutputBaseDir (for example "dt=2024-01-31").
func NewParquetItemWriter[T any](name string, conn storage.Connection, cfg ParquetWriterConfig, partitionKey func(T) (string, error)) (*ParquetItemWriter[T], error) {
	if cfg.CompressionType == "" {
		cfg.CompressionType = "SNAPPY"
	}
	codec, err := compressionCodec(cfg.CompressionType)
	if err != nil {
		return nil, exception.NewBatchError("writer", fmt.Sprintf("ParquetItemWriter '%s'", name), err, false, false)
	}
	return &ParquetItemWriter[T]{name: name, conn: conn, cfg: cfg, codec: codec, partitionKey: partitionKey}, nil
}

// NewParquetItemWriterFromProperties binds properties (a map from job configuration) into a
// ParquetWriterConfig and creates the writer.
func NewParquetItemWriterFromProperties[T any](name string, conn storage.Connection, properties map[string]interface{}, partitionKey func(T) (string, error)) (*ParquetItemWriter[T], error) {
	var cfg ParquetWriterConfig
	if err := configbinder.BindProperties(properties, &cfg); err != nil {
		return nil, exception.NewBatchError("writer", fmt.Sprintf("ParquetItemWriter '%s': invalid properties", name), err, false, false)
	}
	return NewParquetItemWriter(name, conn, cfg, partitionKey)
}

func (w *ParquetItemWriter[T]) Write(ctx context.Context, t tx.Tx, items []T) error {
	if len(items) == 0 {
		return nil
	}
	groups := make(map[string][]T)
	for _, item := range items {
		key := ""
		if w.partitionKey != nil {
			k, err := w.partitionKey(item)
			if err != nil {
				return exception.NewBatchError("writer", fmt.Sprintf("ParquetItemWriter '%s': failed to derive partition key", w.name), err, false, false)
			}
			key = k
		}
		groups[key] = append(groups[key], item)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var uploaded []string
	for _, key := range keys {
		objectName, err := w.upload(ctx, key, groups[key])
		if err != nil {
			if cleanupErr := w.deleteAll(ctx, uploaded); cleanupErr != nil {
				err = multierror.Append(err, cleanupErr)
			}
			return exception.NewBatchError("writer", fmt.Sprintf("ParquetItemWriter '%s': failed to write partition '%s'", w.name, key), err, false, true)
		}
		uploaded = append(uploaded, objectName)
	}

	if t != nil {
		t.RegisterSynchronization(&parquetStage[T]{writer: w, objects: uploaded})
	} else {
		w.markCommitted(uploaded)
	}
	return nil
}

func (w *ParquetItemWriter[T]) upload(ctx context.Context, key string, items []T) (objectName string, err error) {
	buf := new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, new(T), 1)
	if err != nil {
		return "", fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = w.codec
	for _, item := range items {
		if err := pw.Write(item); err != nil {
			return "", fmt.Errorf("encode item: %w", err)
		}
	}
	// WriteStop panics on some schema mismatches.
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("parquet writer panicked: %v", r)
			}
		}()
		if stopErr := pw.WriteStop(); stopErr != nil {
			err = fmt.Errorf("finish parquet file: %w", stopErr)
		}
	}()
	if err != nil {
		return "", err
	}

	objectName = path.Join(w.cfg.OutputBaseDir, key, fmt.Sprintf("%s-%s.parquet", w.name, uuid.NewString()))
	if err := w.conn.Upload(ctx, w.cfg.Bucket, objectName, buf, "application/vnd.apache.parquet"); err != nil {
		return "", err
	}
	logger.Debugf("ParquetItemWriter '%s': staged %d item(s) in '%s'.", w.name, len(items), objectName)
	return objectName, nil
}

func (w *ParquetItemWriter[T]) deleteAll(ctx context.Context, objects []string) error {
	var result *multierror.Error
	for _, o := range objects {
		if err := w.conn.DeleteObject(ctx, w.cfg.Bucket, o); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (w *ParquetItemWriter[T]) markCommitted(objects []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.committed = append(w.committed, objects...)
}

// Files returns the objects of committed chunks, in commit order.
func (w *ParquetItemWriter[T]) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.committed))
	copy(out, w.committed)
	return out
}

type parquetStage[T any] struct {
	writer  *ParquetItemWriter[T]
	objects []string
}

func (s *parquetStage[T]) AfterCommit(ctx context.Context) error {
	s.writer.markCommitted(s.objects)
	return nil
}

func (s *parquetStage[T]) AfterRollback(ctx context.Context) error {
	logger.Debugf("ParquetItemWriter '%s': chunk rolled back, removing %d file(s).", s.writer.name, len(s.objects))
	return s.writer.deleteAll(context.WithoutCancel(ctx), s.objects)
}

func compressionCodec(compressionType string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(compressionType) {
	case "SNAPPY":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression type '%s'", compressionType)
	}
}

var _ port.ItemWriter[any] = (*ParquetItemWriter[any])(nil)
