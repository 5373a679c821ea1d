package item

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	storage "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	"github.com/tigerroll/chunkflow/pkg/batch/component/partitioner"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// ErrFlatFileParse is matched (errors.Is) by every FlatFileParseError. It is registered as
// "FlatFileParseException" for skip and retry configuration.
var ErrFlatFileParse = errors.New("FlatFileParseException")

func init() {
	exception.RegisterErrorType("FlatFileParseException", ErrFlatFileParse)
}

// FlatFileParseError reports a line the LineMapper rejected. The reader has already moved past
// the line, so skipping it is safe.
type FlatFileParseError struct {
	Resource   string
	LineNumber int64
	Line       string
	Err        error
}

func (e *FlatFileParseError) Error() string {
	return fmt.Sprintf("parsing error at line %d in '%s': %v (input: %q)", e.LineNumber, e.Resource, e.Err, e.Line)
}

func (e *FlatFileParseError) Unwrap() error { return e.Err }

func (e *FlatFileParseError) Is(target error) bool { return target == ErrFlatFileParse }

// LineMapper turns one line (without its terminator) into an item. lineNumber is 1-based
// and counts from the start of the slice being read.
type LineMapper[T any] func(line string, lineNumber int64) (T, error)

// FlatFileItemReader reads one item per line from an object in storage.
//
// When the step ExecutionContext carries a partition slice ("resource", "startAt",
// "itemsCount", as written by partitioner.FlatFilePartitioner, or "fileName" from
// partitioner.MultiResourcePartitioner) the reader confines itself to that slice.
type FlatFileItemReader[T any] struct {
	name        string
	conn        storage.Connection
	bucket      string
	object      string
	mapper      LineMapper[T]
	linesToSkip int
	strict      bool

	mu         sync.Mutex
	resource   string
	body       io.ReadCloser
	br         *bufio.Reader
	limit      int64
	count      int64
	lineNumber int64
}

// FlatFileOption configures a FlatFileItemReader.
type FlatFileOption func(*flatFileOptions)

type flatFileOptions struct {
	linesToSkip int
	lenient     bool
}

// WithLinesToSkip skips header lines at the start of the resource.
func WithLinesToSkip(n int) FlatFileOption {
	return func(o *flatFileOptions) { o.linesToSkip = n }
}

// WithLenientResource makes a missing resource read as empty instead of failing Open.
func WithLenientResource() FlatFileOption {
	return func(o *flatFileOptions) { o.lenient = true }
}

// NewFlatFileItemReader creates a reader named name over bucket/object. object may be empty
// when every step ExecutionContext names its own resource.
func NewFlatFileItemReader[T any](name string, conn storage.Connection, bucket, object string, mapper LineMapper[T], opts ...FlatFileOption) *FlatFileItemReader[T] {
	var o flatFileOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &FlatFileItemReader[T]{
		name:        name,
		conn:        conn,
		bucket:      bucket,
		object:      object,
		mapper:      mapper,
		linesToSkip: o.linesToSkip,
		strict:      !o.lenient,
		limit:       -1,
	}
}

func (r *FlatFileItemReader[T]) Open(ctx context.Context, ec *model.ExecutionContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resource = r.object
	if v, ok := ec.GetString(partitioner.ResourceKey); ok && v != "" {
		r.resource = v
	} else if v, ok := ec.GetString(partitioner.DefaultResourceKey); ok && v != "" {
		r.resource = v
	}
	if r.resource == "" {
		return exception.NewBatchErrorf("reader", "FlatFileItemReader '%s': no resource configured", r.name)
	}
	startAt := ec.GetInt64OrDefault(partitioner.StartAtKey, 0)
	r.limit = ec.GetInt64OrDefault(partitioner.ItemsCountKey, -1)
	restored := ec.GetInt64OrDefault(ReadCountKey(r.name), 0)

	body, err := r.conn.DownloadRange(ctx, r.bucket, r.resource, startAt, -1)
	if err != nil {
		if !r.strict {
			logger.Warnf("FlatFileItemReader '%s': resource '%s' unavailable, reading nothing: %v", r.name, r.resource, err)
			r.limit = 0
			return nil
		}
		return exception.NewBatchError("reader", fmt.Sprintf("FlatFileItemReader '%s': failed to open '%s'", r.name, r.resource), err, false, true)
	}
	r.body = body
	r.br = bufio.NewReader(body)
	r.count, r.lineNumber = 0, 0

	if startAt == 0 {
		for i := 0; i < r.linesToSkip; i++ {
			if _, err := r.readLine(); err != nil {
				break
			}
		}
	}
	for r.count < restored {
		if _, err := r.readLine(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return exception.NewBatchError("reader", fmt.Sprintf("FlatFileItemReader '%s': failed to restore position", r.name), err, false, false)
		}
		r.count++
	}
	if restored > 0 {
		logger.Infof("FlatFileItemReader '%s': resumed '%s' after %d line(s).", r.name, r.resource, r.count)
	}
	return nil
}

func (r *FlatFileItemReader[T]) Read(ctx context.Context) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.br == nil || (r.limit >= 0 && r.count >= r.limit) {
		return zero, port.ErrNoMoreItems
	}
	line, err := r.readLine()
	if errors.Is(err, io.EOF) {
		return zero, port.ErrNoMoreItems
	}
	if err != nil {
		return zero, exception.NewBatchError("reader", fmt.Sprintf("FlatFileItemReader '%s': failed to read '%s'", r.name, r.resource), err, false, true)
	}
	r.count++
	item, err := r.mapper(line, r.lineNumber)
	if err != nil {
		return zero, &FlatFileParseError{Resource: r.resource, LineNumber: r.lineNumber, Line: line, Err: err}
	}
	return item, nil
}

// readLine returns the next line without its terminator. io.EOF means no line was left.
func (r *FlatFileItemReader[T]) readLine() (string, error) {
	line, err := r.br.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	r.lineNumber++
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r"), nil
}

func (r *FlatFileItemReader[T]) Update(ctx context.Context, ec *model.ExecutionContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ec.Put(ReadCountKey(r.name), r.count)
	return nil
}

func (r *FlatFileItemReader[T]) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.br = nil
	if r.body == nil {
		return nil
	}
	err := r.body.Close()
	r.body = nil
	return err
}

var (
	_ port.ItemReader[any] = (*FlatFileItemReader[any])(nil)
	_ port.ItemStream      = (*FlatFileItemReader[any])(nil)
)
