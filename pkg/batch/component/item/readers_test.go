package item_test

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storage "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/chunkflow/pkg/batch/component/item"
	"github.com/tigerroll/chunkflow/pkg/batch/component/partitioner"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

func newStorage(t *testing.T) storage.Connection {
	t.Helper()
	conn, err := local.NewConnection("test", storage.Config{Type: local.ProviderType, BaseDir: t.TempDir(), BucketName: "data"})
	require.NoError(t, err)
	return conn
}

func put(t *testing.T, conn storage.Connection, object, content string) {
	t.Helper()
	require.NoError(t, conn.Upload(context.Background(), "", object, strings.NewReader(content), "text/plain"))
}

func atoi(line string, _ int64) (int, error) {
	return strconv.Atoi(strings.TrimSpace(line))
}

func readAll[T any](t *testing.T, r port.ItemReader[T]) []T {
	t.Helper()
	var out []T
	for {
		v, err := r.Read(context.Background())
		if errors.Is(err, port.ErrNoMoreItems) {
			return out
		}
		require.NoError(t, err)
		out = append(out, v)
	}
}

func TestListItemReader_ResumesFromReadCount(t *testing.T) {
	r := item.NewListItemReader("numbers", []int{1, 2, 3, 4, 5})
	ec := model.NewExecutionContext()
	ec.Put(item.ReadCountKey("numbers"), int64(2))

	require.NoError(t, r.Open(context.Background(), ec))
	assert.Equal(t, []int{3, 4, 5}, readAll[int](t, r))

	require.NoError(t, r.Update(context.Background(), ec))
	n, _ := ec.GetInt64("numbers.read.count")
	assert.Equal(t, int64(5), n)
}

func TestFlatFileItemReader_SkipsHeaderAndCheckpoints(t *testing.T) {
	conn := newStorage(t)
	put(t, conn, "in.csv", "value\r\n1\r\n2\r\n3\r\n4")

	r := item.NewFlatFileItemReader[int]("values", conn, "", "in.csv", atoi, item.WithLinesToSkip(1))
	ec := model.NewExecutionContext()
	require.NoError(t, r.Open(context.Background(), ec))

	first, err := r.Read(context.Background())
	require.NoError(t, err)
	second, err := r.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, []int{first, second})
	require.NoError(t, r.Update(context.Background(), ec))
	require.NoError(t, r.Close(context.Background()))

	restarted := item.NewFlatFileItemReader[int]("values", conn, "", "in.csv", atoi, item.WithLinesToSkip(1))
	require.NoError(t, restarted.Open(context.Background(), ec))
	defer restarted.Close(context.Background())
	assert.Equal(t, []int{3, 4}, readAll[int](t, restarted))
}

func TestFlatFileItemReader_ParseErrorAdvances(t *testing.T) {
	conn := newStorage(t)
	put(t, conn, "in.csv", "1\nnot-a-number\n3\n")

	r := item.NewFlatFileItemReader[int]("values", conn, "", "in.csv", atoi)
	require.NoError(t, r.Open(context.Background(), model.NewExecutionContext()))
	defer r.Close(context.Background())

	_, err := r.Read(context.Background())
	require.NoError(t, err)

	_, err = r.Read(context.Background())
	var parseErr *item.FlatFileParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, int64(2), parseErr.LineNumber)
	assert.Equal(t, "not-a-number", parseErr.Line)
	assert.ErrorIs(t, err, item.ErrFlatFileParse)
	assert.True(t, exception.IsErrorOfType(err, "FlatFileParseException"))

	v, err := r.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestFlatFileItemReader_ReadsPartitionSlices(t *testing.T) {
	conn := newStorage(t)
	var b strings.Builder
	for i := 1; i <= 10; i++ {
		b.WriteString(strconv.Itoa(i * 100))
		b.WriteByte('\n')
	}
	put(t, conn, "big.txt", b.String())

	partitions, err := partitioner.NewFlatFilePartitioner(conn, "", "big.txt").Partition(context.Background(), 3)
	require.NoError(t, err)
	names := make([]string, 0, len(partitions))
	for name := range partitions {
		names = append(names, name)
	}
	sort.Strings(names)

	var all []int
	for _, name := range names {
		r := item.NewFlatFileItemReader[int]("slice", conn, "", "", atoi)
		require.NoError(t, r.Open(context.Background(), partitions[name]))
		values := readAll[int](t, r)
		require.NoError(t, r.Close(context.Background()))
		assert.NotEmpty(t, values, name)
		all = append(all, values...)
	}
	assert.Equal(t, []int{100, 200, 300, 400, 500, 600, 700, 800, 900, 1000}, all)
}

func TestFlatFileItemReader_ResourceFromMultiResourcePartition(t *testing.T) {
	conn := newStorage(t)
	put(t, conn, "in/a.txt", "1\n2\n")

	ec := model.NewExecutionContext()
	ec.Put(partitioner.DefaultResourceKey, "in/a.txt")
	r := item.NewFlatFileItemReader[int]("files", conn, "", "", atoi)
	require.NoError(t, r.Open(context.Background(), ec))
	defer r.Close(context.Background())
	assert.Equal(t, []int{1, 2}, readAll[int](t, r))
}

func TestFlatFileItemReader_MissingResource(t *testing.T) {
	conn := newStorage(t)

	strict := item.NewFlatFileItemReader[int]("values", conn, "", "missing.txt", atoi)
	require.Error(t, strict.Open(context.Background(), model.NewExecutionContext()))

	lenient := item.NewFlatFileItemReader[int]("values", conn, "", "missing.txt", atoi, item.WithLenientResource())
	require.NoError(t, lenient.Open(context.Background(), model.NewExecutionContext()))
	assert.Empty(t, readAll[int](t, lenient))
}
