package partitioner_test

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storage "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/chunkflow/pkg/batch/component/partitioner"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

func newConnection(t *testing.T) storage.Connection {
	t.Helper()
	conn, err := local.NewConnection("test", storage.Config{Type: local.ProviderType, BaseDir: t.TempDir(), BucketName: "data"})
	require.NoError(t, err)
	return conn
}

func upload(t *testing.T, conn storage.Connection, object, content string) {
	t.Helper()
	require.NoError(t, conn.Upload(context.Background(), "", object, strings.NewReader(content), "text/plain"))
}

func lines(n, width int, terminated bool) string {
	line := strings.Repeat("x", width)
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString(line)
		if i < n-1 || terminated {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func flatFilePartitions(t *testing.T, content string, gridSize int) map[string]*model.ExecutionContext {
	t.Helper()
	conn := newConnection(t)
	upload(t, conn, "input.txt", content)
	partitions, err := partitioner.NewFlatFilePartitioner(conn, "", "input.txt").Partition(context.Background(), gridSize)
	require.NoError(t, err)
	return partitions
}

func assertSlice(t *testing.T, ec *model.ExecutionContext, startAt, itemsCount int64) {
	t.Helper()
	require.NotNil(t, ec)
	got, _ := ec.GetInt64(partitioner.StartAtKey)
	assert.Equal(t, startAt, got, "startAt")
	got, _ = ec.GetInt64(partitioner.ItemsCountKey)
	assert.Equal(t, itemsCount, got, "itemsCount")
	resource, _ := ec.GetString(partitioner.ResourceKey)
	assert.Equal(t, "input.txt", resource)
}

func TestFlatFilePartitioner_TwoPartitions(t *testing.T) {
	partitions := flatFilePartitions(t, lines(100, 10, true), 2)

	require.Len(t, partitions, 2)
	assertSlice(t, partitions["partition-0"], 0, 51)
	assertSlice(t, partitions["partition-1"], 51*11, 49)
}

func TestFlatFilePartitioner_SinglePartitionTakesEverything(t *testing.T) {
	partitions := flatFilePartitions(t, lines(100, 100, false), 1)

	require.Len(t, partitions, 1)
	assertSlice(t, partitions["partition-0"], 0, 100)
}

func TestFlatFilePartitioner_MoreGridThanLines(t *testing.T) {
	partitions := flatFilePartitions(t, lines(5, 10, false), 20)

	require.Len(t, partitions, 5)
	for i, name := range []string{"partition-00", "partition-01", "partition-02", "partition-03", "partition-04"} {
		assertSlice(t, partitions[name], int64(i*11), 1)
	}
}

func TestFlatFilePartitioner_FewBytes(t *testing.T) {
	partitions := flatFilePartitions(t, "hello", 10)

	require.Len(t, partitions, 1)
	assertSlice(t, partitions["partition-00"], 0, 1)
}

func TestFlatFilePartitioner_UnevenSplitIsContiguous(t *testing.T) {
	partitions := flatFilePartitions(t, lines(99, 100, true), 50)

	names := make([]string, 0, len(partitions))
	for name := range partitions {
		names = append(names, name)
	}
	sort.Strings(names)

	var next, total int64
	for _, name := range names {
		startAt, _ := partitions[name].GetInt64(partitioner.StartAtKey)
		count, _ := partitions[name].GetInt64(partitioner.ItemsCountKey)
		assert.Equal(t, next, startAt, name)
		assert.GreaterOrEqual(t, count, int64(1), name)
		assert.LessOrEqual(t, count, int64(2), name)
		next = startAt + count*101
		total += count
	}
	assert.Equal(t, int64(99), total)
	assert.LessOrEqual(t, len(partitions), 50)
}

func TestFlatFilePartitioner_EmptyInput(t *testing.T) {
	partitions := flatFilePartitions(t, "", 4)
	assert.Empty(t, partitions)
}

func TestFlatFilePartitioner_RejectsGridSizeBelowOne(t *testing.T) {
	conn := newConnection(t)
	upload(t, conn, "input.txt", "a\n")
	_, err := partitioner.NewFlatFilePartitioner(conn, "", "input.txt").Partition(context.Background(), 0)
	require.Error(t, err)
}

func TestCountLines(t *testing.T) {
	for input, want := range map[string]int64{
		"":             0,
		"hello":        1,
		"hello\n":      1,
		"hello\nagain": 2,
		"\n\n":         2,
	} {
		got, err := partitioner.CountLines(strings.NewReader(input))
		require.NoError(t, err)
		assert.Equal(t, want, got, "%q", input)
	}
}

func TestMultiResourcePartitioner_OnePartitionPerObject(t *testing.T) {
	conn := newConnection(t)
	for _, name := range []string{"in/b.csv", "in/a.csv", "in/c.txt", "in/sub/d.csv", "other/e.csv"} {
		upload(t, conn, name, "x\n")
	}

	p := partitioner.NewMultiResourcePartitioner(conn, "", "in/", partitioner.WithPattern("*.csv"))
	partitions, err := p.Partition(context.Background(), 1)
	require.NoError(t, err)

	require.Len(t, partitions, 3)
	for name, want := range map[string]string{"partition0": "in/a.csv", "partition1": "in/b.csv", "partition2": "in/sub/d.csv"} {
		got, ok := partitions[name].GetString(partitioner.DefaultResourceKey)
		require.True(t, ok, name)
		assert.Equal(t, want, got)
	}
}

func TestMultiResourcePartitioner_InvalidPattern(t *testing.T) {
	p := partitioner.NewMultiResourcePartitioner(newConnection(t), "", "", partitioner.WithPattern("[a-"))
	_, err := p.Partition(context.Background(), 1)
	require.Error(t, err)
}

func TestSimplePartitioner(t *testing.T) {
	p := partitioner.NewSimplePartitioner()
	partitions, err := p.Partition(context.Background(), 3)
	require.NoError(t, err)
	names, err := p.PartitionNames(context.Background(), 3)
	require.NoError(t, err)

	assert.Equal(t, []string{"partition0", "partition1", "partition2"}, names)
	for _, name := range names {
		require.Contains(t, partitions, name)
		assert.True(t, partitions[name].IsEmpty())
	}
}
