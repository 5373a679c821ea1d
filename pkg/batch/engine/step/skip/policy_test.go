package skip_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/skip"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

var errBadRecord = errors.New("bad record")

func TestLimitCheckingSkipPolicy(t *testing.T) {
	p := skip.NewLimitCheckingSkipPolicy(2, exception.NewClassifier(nil, []string{"bad record"}, nil))

	ok, err := p.ShouldSkip(errBadRecord, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.ShouldSkip(errBadRecord, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.ShouldSkip(errBadRecord, 2)
	assert.False(t, ok)
	assert.ErrorIs(t, err, exception.ErrSkipLimitExceeded)
	assert.ErrorIs(t, err, errBadRecord)

	ok, err = p.ShouldSkip(errors.New("disk failure"), 0)
	assert.False(t, ok)
	assert.NoError(t, err, "non-skippable errors are not limit violations")
}

func TestNeverSkipPolicy(t *testing.T) {
	p := skip.NeverSkipPolicy()
	ok, err := p.ShouldSkip(exception.NewBatchError("reader", "bad line", nil, true, false), 0)
	assert.False(t, ok)
	assert.NoError(t, err)
	assert.Zero(t, p.SkipLimit())
}
