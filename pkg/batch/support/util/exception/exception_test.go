package exception_test

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

var errQuotaExceeded = errors.New("quota exceeded")

func init() {
	exception.RegisterErrorType("QuotaExceededException", errQuotaExceeded)
}

func TestBatchError_MessageAndUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := exception.NewBatchError("writer", "failed to write chunk", cause, false, true)

	assert.Equal(t, "[writer] failed to write chunk: connection reset", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, err.IsRetryable())
	assert.False(t, err.IsSkippable())
	assert.Equal(t, "failed to write chunk: connection reset", exception.ExtractErrorMessage(err))

	wrapped := exception.NewBatchErrorf("reader", "cannot open %s: %w", "in.csv", cause)
	assert.Equal(t, "[reader] cannot open in.csv: connection reset", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
	assert.True(t, exception.IsBatchError(fmt.Errorf("step: %w", wrapped)))
}

func TestIsErrorOfType(t *testing.T) {
	wrapped := exception.NewBatchError("processor", "rejected", fmt.Errorf("call: %w", errQuotaExceeded), false, false)
	assert.True(t, exception.IsErrorOfType(wrapped, "QuotaExceededException"))
	assert.False(t, exception.IsErrorOfType(errors.New("other"), "QuotaExceededException"))

	pathErr := &fs.PathError{Op: "open", Path: "/missing", Err: fs.ErrNotExist}
	assert.True(t, exception.IsErrorOfType(fmt.Errorf("reader: %w", pathErr), "*fs.PathError"))

	joined := errors.Join(errors.New("first"), exception.ErrOptimisticLockingFailure)
	assert.True(t, exception.IsErrorOfType(joined, exception.OptimisticLockingFailureException))

	assert.True(t, exception.IsErrorOfType(errors.New("deadlock detected"), "deadlock"))
	assert.False(t, exception.IsErrorOfType(nil, "deadlock"))
}

func TestClassifier(t *testing.T) {
	c := exception.NewClassifier(
		[]string{exception.OptimisticLockingFailureException},
		[]string{"QuotaExceededException"},
		[]string{"FatalMarker"},
	)

	assert.Equal(t, exception.Retry, c.Classify(exception.NewOptimisticLockingFailureException("repo", "stale version", nil)))
	assert.Equal(t, exception.Skip, c.Classify(fmt.Errorf("item 7: %w", errQuotaExceeded)))
	assert.Equal(t, exception.Fatal, c.Classify(errors.New("boom")))

	// Flags carried by a BatchError count unless the error is listed as fatal.
	assert.Equal(t, exception.Retry, c.Classify(exception.NewBatchError("reader", "timeout", nil, false, true)))
	assert.Equal(t, exception.Fatal, c.Classify(exception.NewBatchError("reader", "FatalMarker hit", nil, true, true)))

	assert.Equal(t, exception.Fatal, c.Classify(fmt.Errorf("stop: %w", exception.ErrJobInterrupted)))
}

func TestClassifier_ResourceExhaustion(t *testing.T) {
	wildcard := exception.NewClassifier([]string{exception.AnyError}, []string{exception.AnyError}, nil)
	assert.Equal(t, exception.Retry, wildcard.Classify(errors.New("timeout")))
	assert.Equal(t, exception.Fatal, wildcard.Classify(fmt.Errorf("alloc: %w", syscall.ENOMEM)))
	assert.Equal(t, exception.Fatal, wildcard.Classify(exception.ErrResourceExhausted))

	explicit := exception.NewClassifier([]string{exception.ResourceExhaustedException}, nil, nil)
	assert.Equal(t, exception.Retry, explicit.Classify(exception.ErrResourceExhausted))
	assert.Equal(t, "SKIP", exception.Skip.String())
}
