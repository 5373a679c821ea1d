package item

import (
	"fmt"

	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/retry"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/skip"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// faultPolicy combines the retry and skip policies of a step. Retry is considered before skip.
type faultPolicy struct {
	retry retry.RetryPolicy
	skip  skip.SkipPolicy
}

// decide classifies err raised by the attempt-th attempt of an operation. skipCount is the
// number of skips already recorded for the step, committed and pending. The returned error
// replaces err when the classification is Fatal.
func (p faultPolicy) decide(err error, attempt int, skipCount int64) (exception.Classification, error) {
	if exception.IsInterrupted(err) {
		return exception.Fatal, err
	}
	if p.retry.CanRetry(err, attempt) {
		return exception.Retry, nil
	}
	ok, limitErr := p.skip.ShouldSkip(err, skipCount)
	switch {
	case limitErr != nil:
		return exception.Fatal, limitErr
	case ok:
		return exception.Skip, nil
	case p.retry.MaxAttempts() > 1 && p.retry.IsRetryable(err):
		return exception.Fatal, exception.NewBatchError("retry",
			fmt.Sprintf("retry limit of %d attempts exhausted", p.retry.MaxAttempts()),
			fmt.Errorf("%w: %w", exception.ErrRetryExhausted, err), false, false)
	}
	return exception.Fatal, err
}

// decideWithoutRetry classifies a failure that cannot be attempted again.
func (p faultPolicy) decideWithoutRetry(err error, skipCount int64) (exception.Classification, error) {
	if exception.IsInterrupted(err) {
		return exception.Fatal, err
	}
	ok, limitErr := p.skip.ShouldSkip(err, skipCount)
	if limitErr != nil {
		return exception.Fatal, limitErr
	}
	if ok {
		return exception.Skip, nil
	}
	return exception.Fatal, err
}
