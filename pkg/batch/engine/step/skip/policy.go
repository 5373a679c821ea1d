// Package skip decides whether a failing item may be dropped without failing the step.
package skip

import (
	"fmt"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// SkipPolicy decides whether a failed item is skipped. It holds no counters: the caller passes
// the step's current skip count (read + process + write, committed and pending).
type SkipPolicy interface {
	// IsSkippable reports whether err belongs to a skippable class, regardless of the limit.
	IsSkippable(err error) bool
	// ShouldSkip reports whether the item that failed with err is skipped. When err is
	// skippable but the limit is used up it returns false and an error wrapping both
	// exception.ErrSkipLimitExceeded and err.
	ShouldSkip(err error, skipCount int64) (bool, error)
	// SkipLimit is the maximum number of skips per step execution.
	SkipLimit() int
}

// LimitCheckingSkipPolicy skips classified errors until skipLimit skips have happened.
type LimitCheckingSkipPolicy struct {
	skipLimit  int
	classifier *exception.Classifier
}

// NewLimitCheckingSkipPolicy creates a LimitCheckingSkipPolicy. A limit of 0 never skips.
func NewLimitCheckingSkipPolicy(skipLimit int, classifier *exception.Classifier) *LimitCheckingSkipPolicy {
	if classifier == nil {
		classifier = exception.NewClassifier(nil, nil, nil)
	}
	return &LimitCheckingSkipPolicy{skipLimit: skipLimit, classifier: classifier}
}

// NeverSkipPolicy returns a policy that never skips.
func NeverSkipPolicy() *LimitCheckingSkipPolicy {
	return NewLimitCheckingSkipPolicy(0, nil)
}

func (p *LimitCheckingSkipPolicy) IsSkippable(err error) bool {
	return p.skipLimit > 0 && p.classifier.IsSkippable(err)
}

func (p *LimitCheckingSkipPolicy) ShouldSkip(err error, skipCount int64) (bool, error) {
	if !p.IsSkippable(err) {
		return false, nil
	}
	if skipCount >= int64(p.skipLimit) {
		return false, exception.NewBatchError("skip",
			fmt.Sprintf("skip limit of %d exceeded", p.skipLimit),
			fmt.Errorf("%w: %w", exception.ErrSkipLimitExceeded, err), false, false)
	}
	return true, nil
}

func (p *LimitCheckingSkipPolicy) SkipLimit() int {
	return p.skipLimit
}

var _ SkipPolicy = (*LimitCheckingSkipPolicy)(nil)
