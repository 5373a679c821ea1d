// Package retry decides whether a failed item operation may be attempted again and how long to
// wait before doing so.
package retry

import (
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// RetryPolicy decides whether a failed operation is attempted again.
type RetryPolicy interface {
	// IsRetryable reports whether err belongs to a retryable class, regardless of attempts.
	IsRetryable(err error) bool
	// CanRetry reports whether another attempt is allowed after attempt failed attempts
	// (attempt starts at 1) ended with err.
	CanRetry(err error, attempt int) bool
	// MaxAttempts is the total number of attempts, the first one included.
	MaxAttempts() int
	// Backoff returns the wait schedule between attempts.
	Backoff() *Backoff
}

// SimpleRetryPolicy allows up to maxAttempts attempts for errors the classifier marks retryable.
type SimpleRetryPolicy struct {
	maxAttempts int
	classifier  *exception.Classifier
	backoff     *Backoff
}

// NewSimpleRetryPolicy creates a SimpleRetryPolicy. maxAttempts below 1 is treated as 1, which
// disables retries. A nil backoff means no wait.
func NewSimpleRetryPolicy(maxAttempts int, classifier *exception.Classifier, backoff *Backoff) *SimpleRetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if classifier == nil {
		classifier = exception.NewClassifier(nil, nil, nil)
	}
	if backoff == nil {
		backoff = NoBackoff()
	}
	return &SimpleRetryPolicy{maxAttempts: maxAttempts, classifier: classifier, backoff: backoff}
}

// NeverRetryPolicy returns a policy that allows a single attempt.
func NeverRetryPolicy() *SimpleRetryPolicy {
	return NewSimpleRetryPolicy(1, nil, nil)
}

func (p *SimpleRetryPolicy) IsRetryable(err error) bool {
	return p.classifier.IsRetryable(err)
}

func (p *SimpleRetryPolicy) CanRetry(err error, attempt int) bool {
	return attempt < p.maxAttempts && p.classifier.IsRetryable(err)
}

func (p *SimpleRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

func (p *SimpleRetryPolicy) Backoff() *Backoff {
	return p.backoff
}

var _ RetryPolicy = (*SimpleRetryPolicy)(nil)
