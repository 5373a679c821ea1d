package exception

import "errors"

// Classification is the decision attached to a failure: the fault-tolerant chunk
// controller branches on this value instead of on error types.
type Classification int

const (
	// Fatal aborts the step.
	Fatal Classification = iota
	// Retry re-attempts the failed operation.
	Retry
	// Skip drops the failing item and continues.
	Skip
)

// String returns the classification name.
func (c Classification) String() string {
	switch c {
	case Retry:
		return "RETRY"
	case Skip:
		return "SKIP"
	default:
		return "FATAL"
	}
}

// AnyError is the wildcard entry for retryable or skippable lists. It matches every error
// except the resource-exhaustion class.
const AnyError = "*"

// Classifier maps an error to retryable and skippable flags using configured type names
// and the flags carried by BatchError. It holds no counters; limits live in the retry and
// skip policies.
type Classifier struct {
	retryable []string
	skippable []string
	fatal     []string
}

// NewClassifier creates a Classifier. Names in fatal take precedence over the other lists.
func NewClassifier(retryable, skippable, fatal []string) *Classifier {
	return &Classifier{
		retryable: append([]string(nil), retryable...),
		skippable: append([]string(nil), skippable...),
		fatal:     append([]string(nil), fatal...),
	}
}

// IsRetryable reports whether err may be retried. Resource-exhaustion errors qualify only
// when one of their registered names is listed explicitly.
func (c *Classifier) IsRetryable(err error) bool {
	if err == nil || c.isFatal(err) || IsInterrupted(err) {
		return false
	}
	if IsResourceExhausted(err) {
		return containsName(c.retryable, ResourceExhaustedException) || containsName(c.retryable, "syscall.ENOMEM")
	}
	if containsName(c.retryable, AnyError) || MatchesAny(err, c.retryable) {
		return true
	}
	var be *BatchError
	return errors.As(err, &be) && be.IsRetryable()
}

// IsSkippable reports whether err may be skipped.
func (c *Classifier) IsSkippable(err error) bool {
	if err == nil || c.isFatal(err) || IsInterrupted(err) {
		return false
	}
	if IsResourceExhausted(err) {
		return containsName(c.skippable, ResourceExhaustedException) || containsName(c.skippable, "syscall.ENOMEM")
	}
	if containsName(c.skippable, AnyError) || MatchesAny(err, c.skippable) {
		return true
	}
	var be *BatchError
	return errors.As(err, &be) && be.IsSkippable()
}

// Classify returns Retry, Skip or Fatal for err, preferring Retry over Skip.
func (c *Classifier) Classify(err error) Classification {
	switch {
	case c.IsRetryable(err):
		return Retry
	case c.IsSkippable(err):
		return Skip
	default:
		return Fatal
	}
}

func (c *Classifier) isFatal(err error) bool {
	return len(c.fatal) > 0 && MatchesAny(err, c.fatal)
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
