// Package exception provides the error types used by the chunkflow engine and the
// name registry that lets configuration refer to error classes by string.
package exception

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

var (
	errorRegistry = make(map[string]error)
	registryMutex sync.RWMutex
)

// RegisterErrorType registers prototype under name so that configuration (retryable and
// skippable error lists) can refer to it. Matching uses errors.Is against the prototype.
// It panics if name is empty or prototype is nil.
func RegisterErrorType(name string, prototype error) {
	if name == "" {
		panic("exception: error type name cannot be empty")
	}
	if prototype == nil {
		panic(fmt.Sprintf("exception: cannot register nil prototype for name: %s", name))
	}
	registryMutex.Lock()
	defer registryMutex.Unlock()
	errorRegistry[name] = prototype
}

// IsErrorTypeRegistered reports whether name has been registered.
func IsErrorTypeRegistered(name string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, ok := errorRegistry[name]
	return ok
}

func lookupErrorType(name string) (error, bool) {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	proto, ok := errorRegistry[name]
	return proto, ok
}

// BatchError is the error type raised by engine components. It records the module that
// raised it and whether the producing component considers it skippable or retryable.
type BatchError struct {
	// Module is the component that raised the error ("reader", "writer", "chunk_step", ...).
	Module string
	// Message is a concise description of the failure.
	Message string
	// OriginalErr is the wrapped cause.
	OriginalErr error

	isRetryable bool
	isSkippable bool
}

// NewBatchError creates a new BatchError.
func NewBatchError(module, message string, originalErr error, isSkippable, isRetryable bool) *BatchError {
	return &BatchError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
	}
}

// NewBatchErrorf creates a BatchError from a format string. A %w verb in format sets
// OriginalErr to the wrapped error. The result is neither skippable nor retryable.
func NewBatchErrorf(module, format string, a ...interface{}) *BatchError {
	formatted := fmt.Errorf(format, a...)
	return &BatchError{
		Module:      module,
		Message:     formatted.Error(),
		OriginalErr: errors.Unwrap(formatted),
	}
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	if e.OriginalErr != nil && !strings.Contains(e.Message, e.OriginalErr.Error()) {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Is / errors.As.
func (e *BatchError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable returns whether this error is retryable.
func (e *BatchError) IsRetryable() bool {
	return e.isRetryable
}

// IsSkippable returns whether this error is skippable.
func (e *BatchError) IsSkippable() bool {
	return e.isSkippable
}

// IsBatchError reports whether err (or anything it wraps) is a *BatchError.
func IsBatchError(err error) bool {
	var be *BatchError
	return errors.As(err, &be)
}

// IsErrorOfType reports whether err matches errorTypeName. The name is checked, in order,
// against the registry (errors.Is), the Go type name of every error in the chain
// (e.g. "*fs.PathError"), and finally as a substring of each error message.
func IsErrorOfType(err error, errorTypeName string) bool {
	if err == nil || errorTypeName == "" {
		return false
	}
	if proto, ok := lookupErrorType(errorTypeName); ok && errors.Is(err, proto) {
		return true
	}
	for current := err; current != nil; current = errors.Unwrap(current) {
		if t := reflect.TypeOf(current); t != nil {
			if t.String() == errorTypeName || (t.Kind() == reflect.Ptr && t.Elem().String() == errorTypeName) {
				return true
			}
		}
		if joined, ok := current.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				if IsErrorOfType(inner, errorTypeName) {
					return true
				}
			}
		}
	}
	for current := err; current != nil; current = errors.Unwrap(current) {
		if strings.Contains(current.Error(), errorTypeName) {
			return true
		}
	}
	return false
}

// MatchesAny reports whether err matches one of the given type names.
func MatchesAny(err error, names []string) bool {
	for _, name := range names {
		if IsErrorOfType(err, name) {
			return true
		}
	}
	return false
}

// ExtractErrorMessage returns err without the "[module]" prefix of a BatchError. It is the
// form stored in failure lists.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	be, ok := err.(*BatchError)
	if !ok {
		return err.Error()
	}
	if be.OriginalErr != nil && !strings.Contains(be.Message, be.OriginalErr.Error()) {
		return be.Message + ": " + ExtractErrorMessage(be.OriginalErr)
	}
	return be.Message
}
