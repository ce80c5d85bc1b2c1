package store

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for conditions callers branch on.
var (
	ErrMissingURI        = errors.New("store: missing storage uri")
	ErrUnsupportedScheme = errors.New("store: unsupported storage uri scheme")
	ErrClosed            = errors.New("store: connection is closed")
)

// Category classifies a store error by the layer that produced it.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryConfig
	CategoryConnection
	CategoryTransaction
	CategoryQuery
	CategorySchema
)

func (c Category) String() string {
	switch c {
	case CategoryConfig:
		return "config"
	case CategoryConnection:
		return "connection"
	case CategoryTransaction:
		return "transaction"
	case CategoryQuery:
		return "query"
	case CategorySchema:
		return "schema"
	default:
		return "unknown"
	}
}

// StoreError carries the failing operation, its category, and whether a
// retry has any chance of succeeding.
type StoreError struct {
	Category  Category
	Op        string
	Message   string
	Cause     error
	Retryable bool
}

func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("store %s: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("store %s: %s", e.Op, e.Message)
}

func (e *StoreError) Unwrap() error { return e.Cause }

func newError(cat Category, op, message string, cause error) *StoreError {
	return &StoreError{
		Category:  cat,
		Op:        op,
		Message:   message,
		Cause:     cause,
		Retryable: retryable(cat, cause),
	}
}

// NewConfigError reports an invalid or incomplete configuration.
func NewConfigError(op, message string, cause error) *StoreError {
	return newError(CategoryConfig, op, message, cause)
}

// NewConnectionError reports a failure reaching or keeping the database.
func NewConnectionError(op, message string, cause error) *StoreError {
	return newError(CategoryConnection, op, message, cause)
}

// NewTransactionError reports a begin/commit/rollback failure.
func NewTransactionError(op, message string, cause error) *StoreError {
	return newError(CategoryTransaction, op, message, cause)
}

// NewQueryError reports a failed statement or scan.
func NewQueryError(op, message string, cause error) *StoreError {
	return newError(CategoryQuery, op, message, cause)
}

// NewSchemaError reports a schema setup failure.
func NewSchemaError(op, message string, cause error) *StoreError {
	return newError(CategorySchema, op, message, cause)
}

// IsRetryable reports whether err looks transient. Connection-level
// failures and lock contention qualify; everything else does not.
func IsRetryable(err error) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return matchesRetryablePattern(err)
}

func retryable(cat Category, cause error) bool {
	if cat == CategoryConnection {
		return true
	}
	return matchesRetryablePattern(cause)
}

func matchesRetryablePattern(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"database is locked",
		"deadlock",
		"timeout",
		"temporary",
		"busy",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
