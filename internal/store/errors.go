package store

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned by services constructed without a database.
var ErrNotConfigured = errors.New("store: database not configured")

// ConfigurationError reports an invalid connection configuration.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid database configuration: %s: %s", e.Field, e.Reason)
}

// ConnectionError reports a failure to create the pool or obtain a connection.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("database connection failed during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// RetryExhaustedError is returned once every attempt of a retryable operation failed.
type RetryExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// StorageError wraps failures on the write path.
type StorageError struct {
	Op        string
	SessionID string
	AgentType string
	Err       error
}

func (e *StorageError) Error() string {
	switch {
	case e.AgentType != "":
		return fmt.Sprintf("%s %s/%s: %v", e.Op, e.SessionID, e.AgentType, e.Err)
	case e.SessionID != "":
		return fmt.Sprintf("%s %s: %v", e.Op, e.SessionID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// RetrievalError wraps unexpected failures on the read path.
type RetrievalError struct {
	Op  string
	Err error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("report retrieval %s: %v", e.Op, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// IsConnectionFailure reports whether err stems from connectivity rather than
// from the query itself.
func IsConnectionFailure(err error) bool {
	var ce *ConnectionError
	var re *RetryExhaustedError
	return errors.As(err, &ce) || errors.As(err, &re) || errors.Is(err, ErrNotConfigured)
}
