package reports

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSessionNotFound is matched by NotFoundError values for missing sessions.
	ErrSessionNotFound = errors.New("session not found")
	// ErrReportNotFound is matched by NotFoundError values for empty report columns.
	ErrReportNotFound = errors.New("report not found")
)

// ValidationError describes rejected input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NotFoundError reports a missing session or a missing report within an
// existing session.
type NotFoundError struct {
	Resource  string // "session" or "report"
	SessionID string
	AgentType string
}

func (e *NotFoundError) Error() string {
	if e.AgentType != "" {
		return fmt.Sprintf("%s not found: %s/%s", e.Resource, e.SessionID, e.AgentType)
	}
	return fmt.Sprintf("%s not found: %s", e.Resource, e.SessionID)
}

// Code returns the machine readable code, e.g. SESSION_NOT_FOUND.
func (e *NotFoundError) Code() string {
	return NotFoundCode(e.Resource)
}

func (e *NotFoundError) Is(target error) bool {
	switch target {
	case ErrSessionNotFound:
		return e.Resource == "session"
	case ErrReportNotFound:
		return e.Resource == "report"
	}
	return false
}

// NotFoundCode builds the {RESOURCE}_NOT_FOUND code for resource.
func NotFoundCode(resource string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(resource)), " ", "_") + "_NOT_FOUND"
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
