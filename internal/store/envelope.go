package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/tradingagents/internal/reports"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Error codes carried in failure envelopes.
const (
	CodeRetrievalError     = "RETRIEVAL_ERROR"
	CodeUnexpectedError    = "UNEXPECTED_ERROR"
	CodeConnectionError    = "DATABASE_CONNECTION_ERROR"
	CodeRetryExhausted     = "RETRY_EXHAUSTED"
	CodeValidationError    = "VALIDATION_ERROR"
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeReportNotFound     = "REPORT_NOT_FOUND"
	envelopeTimestampStyle = "2006-01-02T15:04:05.000000"
)

// Envelope is the uniform response shape of the safe retrieval calls.
type Envelope struct {
	Success   bool           `json:"success"`
	Message   string         `json:"message,omitempty"`
	Data      interface{}    `json:"data"`
	Error     *EnvelopeError `json:"error,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// EnvelopeError describes a failed call.
type EnvelopeError struct {
	Type      string                 `json:"type"`
	Code      string                 `json:"code,omitempty"`
	Message   string                 `json:"message"`
	Timestamp string                 `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// Code returns the error code, or "" for successful envelopes.
func (e Envelope) Code() string {
	if e.Error == nil {
		return ""
	}
	return e.Error.Code
}

func stamp(now time.Time) string {
	return now.UTC().Format(envelopeTimestampStyle)
}

// SuccessEnvelope wraps data in a success envelope.
func SuccessEnvelope(data interface{}, message string, now time.Time) Envelope {
	if message == "" {
		message = "Success"
	}
	return Envelope{Success: true, Message: message, Data: data, Timestamp: stamp(now)}
}

// NotFoundEnvelope reports a missing resource, e.g. ("report", "Trader for session X").
func NotFoundEnvelope(resource, identifier string, details map[string]interface{}, now time.Time) Envelope {
	title := cases.Title(language.Und).String(resource)
	return Envelope{
		Error: &EnvelopeError{
			Type:      "NotFoundError",
			Code:      reports.NotFoundCode(resource),
			Message:   fmt.Sprintf("%s not found: %s", title, identifier),
			Timestamp: stamp(now),
			Details:   details,
		},
	}
}

// ErrorEnvelope classifies err into a failure envelope.
func ErrorEnvelope(err error, context map[string]interface{}, now time.Time) Envelope {
	e := &EnvelopeError{Message: err.Error(), Timestamp: stamp(now), Context: context}

	var (
		nf   *reports.NotFoundError
		ve   *reports.ValidationError
		re   *RetryExhaustedError
		ce   *ConnectionError
		retr *RetrievalError
	)
	switch {
	case errors.As(err, &nf):
		e.Code = nf.Code()
		e.Type = "ReportNotFoundError"
		e.Details = map[string]interface{}{"session_id": nf.SessionID}
		if nf.Resource == "session" {
			e.Type = "SessionNotFoundError"
		} else {
			e.Details["agent_type"] = nf.AgentType
		}
	case errors.As(err, &ve):
		e.Type, e.Code = "ValidationError", CodeValidationError
		if ve.Field != "" {
			e.Details = map[string]interface{}{"field": ve.Field}
		}
	case errors.As(err, &re):
		e.Type, e.Code = "DatabaseConnectionError", CodeRetryExhausted
		e.Details = map[string]interface{}{"attempts": re.Attempts, "original_error": re.Err.Error()}
	case errors.As(err, &ce):
		e.Type, e.Code = "DatabaseConnectionError", CodeConnectionError
		e.Details = map[string]interface{}{"original_error": ce.Err.Error()}
	case errors.Is(err, ErrNotConfigured):
		e.Type, e.Code = "DatabaseConnectionError", CodeConnectionError
	case errors.As(err, &retr):
		e.Type, e.Code = "ReportRetrievalError", CodeRetrievalError
	default:
		e.Type, e.Code = "ReportRetrievalError", CodeUnexpectedError
		e.Message = "Unexpected error: " + err.Error()
	}
	return Envelope{Error: e}
}
