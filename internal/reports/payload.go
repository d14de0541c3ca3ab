package reports

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed payload_schema.json
var payloadSchemaJSON string

var (
	payloadTicker = regexp.MustCompile(`^[A-Z0-9]{1,10}$`)
	payloadDate   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// SessionPayload is a validated, sanitized full session record.
type SessionPayload struct {
	SessionID      string               `json:"session_id"`
	Ticker         string               `json:"ticker"`
	AnalysisDate   string               `json:"analysis_date"`
	Reports        map[AgentType]string `json:"-"`
	FinalAnalysis  string               `json:"final_analysis,omitempty"`
	Recommendation Recommendation       `json:"recommendation,omitempty"`
}

var (
	payloadOnce   sync.Once
	payloadSchema *jsonschema.Schema
	payloadErr    error
)

// PayloadSchema returns the compiled JSON Schema for session payloads.
func PayloadSchema() (*jsonschema.Schema, error) {
	payloadOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("payload_schema.json", strings.NewReader(payloadSchemaJSON)); err != nil {
			payloadErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, err := compiler.Compile("payload_schema.json")
		if err != nil {
			payloadErr = fmt.Errorf("compile payload schema: %w", err)
			return
		}
		payloadSchema = schema
	})
	return payloadSchema, payloadErr
}

// ParsePayload decodes JSON bytes and validates them as a session payload.
func ParsePayload(data []byte) (SessionPayload, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return SessionPayload{}, &ValidationError{Field: "payload", Reason: fmt.Sprintf("not valid JSON: %v", err)}
	}
	return ValidateSessionPayload(doc)
}

// ValidateSessionPayload checks a decoded session payload and returns its
// sanitized form. The first failing field is reported.
func ValidateSessionPayload(doc map[string]interface{}) (SessionPayload, error) {
	schema, err := PayloadSchema()
	if err != nil {
		return SessionPayload{}, err
	}
	for _, field := range []string{"session_id", "ticker", "analysis_date"} {
		if _, ok := doc[field]; !ok {
			return SessionPayload{}, &ValidationError{Field: field, Reason: "missing required field"}
		}
	}
	if err := schema.Validate(doc); err != nil {
		return SessionPayload{}, &ValidationError{Field: "payload", Reason: err.Error()}
	}

	out := SessionPayload{
		SessionID: doc["session_id"].(string),
		Reports:   make(map[AgentType]string),
	}
	ticker := strings.ToUpper(doc["ticker"].(string))
	if !payloadTicker.MatchString(ticker) {
		return SessionPayload{}, &ValidationError{Field: "ticker", Reason: "invalid ticker format"}
	}
	out.Ticker = ticker
	date := doc["analysis_date"].(string)
	if !payloadDate.MatchString(date) {
		return SessionPayload{}, &ValidationError{Field: "analysis_date", Reason: "invalid analysis_date format (must be YYYY-MM-DD)"}
	}
	out.AnalysisDate = date

	for _, agent := range AllAgentTypes() {
		raw, ok := doc[agent.Column()].(string)
		if !ok {
			continue
		}
		clean, err := ValidateContent(raw, agent.String())
		if err != nil {
			return SessionPayload{}, err
		}
		out.Reports[agent] = clean
	}
	if raw, ok := doc["final_analysis"].(string); ok {
		clean, err := ValidateContent(raw, "Final Analysis")
		if err != nil {
			return SessionPayload{}, err
		}
		out.FinalAnalysis = clean
	}
	if raw, ok := doc["recommendation"].(string); ok {
		rec, err := ValidateRecommendation(raw)
		if err != nil {
			return SessionPayload{}, err
		}
		out.Recommendation = rec
	}
	return out, nil
}
