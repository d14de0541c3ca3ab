package reports

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxReportSize bounds stored report content in UTF-8 bytes.
	MaxReportSize = 1024 * 1024
	// MinReportLength is the minimum report length in characters.
	MinReportLength = 10
)

// Recommendation is the final trading call of a session.
type Recommendation string

const (
	Buy  Recommendation = "BUY"
	Sell Recommendation = "SELL"
	Hold Recommendation = "HOLD"
)

var (
	blankLineRun = regexp.MustCompile(`\n\s*\n\s*\n`)
	spaceRun     = regexp.MustCompile(`[ \t]+`)
	htmlEscaper  = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
)

// ValidateContent checks text for emptiness and size bounds and returns the
// sanitized form. context names the report in error messages.
func ValidateContent(text, context string) (string, error) {
	field := context
	if field == "" {
		field = "content"
	}
	if strings.TrimSpace(text) == "" {
		return "", &ValidationError{Field: field, Reason: "report content cannot be empty"}
	}
	if utf8.RuneCountInString(text) < MinReportLength {
		return "", &ValidationError{Field: field, Reason: fmt.Sprintf("report content too short (minimum %d characters)", MinReportLength)}
	}
	if len(text) > MaxReportSize {
		return "", &ValidationError{Field: field, Reason: fmt.Sprintf("report content too large (maximum %d bytes)", MaxReportSize)}
	}
	clean := Sanitize(text)
	if clean == "" {
		return "", &ValidationError{Field: field, Reason: "report content cannot be empty"}
	}
	return clean, nil
}

// Sanitize removes NUL bytes, escapes markup characters and normalises
// whitespace. Quotes are left as is.
func Sanitize(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")
	text = htmlEscaper.Replace(text)
	text = blankLineRun.ReplaceAllString(text, "\n\n")
	text = spaceRun.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// ValidateRecommendation normalises v to BUY, SELL or HOLD.
func ValidateRecommendation(v string) (Recommendation, error) {
	r := Recommendation(strings.ToUpper(strings.TrimSpace(v)))
	switch r {
	case Buy, Sell, Hold:
		return r, nil
	}
	return "", &ValidationError{Field: "recommendation", Reason: fmt.Sprintf("invalid recommendation %q, must be BUY, SELL, or HOLD", v)}
}

// PrepareReport validates an agent report for storage. Oversized input is
// compressed first so that repetitive reports can still fit the bound.
func PrepareReport(name, content string) (AgentType, string, error) {
	agent, err := ParseAgentType(name)
	if err != nil {
		return 0, "", err
	}
	clean, err := PrepareContent(content, name)
	if err != nil {
		return 0, "", err
	}
	return agent, clean, nil
}

// PrepareContent compresses oversized text, validates and sanitizes it, and
// compresses again if escaping pushed it past MaxReportSize.
func PrepareContent(content, context string) (string, error) {
	if len(content) > MaxReportSize {
		content = Compress(content)
	}
	clean, err := ValidateContent(content, context)
	if err != nil {
		return "", err
	}
	if len(clean) > MaxReportSize {
		clean = Compress(clean)
	}
	return clean, nil
}
