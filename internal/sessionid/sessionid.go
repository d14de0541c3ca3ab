// Package sessionid encodes and decodes analysis session identifiers of the
// form TICKER_YYYY-MM-DD_UNIXSECONDS.
package sessionid

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidArgument is returned for malformed tickers, dates or identifiers.
var ErrInvalidArgument = errors.New("sessionid: invalid argument")

var (
	datePattern   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	tickerPattern = regexp.MustCompile(`^[A-Z0-9]+$`)
	nonAlnum      = regexp.MustCompile(`[^A-Z0-9]`)
)

// ID is a decoded session identifier.
type ID struct {
	Ticker    string
	Date      string
	Timestamp int64
}

// String renders the identifier in its canonical form.
func (id ID) String() string {
	return fmt.Sprintf("%s_%s_%d", id.Ticker, id.Date, id.Timestamp)
}

// Time returns the creation instant carried in the identifier.
func (id ID) Time() time.Time {
	return time.Unix(id.Timestamp, 0).UTC()
}

// Generator builds identifiers using Now as the clock.
type Generator struct {
	Now func() time.Time
}

// Generate builds a session identifier for ticker and date.
//
// Two calls for the same ticker and date within one second return the same
// identifier; callers that need distinct sessions must space their calls.
func (g Generator) Generate(ticker, date string) (string, error) {
	if !datePattern.MatchString(date) {
		return "", fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidArgument, date)
	}
	clean := NormalizeTicker(ticker)
	if clean == "" {
		return "", fmt.Errorf("%w: ticker %q has no alphanumeric characters", ErrInvalidArgument, ticker)
	}
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	return ID{Ticker: clean, Date: date, Timestamp: now().Unix()}.String(), nil
}

// Generate builds a session identifier using the wall clock.
func Generate(ticker, date string) (string, error) {
	return Generator{}.Generate(ticker, date)
}

// NormalizeTicker uppercases ticker and drops every non-alphanumeric rune.
func NormalizeTicker(ticker string) string {
	return nonAlnum.ReplaceAllString(strings.ToUpper(strings.TrimSpace(ticker)), "")
}

// Parse decodes a session identifier.
func Parse(s string) (ID, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 3 {
		return ID{}, fmt.Errorf("%w: %q must have three underscore separated parts", ErrInvalidArgument, s)
	}
	ticker, date, ts := parts[0], parts[1], parts[2]
	if !tickerPattern.MatchString(ticker) {
		return ID{}, fmt.Errorf("%w: ticker %q in %q", ErrInvalidArgument, ticker, s)
	}
	if !datePattern.MatchString(date) {
		return ID{}, fmt.Errorf("%w: date %q in %q", ErrInvalidArgument, date, s)
	}
	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("%w: timestamp %q in %q", ErrInvalidArgument, ts, s)
	}
	return ID{Ticker: ticker, Date: date, Timestamp: n}, nil
}

// IsValid reports whether s parses as a session identifier.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}
