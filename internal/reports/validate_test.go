package reports

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateContentLengthBoundaries(t *testing.T) {
	_, err := ValidateContent("123456789", "Trader")
	require.Error(t, err)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	require.Equal(t, "Trader", ve.Field)

	got, err := ValidateContent("1234567890", "Trader")
	require.NoError(t, err)
	require.Equal(t, "1234567890", got)

	_, err = ValidateContent(strings.Repeat("a", MaxReportSize+1), "Trader")
	require.Error(t, err)
	require.True(t, IsValidation(err))

	_, err = ValidateContent(strings.Repeat("a", MaxReportSize), "Trader")
	require.NoError(t, err)
}

func TestValidateContentCountsCharactersNotBytes(t *testing.T) {
	// nine runes, eighteen bytes
	_, err := ValidateContent("ééééééééé", "")
	require.Error(t, err)
}

func TestValidateContentRejectsBlank(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\t\n"} {
		_, err := ValidateContent(in, "News Analyst")
		require.Error(t, err)
	}
}

func TestValidateContentRejectsNULOnly(t *testing.T) {
	for _, in := range []string{strings.Repeat("\x00", 12), "\x00 \x00\t\x00\n\x00\x00\x00\x00\x00\x00"} {
		got, err := ValidateContent(in, "Trader")
		require.Error(t, err)
		require.True(t, IsValidation(err))
		require.Empty(t, got)
	}
}

func TestSanitize(t *testing.T) {
	in := "  <b>Revenue</b> & \"margin\"\x00 grew\n\n\n\n\tstrongly   today  "
	got := Sanitize(in)
	require.Equal(t, "&lt;b&gt;Revenue&lt;/b&gt; &amp; \"margin\" grew\n\n strongly today", got)
	require.NotContains(t, got, "\x00")
}

func TestValidateRecommendation(t *testing.T) {
	for in, want := range map[string]Recommendation{"buy": Buy, " Sell ": Sell, "HOLD": Hold} {
		got, err := ValidateRecommendation(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	for _, in := range []string{"", "STRONG BUY", "short"} {
		_, err := ValidateRecommendation(in)
		require.Error(t, err)
	}
}

func TestPrepareReportCompressesRepetitiveInput(t *testing.T) {
	line := strings.Repeat("x", 100)
	big := strings.Repeat(line+"\n", (MaxReportSize/101)+10)
	require.Greater(t, len(big), MaxReportSize)

	agent, clean, err := PrepareReport("Market Analyst", big)
	require.NoError(t, err)
	require.Equal(t, MarketAnalyst, agent)
	require.LessOrEqual(t, len(clean), MaxReportSize)
	require.Contains(t, clean, "more times)")
}

func TestPrepareReportUnknownAgent(t *testing.T) {
	_, _, err := PrepareReport("Chief Executive", "long enough content here")
	require.Error(t, err)
	require.True(t, IsValidation(err))
}
