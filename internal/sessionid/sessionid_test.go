package sessionid

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedClock(sec int64) func() time.Time {
	return func() time.Time { return time.Unix(sec, 0) }
}

func TestGenerateFormatsIdentifier(t *testing.T) {
	g := Generator{Now: fixedClock(1722800000)}
	id, err := g.Generate("aapl", "2024-08-04")
	require.NoError(t, err)
	require.Equal(t, "AAPL_2024-08-04_1722800000", id)
}

func TestGenerateStripsNonAlphanumerics(t *testing.T) {
	g := Generator{Now: fixedClock(1)}
	id, err := g.Generate(" brk.b ", "2024-01-02")
	require.NoError(t, err)
	require.Equal(t, "BRKB_2024-01-02_1", id)
}

func TestGenerateRejectsBadInput(t *testing.T) {
	cases := []struct {
		name   string
		ticker string
		date   string
	}{
		{"bad date", "AAPL", "2024/01/02"},
		{"short date", "AAPL", "24-01-02"},
		{"empty ticker", "", "2024-01-02"},
		{"symbols only", ".-", "2024-01-02"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Generate(tc.ticker, tc.date)
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrInvalidArgument))
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	g := Generator{Now: fixedClock(1700000000)}
	s, err := g.Generate("nvda", "2023-11-14")
	require.NoError(t, err)

	id, err := Parse(s)
	require.NoError(t, err)
	require.Equal(t, ID{Ticker: "NVDA", Date: "2023-11-14", Timestamp: 1700000000}, id)
	require.Equal(t, s, id.String())
	require.Equal(t, int64(1700000000), id.Time().Unix())
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, s := range []string{
		"",
		"AAPL_2024-01-02",
		"AAPL_2024-01-02_1_2",
		"aapl_2024-01-02_1",
		"AAPL_20240102_1",
		"AAPL_2024-01-02_abc",
	} {
		_, err := Parse(s)
		require.ErrorIs(t, err, ErrInvalidArgument, s)
		require.False(t, IsValid(s), s)
	}
	require.True(t, IsValid("SPY_2024-03-01_1709251200"))
}
