package reports

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestCompressNoopWhenSmall(t *testing.T) {
	in := "a\na\na\na\na"
	require.Equal(t, in, Compress(in))
}

func TestCompressCollapsesRepeatedLines(t *testing.T) {
	filler := strings.Repeat("y", MaxReportSize)
	in := "same\n same \nsame\nsame\nsame\nother\n" + filler
	got := Compress(in)

	lines := strings.SplitN(got, "\n", 6)
	require.Equal(t, "same", lines[0])
	require.Equal(t, " same ", lines[1])
	require.Equal(t, "same", lines[2])
	require.Equal(t, "... (repeated 2 more times)", lines[3])
	require.Equal(t, "other", lines[4])
}

func TestCompressFlushesTrailingRun(t *testing.T) {
	in := "start\n" + strings.TrimSuffix(strings.Repeat("end\n", 300000), "\n")
	require.Greater(t, len(in), MaxReportSize)
	got := Compress(in)
	require.Equal(t, "start\nend\nend\nend\n... (repeated 299997 more times)", got)
}

func TestCompressTruncatesAtRuneBoundary(t *testing.T) {
	in := strings.Repeat("€", MaxReportSize/3+50)
	got := Compress(in)
	require.LessOrEqual(t, len(got), MaxReportSize)
	require.True(t, utf8.ValidString(got))
	require.True(t, strings.HasSuffix(got, truncateNotice))
}

func TestSplitIntoChunks(t *testing.T) {
	require.Equal(t, []string{"short"}, SplitIntoChunks("short", 10))

	got := SplitIntoChunks("aaaa\nbbbb\ncccc", 9)
	require.Equal(t, []string{"aaaa\nbbbb", "cccc"}, got)

	got = SplitIntoChunks("abcdefghijklmnopqrstuvwxy\nz", 10)
	require.Equal(t, []string{"abcdefghij", "klmnopqrst", "uvwxy\nz"}, got)
	for _, c := range got {
		require.LessOrEqual(t, len(c), 10)
	}
}
