package reports

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	maxRepeats     = 2
	truncateMargin = 100
	truncateNotice = "\n\n[CONTENT TRUNCATED - Report exceeded maximum size]"
)

// Compress shrinks text that exceeds MaxReportSize. Runs of identical lines
// (compared after trimming) keep the first line plus two repetitions followed
// by a "... (repeated N more times)" marker. If the result is still too large
// it is cut at a rune boundary and a truncation notice is appended.
func Compress(text string) string {
	if len(text) <= MaxReportSize {
		return text
	}
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	var prev string
	havePrev := false
	repeats := 0
	flush := func() {
		if repeats > maxRepeats {
			out = append(out, fmt.Sprintf("... (repeated %d more times)", repeats-maxRepeats))
		}
	}
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if havePrev && trimmed == prev {
			repeats++
			if repeats <= maxRepeats {
				out = append(out, line)
			}
			continue
		}
		flush()
		out = append(out, line)
		prev, havePrev, repeats = trimmed, true, 0
	}
	flush()

	compressed := strings.Join(out, "\n")
	if len(compressed) > MaxReportSize {
		compressed = truncateBytes(compressed, MaxReportSize-truncateMargin) + truncateNotice
	}
	return compressed
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// SplitIntoChunks packs the lines of text into chunks of at most maxSize
// bytes. A single line longer than maxSize is cut at byte offsets, which can
// split a multi-byte rune across two chunks.
func SplitIntoChunks(text string, maxSize int) []string {
	if maxSize <= 0 {
		maxSize = MaxReportSize
	}
	if len(text) <= maxSize {
		return []string{text}
	}
	var chunks []string
	current := ""
	for _, line := range strings.Split(text, "\n") {
		candidate := line
		if current != "" {
			candidate = current + "\n" + line
		}
		if len(candidate) <= maxSize {
			current = candidate
			continue
		}
		if current != "" {
			chunks = append(chunks, current)
		}
		current = line
		for len(current) > maxSize {
			chunks = append(chunks, current[:maxSize])
			current = current[maxSize:]
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}
