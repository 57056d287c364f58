package artifacts

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"transcribeflow/internal/profile"
	"transcribeflow/internal/store"
)

// cue is a wrapped subtitle entry ready for rendering.
type cue struct {
	start float64
	end   float64
	lines []string
}

func buildCues(segments []store.Segment, rules profile.SubtitleRules) []cue {
	cues := make([]cue, 0, len(segments))
	for _, seg := range segments {
		cues = append(cues, cue{
			start: seg.StartSec,
			end:   seg.EndSec,
			lines: wrapText(seg.Text, rules.MaxCharsPerLine, rules.MaxLines),
		})
	}
	return cues
}

// RenderSRT renders segments as numbered SRT blocks with comma-separated
// millisecond timestamps.
func RenderSRT(segments []store.Segment, rules profile.SubtitleRules) string {
	var b strings.Builder
	for i, c := range buildCues(segments, rules) {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d\n", i+1)
		fmt.Fprintf(&b, "%s --> %s\n", formatTimestamp(c.start, ','), formatTimestamp(c.end, ','))
		for _, line := range c.lines {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// RenderVTT renders segments as WebVTT cues. VTT timestamps use a dot before
// the milliseconds and cues carry no index numbers.
func RenderVTT(segments []store.Segment, rules profile.SubtitleRules) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n")
	for _, c := range buildCues(segments, rules) {
		b.WriteString("\n")
		fmt.Fprintf(&b, "%s --> %s\n", formatTimestamp(c.start, '.'), formatTimestamp(c.end, '.'))
		for _, line := range c.lines {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// wrapText word-wraps text to at most maxLines lines of maxChars characters.
// When the text does not fit, the overflow is merged into the last permitted
// line and truncated at the character limit.
func wrapText(text string, maxChars, maxLines int) []string {
	if maxChars <= 0 {
		maxChars = 1
	}
	if maxLines <= 0 {
		maxLines = 1
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{""}
	}
	var wrapped []string
	current := words[0]
	for _, word := range words[1:] {
		if utf8.RuneCountInString(current)+1+utf8.RuneCountInString(word) <= maxChars {
			current += " " + word
			continue
		}
		wrapped = append(wrapped, current)
		current = word
	}
	wrapped = append(wrapped, current)

	if len(wrapped) <= maxLines {
		return wrapped
	}
	merged := append([]string(nil), wrapped[:maxLines-1]...)
	overflow := strings.Join(wrapped[maxLines-1:], " ")
	if runes := []rune(overflow); len(runes) > maxChars {
		overflow = string(runes[:maxChars])
	}
	return append(merged, overflow)
}

func formatTimestamp(seconds float64, millisSep byte) string {
	if seconds < 0 {
		seconds = 0
	}
	totalMillis := int64(seconds*1000 + 0.5)
	hours := totalMillis / 3_600_000
	totalMillis -= hours * 3_600_000
	minutes := totalMillis / 60_000
	totalMillis -= minutes * 60_000
	secs := totalMillis / 1000
	millis := totalMillis - secs*1000
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", hours, minutes, secs, millisSep, millis)
}
