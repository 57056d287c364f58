package artifacts

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"transcribeflow/internal/profile"
	"transcribeflow/internal/store"
)

// minSegmentDuration guards the CPS division against zero-length segments.
const minSegmentDuration = 0.1

// Validate checks segments against the profile's subtitle constraints and
// returns human-readable warnings. Warnings never block artifact emission;
// they travel with the JSON record for the reviewer.
func Validate(segments []store.Segment, rules profile.SubtitleRules) []string {
	var warnings []string
	for i, seg := range segments {
		duration := seg.EndSec - seg.StartSec
		if duration < minSegmentDuration {
			duration = minSegmentDuration
		}
		cps := float64(utf8.RuneCountInString(seg.Text)) / duration
		if cps > float64(rules.ReadingSpeedCPS) {
			warnings = append(warnings, fmt.Sprintf("segment %d exceeds reading speed (%.2f > %d cps)", i+1, cps, rules.ReadingSpeedCPS))
		}
		for _, line := range strings.Split(seg.Text, "\n") {
			if count := utf8.RuneCountInString(line); count > rules.MaxCharsPerLine {
				warnings = append(warnings, fmt.Sprintf("segment %d exceeds characters per line (%d > %d)", i+1, count, rules.MaxCharsPerLine))
			}
		}
	}
	return warnings
}
