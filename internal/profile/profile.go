package profile

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SubtitleRules are the presentation limits applied to subtitle artifacts.
type SubtitleRules struct {
	MaxCharsPerLine int
	MaxLines        int
	ReadingSpeedCPS int
}

const (
	defaultMaxCharsPerLine = 42
	defaultMaxLines        = 2
	defaultReadingSpeed    = 17
)

// Profile is one editorial profile parsed from a .prompt.txt definition.
type Profile struct {
	ID         string
	Meta       map[string]any
	PromptBody string
	SourcePath string
}

// Language returns the profile's target language, defaulting to "auto".
func (p *Profile) Language() string {
	if value, ok := p.Meta["language"].(string); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return "auto"
}

// SubtitleRules returns subtitle limits, with defaults for unset keys.
func (p *Profile) SubtitleRules() SubtitleRules {
	rules := SubtitleRules{
		MaxCharsPerLine: defaultMaxCharsPerLine,
		MaxLines:        defaultMaxLines,
		ReadingSpeedCPS: defaultReadingSpeed,
	}
	subtitleMeta, ok := p.Meta["subtitle"].(map[string]any)
	if !ok {
		return rules
	}
	if v, ok := metaInt(subtitleMeta["max_chars_per_line"]); ok {
		rules.MaxCharsPerLine = v
	}
	if v, ok := metaInt(subtitleMeta["max_lines"]); ok {
		rules.MaxLines = v
	}
	if v, ok := metaInt(subtitleMeta["reading_speed_cps"]); ok {
		rules.ReadingSpeedCPS = v
	}
	return rules
}

// RequiresTranslation reports whether the post-edit stage should translate.
// Translation is requested through an explicit "translate" instruction or by
// pinning the profile to a concrete language.
func (p *Profile) RequiresTranslation() bool {
	for _, instruction := range p.Instructions() {
		if strings.EqualFold(instruction, "translate") {
			return true
		}
	}
	language := ""
	if value, ok := p.Meta["language"].(string); ok {
		language = strings.TrimSpace(value)
	}
	return language != "" && !strings.EqualFold(language, "auto")
}

// ShouldAnonymizePII reports whether personal data masking is enabled.
func (p *Profile) ShouldAnonymizePII() bool {
	postEdit, ok := p.Meta["post_edit"].(map[string]any)
	if !ok {
		return false
	}
	value, ok := postEdit["anonymize_pii"].(bool)
	return ok && value
}

// Instructions returns the editorial instruction list from the front matter.
func (p *Profile) Instructions() []string {
	return metaStrings(p.Meta["instructions"])
}

// Disclaimers returns the disclaimer lines attached to every transcript.
func (p *Profile) Disclaimers() []string {
	return metaStrings(p.Meta["disclaimers"])
}

// MetaString fetches a scalar front-matter value as a string.
func (p *Profile) MetaString(key string) string {
	switch v := p.Meta[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// DumpMeta renders the front matter as indented JSON for prompt assembly.
func (p *Profile) DumpMeta() string {
	if len(p.Meta) == 0 {
		return "{}"
	}
	data, err := json.MarshalIndent(p.Meta, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

func metaStrings(value any) []string {
	list, ok := value.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func metaInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
