package postedit

import "regexp"

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\b(?:\+?\d{1,3}[-.\s]?)?(?:\d{2}[-.\s]?)?\d{4,5}[-.\s]?\d{4}\b`)
	cpfPattern   = regexp.MustCompile(`\b\d{3}\.\d{3}\.\d{3}-\d{2}\b`)
)

// MaskPII replaces emails, phone numbers, and CPF documents with
// placeholder tokens. Used when a profile demands anonymization.
func MaskPII(text string) string {
	masked := emailPattern.ReplaceAllString(text, "[email]")
	masked = phonePattern.ReplaceAllString(masked, "[phone]")
	masked = cpfPattern.ReplaceAllString(masked, "[cpf]")
	return masked
}
