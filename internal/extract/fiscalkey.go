package extract

import "regexp"

const fiscalKeyLength = 44

var (
	nonDigits = regexp.MustCompile(`\D`)
	keyRun    = regexp.MustCompile(`\d{44}`)
)

// Digits strips every non-digit character from s.
func Digits(s string) string {
	return nonDigits.ReplaceAllString(s, "")
}

// FiscalKey searches recognized text for a 44-digit fiscal access key.
// Non-digit characters are stripped first, so a key broken up by
// spaces or OCR noise still matches; the first 44-digit window in scan
// order wins.
func FiscalKey(text string) (string, bool) {
	match := keyRun.FindString(Digits(text))
	if match == "" {
		return "", false
	}
	return match, true
}

// KeyLength is the exact digit count a fiscal access key must have.
func KeyLength() int {
	return fiscalKeyLength
}
