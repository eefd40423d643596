package pos

import (
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

// NormalizePhone canonicalizes a phone number for use as the customer
// de-duplication key.
//
// POS terminals receive numbers typed on assorted keyboards and pasted from
// chat apps, so the same customer shows up as "0300-1234567", "0300 123 4567"
// or with full-width digits. Normalization folds width variants to ASCII,
// keeps a single leading "+", and strips everything that is not a digit.
// The result is stable across online and offline creation, which is what
// makes phone a safe natural key.
func NormalizePhone(raw string) string {
	folded := width.Fold.String(strings.TrimSpace(raw))

	var b strings.Builder
	b.Grow(len(folded))
	for i, r := range folded {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case unicode.IsDigit(r):
			// Non-ASCII decimal digits (e.g. ٠١٢) map onto '0'..'9'
			// via their numeric value.
			if r >= '0' && r <= '9' {
				b.WriteRune(r)
			} else {
				b.WriteRune('0' + rune(digitValue(r)))
			}
		}
	}
	return b.String()
}

// digitValue returns the numeric value of a unicode decimal digit rune.
// Decimal digits are laid out 0..9 consecutively in every script, so the
// offset from the run start is the value.
func digitValue(r rune) int {
	start := r
	for unicode.IsDigit(start-1) && r-start < 9 {
		start--
	}
	return int(r - start)
}
