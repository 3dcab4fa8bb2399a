package weights

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// foldName produces the canonical lookup form of a city or state name:
// NFC-normalized, lowercased, surrounding whitespace trimmed.
//
// City names arrive in several encodings across reference tables
// ("São Paulo" may be NFC in one source and NFD in another, or cased
// differently). Identity comparisons must go through this form or the
// same city is treated as two records.
func foldName(s string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(s)))
}

// identityKey is the canonical identity of a city: folded name plus
// state abbreviation. The raw source key is never identity.
func identityKey(name, stateAbbr string) string {
	return foldName(name) + "\x00" + strings.ToUpper(strings.TrimSpace(stateAbbr))
}
