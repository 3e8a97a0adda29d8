// Package cep handles normalization of Brazilian postal codes (CEPs).
//
// Input files from the admin dashboard arrive as loosely delimited text:
// one or more codes per line, separated by line breaks, commas, or
// semicolons, often with stray punctuation such as the conventional
// "01001-000" hyphen. This package reduces that text to a clean, ordered,
// de-duplicated list of canonical 8-digit codes.
//
// Tokens that do not strip down to exactly 8 digits are dropped silently;
// callers that care can log the dropped count via NormalizeStats. This
// tolerance is deliberate: bulk files routinely carry header fragments,
// blank cells, and truncated codes, and rejecting the whole file for them
// would be worse than skipping them.
package cep

import "strings"

// Length is the number of digits in a canonical CEP.
const Length = 8

// Canonical strips every non-digit character from token and returns the
// result together with whether it is a valid 8-digit code. Leading zeros
// are significant and preserved.
func Canonical(token string) (string, bool) {
	var b strings.Builder
	b.Grow(Length)
	for _, r := range token {
		if r >= '0' && r <= '9' {
			b.WriteByte(byte(r))
		}
	}
	code := b.String()
	return code, len(code) == Length
}

// Normalize tokenizes raw text and returns the unique valid codes in
// first-seen order. Splitting happens on line breaks first, then on ','
// and ';' within each line; each token is trimmed and canonicalized.
//
// An empty result is not an error at this layer. The caller decides
// whether "no valid postal codes found" is a user-facing condition.
func Normalize(raw string) []string {
	codes, _ := NormalizeStats(raw)
	return codes
}

// NormalizeStats is Normalize plus the number of non-empty tokens that
// were dropped for not stripping to exactly 8 digits. The count is for
// diagnostics only; dropped tokens are never reported per-item.
func NormalizeStats(raw string) (codes []string, dropped int) {
	seen := make(map[string]struct{})
	for _, line := range strings.FieldsFunc(raw, isLineBreak) {
		for _, token := range strings.FieldsFunc(line, isSeparator) {
			token = strings.TrimSpace(token)
			if token == "" {
				continue
			}
			code, ok := Canonical(token)
			if !ok {
				dropped++
				continue
			}
			if _, dup := seen[code]; dup {
				continue
			}
			seen[code] = struct{}{}
			codes = append(codes, code)
		}
	}
	return codes, dropped
}

func isLineBreak(r rune) bool { return r == '\n' || r == '\r' }

func isSeparator(r rune) bool { return r == ',' || r == ';' }

// Format renders a canonical code in the conventional "01001-000" display
// form. Codes that are not 8 digits are returned unchanged.
func Format(code string) string {
	if len(code) != Length {
		return code
	}
	return code[:5] + "-" + code[5:]
}
