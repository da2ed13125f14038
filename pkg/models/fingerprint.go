package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Fingerprint computes the content fingerprint used for deduplication.
// It is a pure function of the input: case is folded and runs of whitespace
// collapse to a single space before hashing, so that cosmetic reformatting
// of otherwise identical content maps to the same pattern.
func Fingerprint(content string) string {
	normalized := normalizeContent(content)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func normalizeContent(content string) string {
	var b strings.Builder
	b.Grow(len(content))
	lastSpace := true
	for _, r := range strings.ToLower(content) {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}
