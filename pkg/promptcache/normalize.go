package promptcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Normalize canonicalizes a prompt before hashing and embedding:
// leading and trailing whitespace is trimmed, letters are lowered,
// runs of internal whitespace collapse to a single space, and every
// rune in punctuation is dropped. Two prompts that normalize to the
// same string are treated as the same question.
func Normalize(text, punctuation string) string {
	var b strings.Builder
	b.Grow(len(text))

	space := false
	for _, r := range strings.TrimSpace(text) {
		if strings.ContainsRune(punctuation, r) {
			continue
		}
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
		}
		b.WriteRune(unicode.ToLower(r))
	}

	return b.String()
}

// HashPrompt returns the hex SHA-256 of a normalized prompt. It is the
// exact-match key and the entry identifier in the semantic index.
func HashPrompt(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
