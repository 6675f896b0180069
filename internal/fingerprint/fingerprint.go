// Package fingerprint normalizes prompts and derives the content-addressed
// digest used to key the prefix cache and cache index.
package fingerprint

import (
	"crypto/sha256"
	"strings"
)

// Size is the length in bytes of a fingerprint.
const Size = 16

// gramSize is the n-gram width fed into the digest.
const gramSize = 5

// Normalize trims outer whitespace and collapses interior whitespace runs
// into single spaces. Two prompts that normalize equal share a fingerprint.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Fingerprint derives a deterministic 16-byte digest from text. The text is
// normalized first; character 5-grams of the normalized text are fed into a
// SHA-256 digest, truncated to Size bytes. Content-hash collisions are
// tolerated by design — they only cause warmth mis-attribution in the
// router, never a correctness fault, since engine sessions stay
// authoritative (spec.md §3).
//
// For normalized text shorter than gramSize runes, no grams are fed and the
// empty digest is returned — well-defined and still deterministic.
func Fingerprint(text string) [Size]byte {
	normalized := Normalize(text)
	runes := []rune(normalized)

	h := sha256.New()
	for i := 0; i+gramSize <= len(runes); i++ {
		h.Write([]byte(string(runes[i : i+gramSize])))
	}

	var out [Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Bytes is a convenience wrapper returning the fingerprint as a slice,
// matching the wire representation used by the prefix cache and RPC layer.
func Bytes(text string) []byte {
	fp := Fingerprint(text)
	return fp[:]
}
