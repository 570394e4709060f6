package invite

import (
	"crypto/rand"
	"io"
	"math/big"
	"strings"
)

// LegacyAlphabet excludes the ambiguous glyphs 0, O, 1 and I.
const LegacyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	legacyPrefix    = "INV-"
	legacyGroups    = 3
	legacyGroupSize = 4
	// LegacyCodeLen is len("INV-XXXX-XXXX-XXXX").
	LegacyCodeLen = len(legacyPrefix) + legacyGroups*legacyGroupSize + legacyGroups - 1
)

var alphabetSize = big.NewInt(int64(len(LegacyAlphabet)))

// GenerateLegacyCode returns a fresh INV-XXXX-XXXX-XXXX code.
func GenerateLegacyCode() (string, error) { return generateLegacyCode(rand.Reader) }

func generateLegacyCode(r io.Reader) (string, error) {
	var b strings.Builder
	b.Grow(LegacyCodeLen)
	b.WriteString(legacyPrefix)
	for g := 0; g < legacyGroups; g++ {
		if g > 0 {
			b.WriteByte('-')
		}
		for i := 0; i < legacyGroupSize; i++ {
			n, err := rand.Int(r, alphabetSize)
			if err != nil {
				return "", err
			}
			b.WriteByte(LegacyAlphabet[n.Int64()])
		}
	}
	return b.String(), nil
}

// IsLegacyCode reports whether s has the INV-XXXX-XXXX-XXXX shape over LegacyAlphabet.
func IsLegacyCode(s string) bool {
	if len(s) != LegacyCodeLen || !strings.HasPrefix(s, legacyPrefix) {
		return false
	}
	groups := strings.Split(s[len(legacyPrefix):], "-")
	if len(groups) != legacyGroups {
		return false
	}
	for _, g := range groups {
		if len(g) != legacyGroupSize {
			return false
		}
		for i := 0; i < len(g); i++ {
			if strings.IndexByte(LegacyAlphabet, g[i]) < 0 {
				return false
			}
		}
	}
	return true
}

// NormalizeCode trims whitespace and, for legacy-shaped input, upper-cases it.
// Email-bound codes are case-sensitive and returned as-is.
func NormalizeCode(s string) string {
	s = strings.TrimSpace(s)
	if up := strings.ToUpper(s); IsLegacyCode(up) {
		return up
	}
	return s
}
