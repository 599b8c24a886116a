package authority

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// IntegrityTokenLength is the number of emoji in an integrity token.
// Four symbols out of a 64-symbol alphabet give 24 bits: trivial to read
// aloud, far too large to guess or collide across a guardian's handful
// of concurrent requests.
const IntegrityTokenLength = 4

// integrityAlphabet is the fixed emoji alphabet. Symbols are chosen to
// be visually distinct and easy to name over a phone call.
var integrityAlphabet = []string{
	"🐶", "🐱", "🐭", "🐹", "🐰", "🦊", "🐻", "🐼",
	"🐨", "🐯", "🦁", "🐮", "🐷", "🐸", "🐵", "🐔",
	"🐧", "🐦", "🦆", "🦅", "🦉", "🐺", "🐗", "🐴",
	"🦄", "🐝", "🐛", "🦋", "🐌", "🐞", "🐜", "🐢",
	"🐍", "🦎", "🐙", "🦀", "🐡", "🐠", "🐟", "🐬",
	"🐳", "🐋", "🦈", "🐊", "🐅", "🐆", "🦓", "🦍",
	"🐘", "🦏", "🐪", "🐫", "🦒", "🐃", "🐂", "🐄",
	"🐎", "🐖", "🐏", "🐑", "🐐", "🦌", "🐕", "🐈",
}

// newIntegrityToken draws a fresh token from crypto/rand.
func newIntegrityToken() (string, error) {
	var b strings.Builder
	for i := 0; i < IntegrityTokenLength; i++ {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(integrityAlphabet))))
		if err != nil {
			return "", fmt.Errorf("could not draw integrity token: %w", err)
		}
		b.WriteString(integrityAlphabet[idx.Int64()])
	}
	return b.String(), nil
}
