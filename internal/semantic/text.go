package semantic

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/k3a/html2text"
)

// CleanText strips HTML markup and collapses whitespace so cosmetic edits
// to a description do not change its hash.
func CleanText(s string) string {
	return strings.Join(strings.Fields(html2text.HTML2Text(s)), " ")
}

// TextHash returns the hex sha256 of cleaned text.
func TextHash(cleaned string) string {
	sum := sha256.Sum256([]byte(cleaned))
	return hex.EncodeToString(sum[:])
}
