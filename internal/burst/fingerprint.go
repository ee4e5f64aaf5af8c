package burst

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint returns a stable equality token for message content: the hex
// sha256 of the trimmed, lower-cased, whitespace-collapsed text. It is used
// only to detect repeats and is never reversed.
func Fingerprint(content string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(content)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
