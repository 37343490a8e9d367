package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Fingerprint derives the deterministic cache key for a generation request.
// Prompt whitespace is trimmed and the remaining parameters are folded into a
// canonical string before hashing, so equivalent requests share an entry.
func Fingerprint(prompt, model string, temperature float64, maxTokens int, image bool) string {
	canonical := fmt.Sprintf("%s|%s|%.2f|%d|%t",
		strings.TrimSpace(prompt), model, temperature, maxTokens, image)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
