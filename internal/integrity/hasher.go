package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Hash computes the SHA-256 digest over the canonicalized content plus the
// provenance envelope. Canonicalization normalizes line endings and trims
// trailing whitespace per line so a digest survives transport re-encoding
// without weakening the avalanche property for real edits.
func Hash(content []byte, env Envelope) string {
	h := sha256.New()
	h.Write(canonicalize(content))
	h.Write([]byte{0})
	h.Write([]byte(env.OriginIP))
	h.Write([]byte{0})
	h.Write([]byte(env.GeneratedAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}

// HashBytes computes the plain SHA-256 of raw bytes, used for binary
// artifacts (uploads, archives) where no provenance envelope applies.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the digest for content+envelope and compares. A false
// result is an IntegrityMismatch at the call site: always fatal, never
// silently ignored.
func Verify(content []byte, env Envelope, digest string) bool {
	return Hash(content, env) == strings.ToLower(strings.TrimSpace(digest))
}

func canonicalize(content []byte) []byte {
	s := string(content)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return []byte(strings.Join(lines, "\n"))
}
