package crypto

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Checksum returns the hex BLAKE2b-256 digest of data.
func Checksum(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ChecksumReader streams r through BLAKE2b-256 and returns the hex digest.
func ChecksumReader(r io.Reader) (string, error) {
	hasher, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("create blake2b hasher: %w", err)
	}
	if _, err := io.Copy(hasher, r); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// VerifyChecksum reports whether data hashes to expected. An empty expected
// digest always verifies.
func VerifyChecksum(data []byte, expected string) bool {
	if expected == "" {
		return true
	}
	return strings.EqualFold(Checksum(data), expected)
}

// FormatChecksum returns the first 16 hex chars of a digest grouped in chunks of 4 uppercase chars.
func FormatChecksum(checksum string) string {
	clean := strings.ToUpper(strings.ReplaceAll(checksum, " ", ""))
	if len(clean) > 16 {
		clean = clean[:16]
	}
	if clean == "" {
		return ""
	}

	var b strings.Builder
	for i := 0; i < len(clean); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}

		end := i + 4
		if end > len(clean) {
			end = len(clean)
		}
		b.WriteString(clean[i:end])
	}

	return b.String()
}
