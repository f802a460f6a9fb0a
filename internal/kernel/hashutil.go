package kernel

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"unicode"
)

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SHA256Reader consumes r and returns the lowercase hex SHA-256 digest of
// everything read, along with the total byte count — used by the
// acquisition runtime to compute a cumulative per-file hash while
// streaming to disk (§4.4 "acquire_done.json").
func SHA256Reader(r io.Reader) (digest string, n int64, err error) {
	h := sha256.New()
	n, err = io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// NormalizeWhitespace collapses runs of Unicode whitespace to a single
// ASCII space and trims the ends. §3/§8 require
// sha256(normalize_whitespace(text)) to be stable across runs for
// identical text, so this function's behavior is load-bearing: it must
// never depend on run-specific or locale-specific state.
func NormalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !inSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			inSpace = true
			continue
		}
		inSpace = false
		b.WriteRune(r)
	}
	return strings.TrimRight(b.String(), " ")
}

// ContentSHA256 computes the canonical record content hash: SHA-256 over
// whitespace-normalized text (§3).
func ContentSHA256(text string) string {
	return SHA256Hex([]byte(NormalizeWhitespace(text)))
}
