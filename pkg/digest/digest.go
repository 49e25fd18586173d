// Package digest maps configured hash algorithm names to crypto.Hash values
// and computes the hex digests stored alongside log records and archives.
package digest

import (
	"crypto"
	_ "crypto/sha256" // registers SHA-224/SHA-256
	_ "crypto/sha512" // registers SHA-384/SHA-512
	"encoding/hex"
	"fmt"
	"strings"
)

// Default is the algorithm used when none is configured.
const Default = "SHA-512"

var algorithms = map[string]crypto.Hash{
	"SHA-224": crypto.SHA224,
	"SHA-256": crypto.SHA256,
	"SHA-384": crypto.SHA384,
	"SHA-512": crypto.SHA512,
}

// Parse resolves an algorithm name. Names are case-insensitive and the dash is
// optional, so "sha256" and "SHA-256" are equivalent.
func Parse(name string) (crypto.Hash, error) {
	if h, ok := algorithms[Canonical(name)]; ok {
		return h, nil
	}
	return 0, fmt.Errorf("unsupported hash algorithm %q", name)
}

// Canonical returns the canonical spelling of name, e.g. "sha512" -> "SHA-512".
// Unknown names are returned upper-cased.
func Canonical(name string) string {
	n := strings.ToUpper(strings.TrimSpace(name))
	if n == "" {
		return Default
	}
	if strings.HasPrefix(n, "SHA") && !strings.HasPrefix(n, "SHA-") {
		n = "SHA-" + strings.TrimPrefix(n, "SHA")
	}
	return n
}

// Sum hashes data with the named algorithm.
func Sum(name string, data []byte) ([]byte, error) {
	h, err := Parse(name)
	if err != nil {
		return nil, err
	}
	w := h.New()
	w.Write(data)
	return w.Sum(nil), nil
}

// SumHex is Sum encoded as lower-case hex.
func SumHex(name string, data []byte) (string, error) {
	sum, err := Sum(name, data)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}
