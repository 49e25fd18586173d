package digest

import (
	"crypto"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAcceptsVariants(t *testing.T) {
	tests := []struct {
		name string
		want crypto.Hash
	}{
		{"SHA-256", crypto.SHA256},
		{"sha256", crypto.SHA256},
		{" Sha-384 ", crypto.SHA384},
		{"SHA512", crypto.SHA512},
		{"", crypto.SHA512},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRejectsUnknown(t *testing.T) {
	_, err := Parse("MD5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MD5")
}

func TestSumHex(t *testing.T) {
	want := sha256.Sum256([]byte("abc"))
	got, err := SumHex("SHA-256", []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(want[:]), got)
}
