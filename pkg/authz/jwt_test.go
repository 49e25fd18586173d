package authz

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func signHS256(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func TestJWTVerifier_Verify(t *testing.T) {
	v, err := NewJWTVerifier(JWTConfig{Secret: testSecret, Issuer: "idp", Audience: "messagelog"})
	require.NoError(t, err)

	valid := jwt.MapClaims{
		"sub":    "alice",
		"iss":    "idp",
		"aud":    "messagelog",
		"exp":    time.Now().Add(time.Hour).Unix(),
		"groups": []string{"messagelog-admins", "ops"},
	}

	t.Run("valid token", func(t *testing.T) {
		id, err := v.Verify(signHS256(t, valid))
		require.NoError(t, err)
		assert.Equal(t, "alice", id.User)
		assert.Equal(t, []string{"messagelog-admins", "ops"}, id.Groups)
	})

	tests := []struct {
		name   string
		mutate func(jwt.MapClaims)
	}{
		{name: "expired", mutate: func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Minute).Unix() }},
		{name: "no expiry", mutate: func(c jwt.MapClaims) { delete(c, "exp") }},
		{name: "wrong issuer", mutate: func(c jwt.MapClaims) { c["iss"] = "other" }},
		{name: "wrong audience", mutate: func(c jwt.MapClaims) { c["aud"] = "other" }},
		{name: "no subject", mutate: func(c jwt.MapClaims) { delete(c, "sub") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := jwt.MapClaims{}
			for k, val := range valid {
				claims[k] = val
			}
			tt.mutate(claims)
			_, err := v.Verify(signHS256(t, claims))
			assert.Error(t, err)
		})
	}

	t.Run("wrong secret", func(t *testing.T) {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, valid).SignedString([]byte("another-secret"))
		require.NoError(t, err)
		_, err = v.Verify(s)
		assert.Error(t, err)
	})
}

func TestJWTVerifier_GroupsClaimString(t *testing.T) {
	v, err := NewJWTVerifier(JWTConfig{Secret: testSecret, GroupsClaim: "roles"})
	require.NoError(t, err)

	id, err := v.Verify(signHS256(t, jwt.MapClaims{
		"sub":   "bob",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"roles": "viewers, ops",
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"viewers", "ops"}, id.Groups)
}

func TestJWTVerifier_PublicKey(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "jwt.pub")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600))

	v, err := NewJWTVerifier(JWTConfig{PublicKeyFile: path})
	require.NoError(t, err)

	s, err := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"sub": "carol",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(key)
	require.NoError(t, err)

	id, err := v.Verify(s)
	require.NoError(t, err)
	assert.Equal(t, "carol", id.User)

	// HMAC tokens are refused when a public key is configured.
	_, err = v.Verify(signHS256(t, jwt.MapClaims{"sub": "carol", "exp": time.Now().Add(time.Hour).Unix()}))
	assert.Error(t, err)
}

func TestNewJWTVerifier_Config(t *testing.T) {
	_, err := NewJWTVerifier(JWTConfig{})
	assert.Error(t, err)

	_, err = NewJWTVerifier(JWTConfig{Secret: "s", PublicKeyFile: "/tmp/k.pem"})
	assert.Error(t, err)

	_, err = NewJWTVerifier(JWTConfig{PublicKeyFile: filepath.Join(t.TempDir(), "missing.pem")})
	assert.Error(t, err)
}

func TestJWTVerifier_Middleware(t *testing.T) {
	v, err := NewJWTVerifier(JWTConfig{Secret: testSecret})
	require.NoError(t, err)

	var got Identity
	handler := v.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("missing token", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Contains(t, rr.Header().Get("WWW-Authenticate"), "Bearer")
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signHS256(t, jwt.MapClaims{
			"sub": "dave",
			"exp": time.Now().Add(time.Hour).Unix(),
		}))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, "dave", got.User)
	})
}
