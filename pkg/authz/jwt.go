package authz

import (
	"crypto"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures bearer token authentication.
type JWTConfig struct {
	// Secret verifies HMAC-signed tokens.
	Secret string
	// PublicKeyFile is a PEM RSA or ECDSA public key verifying asymmetric tokens.
	PublicKeyFile string
	Issuer        string
	Audience      string
	// GroupsClaim names the claim holding the caller's groups.
	GroupsClaim string
}

// JWTVerifier turns bearer tokens into identities.
type JWTVerifier struct {
	parser *jwt.Parser
	key    jwt.Keyfunc
	groups string
}

// NewJWTVerifier creates a verifier for cfg. Exactly one of Secret and
// PublicKeyFile must be set.
func NewJWTVerifier(cfg JWTConfig) (*JWTVerifier, error) {
	var (
		key     any
		methods []string
	)
	switch {
	case cfg.Secret != "" && cfg.PublicKeyFile != "":
		return nil, errors.New("jwt: set either a secret or a public key, not both")
	case cfg.Secret != "":
		key = []byte(cfg.Secret)
		methods = []string{"HS256", "HS384", "HS512"}
	case cfg.PublicKeyFile != "":
		pub, alg, err := loadPublicKey(cfg.PublicKeyFile)
		if err != nil {
			return nil, err
		}
		key = pub
		methods = alg
	default:
		return nil, errors.New("jwt: no verification key configured")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods(methods), jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	groups := cfg.GroupsClaim
	if groups == "" {
		groups = "groups"
	}
	return &JWTVerifier{
		parser: jwt.NewParser(opts...),
		key:    func(*jwt.Token) (any, error) { return key, nil },
		groups: groups,
	}, nil
}

func loadPublicKey(path string) (crypto.PublicKey, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("jwt: read public key: %w", err)
	}
	if k, err := jwt.ParseRSAPublicKeyFromPEM(data); err == nil {
		return k, []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512"}, nil
	}
	if k, err := jwt.ParseECPublicKeyFromPEM(data); err == nil {
		return k, []string{"ES256", "ES384", "ES512"}, nil
	}
	return nil, nil, fmt.Errorf("jwt: %s holds no RSA or ECDSA public key", path)
}

// Verify validates token and returns the identity it carries.
func (v *JWTVerifier) Verify(token string) (Identity, error) {
	claims := jwt.MapClaims{}
	if _, err := v.parser.ParseWithClaims(token, claims, v.key); err != nil {
		return Identity{}, err
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Identity{}, errors.New("token has no subject")
	}
	id := Identity{User: sub}
	switch g := claims[v.groups].(type) {
	case []any:
		for _, item := range g {
			if s, ok := item.(string); ok && s != "" {
				id.Groups = append(id.Groups, s)
			}
		}
	case string:
		id.Groups = splitGroups(g)
	}
	return id, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// token's identity in the request context.
func (v *JWTVerifier) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(raw) == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="messagelog"`)
				writeDenied(w, http.StatusUnauthorized, "unauthorized", "bearer token required")
				return
			}
			id, err := v.Verify(strings.TrimSpace(raw))
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="messagelog", error="invalid_token"`)
				writeDenied(w, http.StatusUnauthorized, "unauthorized", "invalid bearer token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
