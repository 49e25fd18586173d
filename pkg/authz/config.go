package authz

import (
	"fmt"
	"net/http"
	"time"

	"k8s.io/client-go/kubernetes"
)

// AuthzMode selects how callers are identified and authorized.
type AuthzMode string

const (
	// AuthzModeNone trusts proxy headers and allows everything.
	AuthzModeNone AuthzMode = "none"
	// AuthzModeSAR trusts proxy headers and asks Kubernetes SubjectAccessReview.
	AuthzModeSAR AuthzMode = "sar"
	// AuthzModeJWT requires a bearer JWT and authorizes by group role.
	AuthzModeJWT AuthzMode = "jwt"
)

// AuthzConfig configures admin API authentication and authorization.
type AuthzConfig struct {
	Mode AuthzMode
	// Namespace scopes SubjectAccessReviews.
	Namespace string
	CacheTTL  time.Duration
	JWT       JWTConfig
	// AdminGroup and ViewerGroup are the roles of AuthzModeJWT.
	AdminGroup  string
	ViewerGroup string
}

// DefaultAuthzConfig returns the development configuration.
func DefaultAuthzConfig() *AuthzConfig {
	return &AuthzConfig{
		Mode:        AuthzModeNone,
		CacheTTL:    DefaultCacheTTL,
		AdminGroup:  "messagelog-admins",
		ViewerGroup: "messagelog-viewers",
	}
}

// Setup returns the identity middleware and authorizer for cfg. client is
// only used in AuthzModeSAR.
func Setup(cfg *AuthzConfig, client kubernetes.Interface) (func(http.Handler) http.Handler, Authorizer, error) {
	if cfg == nil {
		cfg = DefaultAuthzConfig()
	}
	switch cfg.Mode {
	case "", AuthzModeNone:
		return HeaderIdentityMiddleware(), &NoopAuthorizer{}, nil
	case AuthzModeSAR:
		if client == nil {
			return nil, nil, fmt.Errorf("authz mode %q needs a Kubernetes client", cfg.Mode)
		}
		var a Authorizer = NewSARAuthorizer(client, cfg.Namespace)
		if cfg.CacheTTL > 0 {
			a = NewCachedAuthorizer(a, cfg.CacheTTL)
		}
		return HeaderIdentityMiddleware(), a, nil
	case AuthzModeJWT:
		v, err := NewJWTVerifier(cfg.JWT)
		if err != nil {
			return nil, nil, err
		}
		return v.Middleware(), &RoleAuthorizer{AdminGroup: cfg.AdminGroup, ViewerGroup: cfg.ViewerGroup}, nil
	}
	return nil, nil, fmt.Errorf("unknown authz mode %q", cfg.Mode)
}
