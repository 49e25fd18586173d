package authz

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DefaultCacheTTL is the default time-to-live for cached decisions.
const DefaultCacheTTL = 10 * time.Second

// maxCachedDecisions bounds the cache; expired entries are swept when it
// is reached.
const maxCachedDecisions = 4096

type decision struct {
	allowed   bool
	expiresAt time.Time
}

// CachedAuthorizer remembers decisions of another Authorizer for a short
// time. Errors are never cached.
type CachedAuthorizer struct {
	inner Authorizer
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	decisions map[string]decision
}

// NewCachedAuthorizer wraps inner, caching decisions for ttl.
func NewCachedAuthorizer(inner Authorizer, ttl time.Duration) *CachedAuthorizer {
	return &CachedAuthorizer{
		inner:     inner,
		ttl:       ttl,
		now:       time.Now,
		decisions: make(map[string]decision),
	}
}

// Authorize implements Authorizer.
func (c *CachedAuthorizer) Authorize(ctx context.Context, req AuthzRequest) (bool, error) {
	key := decisionKey(req)
	now := c.now()

	c.mu.Lock()
	d, ok := c.decisions[key]
	c.mu.Unlock()
	if ok && now.Before(d.expiresAt) {
		return d.allowed, nil
	}

	allowed, err := c.inner.Authorize(ctx, req)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	if len(c.decisions) >= maxCachedDecisions {
		for k, v := range c.decisions {
			if !now.Before(v.expiresAt) {
				delete(c.decisions, k)
			}
		}
	}
	if len(c.decisions) < maxCachedDecisions {
		c.decisions[key] = decision{allowed: allowed, expiresAt: now.Add(c.ttl)}
	}
	c.mu.Unlock()

	return allowed, nil
}

func decisionKey(req AuthzRequest) string {
	return strings.Join([]string{req.User, strings.Join(req.Groups, ","), req.Resource, req.Verb}, "\x00")
}
