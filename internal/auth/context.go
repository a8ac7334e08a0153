package auth

import (
	"context"
	"sync"
)

// SecurityContext holds the principal of one request. The gate creates it
// and clears it when the downstream handler returns.
type SecurityContext struct {
	mu        sync.RWMutex
	principal *Principal
	rotated   *TokenPair
}

func (c *SecurityContext) Set(p *Principal) {
	c.mu.Lock()
	c.principal = p
	c.mu.Unlock()
}

// Principal returns the resolved principal or nil.
func (c *SecurityContext) Principal() *Principal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.principal
}

// Rotated returns the pair the gate minted from the refresh cookie while
// authenticating this request, or nil when the access token was used.
func (c *SecurityContext) Rotated() *TokenPair {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rotated
}

func (c *SecurityContext) setRotated(pair TokenPair) {
	c.mu.Lock()
	c.rotated = &pair
	c.mu.Unlock()
}

func (c *SecurityContext) Clear() {
	c.mu.Lock()
	c.principal = nil
	c.rotated = nil
	c.mu.Unlock()
}

type securityContextKey struct{}

// NewContext returns a copy of ctx carrying sc.
func NewContext(ctx context.Context, sc *SecurityContext) context.Context {
	return context.WithValue(ctx, securityContextKey{}, sc)
}

// FromContext returns the request's security context, or nil.
func FromContext(ctx context.Context) *SecurityContext {
	sc, _ := ctx.Value(securityContextKey{}).(*SecurityContext)
	return sc
}

// PrincipalFrom returns the authenticated principal carried by ctx.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	sc := FromContext(ctx)
	if sc == nil {
		return nil, false
	}
	p := sc.Principal()
	if p == nil || !p.Authenticated {
		return nil, false
	}
	return p, true
}
