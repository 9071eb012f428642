// ABOUTME: Request-scoped principal identity set by the HTTP middleware
// ABOUTME: Handlers read it to own conversations and attribute token usage

package auth

import "context"

// AnonymousID is the principal used when the gateway runs without a secret.
const AnonymousID = "anonymous"

// Principal identifies the caller of a request.
type Principal struct {
	ID        string
	Anonymous bool
}

type principalKey struct{}

// WithPrincipal returns ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx, or nil.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

// PrincipalID returns the id of the principal in ctx, falling back to
// AnonymousID when none is set.
func PrincipalID(ctx context.Context) string {
	if p := FromContext(ctx); p != nil && p.ID != "" {
		return p.ID
	}
	return AnonymousID
}
