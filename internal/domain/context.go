package domain

import "context"

type tenantKey struct{}

// TenantContext carries the caller identity and organizational scope through
// request context. Authentication happens upstream; the engine treats both
// fields as opaque.
type TenantContext struct {
	TenantID    string
	ActorID     string
	Permissions []string
}

// WithTenant stores a TenantContext in the context.
func WithTenant(ctx context.Context, t TenantContext) context.Context {
	return context.WithValue(ctx, tenantKey{}, t)
}

// TenantFromContext extracts the TenantContext from the context.
func TenantFromContext(ctx context.Context) (TenantContext, bool) {
	t, ok := ctx.Value(tenantKey{}).(TenantContext)
	return t, ok
}

// HasPermission reports whether the tenant context carries the given tag.
func (t TenantContext) HasPermission(tag string) bool {
	for _, p := range t.Permissions {
		if p == tag {
			return true
		}
	}
	return false
}
