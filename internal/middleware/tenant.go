package middleware

import (
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"fleet-reports/internal/domain"
)

// Identity headers honored when AuthConfig.TrustHeaders is set. They exist
// for deployments where a gateway has already authenticated the caller.
const (
	HeaderTenantID    = "X-Tenant-ID"
	HeaderActorID     = "X-Actor-ID"
	HeaderPermissions = "X-Permissions"
)

// AuthConfig configures Authenticate.
type AuthConfig struct {
	// Validator checks bearer tokens. Nil disables token authentication.
	Validator JWTValidator
	// TenantClaim and PermissionsClaim name the claims carrying the tenant
	// id and permission tags.
	TenantClaim      string
	PermissionsClaim string
	// TrustHeaders accepts the X-Tenant-ID family of headers when no bearer
	// token is presented.
	TrustHeaders bool
}

// Authenticate resolves the caller's domain.TenantContext from a bearer token
// or, when trusted, from identity headers. Requests without a tenant are
// rejected with 401.
func Authenticate(cfg AuthConfig) func(http.Handler) http.Handler {
	if cfg.TenantClaim == "" {
		cfg.TenantClaim = DefaultTenantClaim
	}
	if cfg.PermissionsClaim == "" {
		cfg.PermissionsClaim = DefaultPermissionsClaim
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") && cfg.Validator != nil {
				claims, err := cfg.Validator.Validate(r.Context(), strings.TrimPrefix(auth, "Bearer "))
				if err != nil {
					writeUnauthorized(w, "invalid bearer token")
					return
				}
				tenant := domain.TenantContext{
					TenantID:    claims.String(cfg.TenantClaim),
					ActorID:     claims.Subject,
					Permissions: claims.List(cfg.PermissionsClaim),
				}
				if tenant.TenantID == "" || tenant.ActorID == "" {
					writeUnauthorized(w, "token is missing the tenant or subject claim")
					return
				}
				noteTenant(r.Context(), tenant)
				next.ServeHTTP(w, r.WithContext(domain.WithTenant(r.Context(), tenant)))
				return
			}

			if cfg.TrustHeaders {
				if tenant, ok := tenantFromHeaders(r); ok {
					noteTenant(r.Context(), tenant)
					next.ServeHTTP(w, r.WithContext(domain.WithTenant(r.Context(), tenant)))
					return
				}
			}

			writeUnauthorized(w, "unauthorized: provide a valid bearer token")
		})
	}
}

func tenantFromHeaders(r *http.Request) (domain.TenantContext, bool) {
	t := domain.TenantContext{
		TenantID: strings.TrimSpace(r.Header.Get(HeaderTenantID)),
		ActorID:  strings.TrimSpace(r.Header.Get(HeaderActorID)),
	}
	if t.TenantID == "" || t.ActorID == "" {
		return t, false
	}
	for _, p := range strings.Split(r.Header.Get(HeaderPermissions), ",") {
		if p = strings.TrimSpace(p); p != "" {
			t.Permissions = append(t.Permissions, p)
		}
	}
	return t, true
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    http.StatusUnauthorized,
		"message": msg,
	})
}
