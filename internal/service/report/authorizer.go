package report

import (
	"context"
	"strings"

	"fleet-reports/internal/domain"
)

// PermissionAuthorizer grants access when the caller carries every
// permission tag a query's tables declare. It is the default used when no
// external authorization service is configured.
type PermissionAuthorizer struct{}

var _ domain.Authorizer = PermissionAuthorizer{}

// Authorize implements domain.Authorizer.
func (PermissionAuthorizer) Authorize(_ context.Context, tenant domain.TenantContext, permissions []string) error {
	var missing []string
	for _, p := range permissions {
		if !tenant.HasPermission(p) {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return domain.ErrAccessDenied("missing permission(s): %s", strings.Join(missing, ", "))
	}
	return nil
}
