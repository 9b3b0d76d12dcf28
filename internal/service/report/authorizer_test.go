package report

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-reports/internal/domain"
)

func TestPermissionAuthorizer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		granted  []string
		required []string
		wantErr  string
	}{
		{name: "nothing required", granted: nil, required: nil},
		{name: "all granted", granted: []string{"reports.fleet", "reports.operations"}, required: []string{"reports.operations"}},
		{name: "one missing", granted: []string{"reports.fleet"}, required: []string{"reports.fleet", "reports.operations"}, wantErr: "reports.operations"},
		{name: "none granted", required: []string{"reports.people", "reports.fleet"}, wantErr: "reports.people, reports.fleet"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tenant := domain.TenantContext{TenantID: "7", ActorID: "u1", Permissions: tc.granted}
			err := PermissionAuthorizer{}.Authorize(context.Background(), tenant, tc.required)
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			var denied *domain.AccessDeniedError
			require.ErrorAs(t, err, &denied)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestRun_WithPermissionAuthorizer(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.svc.SetAuthorizer(PermissionAuthorizer{})

	_, err := h.svc.Run(acmeCtx(), vehicleSpec(), RunOptions{})
	var denied *domain.AccessDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Zero(t, h.storage.Calls())

	fleet := acme
	fleet.Permissions = []string{"reports.fleet"}
	res, err := h.svc.Run(domain.WithTenant(context.Background(), fleet), vehicleSpec(), RunOptions{})
	require.NoError(t, err)
	assert.Len(t, res.Rows, 2)
}
