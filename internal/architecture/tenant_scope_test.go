package architecture_test

import (
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Methods that act on behalf of a caller must resolve the tenant from the
// request context before touching tenant data.
var tenantScopedMethods = map[string][]string{
	"internal/service/report/reports.go": {
		"CreateReport", "GetReport", "ListReports", "UpdateReport", "DeleteReport", "RunReport",
	},
	"internal/service/report/service.go": {
		"Compile", "Run", "Export", "InvalidateCache", "ListExecutions", "GetExecution", "ListAudit", "VerifyAudit",
	},
}

func TestTenantScoping_CallerFacingMethods(t *testing.T) {
	for file, methods := range tenantScopedMethods {
		for _, method := range methods {
			body := methodBody(t, file, method)
			require.Containsf(t, body, "tenantFrom(ctx)", "governance: %s.%s must resolve the tenant from ctx", file, method)
		}
	}
}

func TestTenantScoping_ScheduledRunsActAsOwner(t *testing.T) {
	body := methodBody(t, "internal/service/report/reports.go", "RunScheduled")
	require.Contains(t, body, "r.TenantID")
	require.Contains(t, body, "r.OwnerID")
	require.Contains(t, body, "r.OwnerPermissions")
}

func methodBody(t *testing.T, relPath, method string) string {
	t.Helper()

	absPath := filepath.Join(repoRootDir(), relPath)
	src, err := os.ReadFile(absPath)
	require.NoErrorf(t, err, "read %s", relPath)

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, absPath, src, parser.ParseComments)
	require.NoErrorf(t, err, "parse %s", relPath)

	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Body == nil || fn.Name == nil {
			continue
		}
		if fn.Name.Name != method {
			continue
		}
		start := fset.Position(fn.Body.Pos()).Offset
		end := fset.Position(fn.Body.End()).Offset
		if start < 0 || end > len(src) || start >= end {
			require.Failf(t, "invalid function body offsets", "%s.%s", relPath, method)
		}
		return string(src[start:end])
	}

	require.Failf(t, "method not found", "%s.%s", relPath, method)
	return ""
}
