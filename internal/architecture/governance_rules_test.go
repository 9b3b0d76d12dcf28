package architecture_test

import (
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const modulePath = "fleet-reports"

type layerRule struct {
	sourcePrefix string
	forbidden    []string
	hint         string
}

// Rules are matched by first prefix hit, so narrower prefixes come first.
var architectureRules = []layerRule{
	{
		sourcePrefix: modulePath + "/internal/domain",
		forbidden: []string{
			modulePath + "/internal/api",
			modulePath + "/internal/app",
			modulePath + "/internal/cache",
			modulePath + "/internal/config",
			modulePath + "/internal/service",
			modulePath + "/internal/db",
			modulePath + "/internal/engine",
			modulePath + "/internal/metrics",
			modulePath + "/internal/middleware",
			modulePath + "/cmd",
			modulePath + "/pkg/cli",
		},
		hint: "domain may only import domain",
	},
	{
		sourcePrefix: modulePath + "/internal/service/compiler",
		forbidden: []string{
			modulePath + "/internal/api",
			modulePath + "/internal/app",
			modulePath + "/internal/db",
			modulePath + "/internal/engine",
			modulePath + "/internal/metrics",
			modulePath + "/internal/service/execution",
			modulePath + "/internal/service/report",
			modulePath + "/cmd",
			modulePath + "/pkg/cli",
		},
		hint: "compiler turns specifications into SQL and never reaches storage or execution",
	},
	{
		sourcePrefix: modulePath + "/internal/service",
		forbidden: []string{
			modulePath + "/internal/api",
			modulePath + "/internal/app",
			modulePath + "/internal/config",
			modulePath + "/internal/db",
			modulePath + "/internal/engine",
			modulePath + "/internal/middleware",
			modulePath + "/cmd",
			modulePath + "/pkg/cli",
		},
		hint: "service should depend on domain and service-local packages",
	},
	{
		sourcePrefix: modulePath + "/internal/api",
		forbidden: []string{
			modulePath + "/internal/app",
			modulePath + "/internal/cache",
			modulePath + "/internal/db",
			modulePath + "/internal/engine",
			modulePath + "/cmd",
			modulePath + "/pkg/cli",
		},
		hint: "api should depend on service/domain/middleware packages",
	},
	{
		sourcePrefix: modulePath + "/internal/db",
		forbidden: []string{
			modulePath + "/internal/api",
			modulePath + "/internal/app",
			modulePath + "/internal/service",
			modulePath + "/internal/engine",
			modulePath + "/internal/middleware",
			modulePath + "/cmd",
			modulePath + "/pkg/cli",
		},
		hint: "db should depend on domain and db-local packages",
	},
	{
		sourcePrefix: modulePath + "/internal/engine",
		forbidden: []string{
			modulePath + "/internal/api",
			modulePath + "/internal/app",
			modulePath + "/internal/service",
			modulePath + "/internal/middleware",
			modulePath + "/cmd",
			modulePath + "/pkg/cli",
		},
		hint: "engine should depend on domain and engine-local packages",
	},
	{
		sourcePrefix: modulePath + "/internal/middleware",
		forbidden: []string{
			modulePath + "/internal/app",
			modulePath + "/internal/service",
			modulePath + "/internal/db",
			modulePath + "/internal/engine",
		},
		hint: "middleware should depend on domain and middleware-local packages",
	},
	{
		sourcePrefix: modulePath + "/internal/app",
		forbidden: []string{
			modulePath + "/internal/api",
			modulePath + "/internal/middleware",
			modulePath + "/cmd",
			modulePath + "/pkg/cli",
		},
		hint: "app wires services; transports depend on it, not the other way",
	},
}

var allowedViolations = map[string]map[string]string{
	modulePath + "/internal/api": {
		modulePath + "/internal/db/mapper": "error status and code mapping lives beside the row mappers so the CLI shares it",
	},
}

func collectGoFiles(root string) ([]string, error) {
	files := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".go") {
			files = append(files, filepath.ToSlash(path))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func repoRootDir() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "."
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}

func internalRootDir() string {
	return filepath.Join(repoRootDir(), "internal")
}

func findRule(sourcePkg string) (layerRule, bool) {
	for _, rule := range architectureRules {
		if hasPathPrefix(sourcePkg, rule.sourcePrefix) {
			return rule, true
		}
	}
	return layerRule{}, false
}

func matchingForbiddenPrefix(importPath string, forbidden []string) string {
	for _, prefix := range forbidden {
		if hasPathPrefix(importPath, prefix) {
			return prefix
		}
	}
	return ""
}

func isAllowedViolation(sourcePkg string, importPath string) bool {
	allowedBySource, ok := allowedViolations[sourcePkg]
	if !ok {
		return false
	}
	_, ok = allowedBySource[importPath]
	return ok
}

func hasPathPrefix(value string, prefix string) bool {
	return value == prefix || strings.HasPrefix(value, prefix+"/")
}

func packageImportPath(file string) string {
	path := filepath.ToSlash(file)
	idx := strings.Index(path, "/internal/")
	if idx >= 0 {
		return modulePath + filepath.ToSlash(filepath.Dir(path[idx:]))
	}
	return modulePath + "/" + filepath.ToSlash(filepath.Dir(path))
}

func isTestFile(path string) bool {
	return strings.HasSuffix(filepath.Base(path), "_test.go")
}

func parseImports(t *testing.T, file string) []string {
	t.Helper()

	fset := token.NewFileSet()
	parsed, err := parser.ParseFile(fset, file, nil, parser.ImportsOnly)
	require.NoErrorf(t, err, "parse imports for %s", file)

	imports := make([]string, 0, len(parsed.Imports))
	for _, imp := range parsed.Imports {
		imports = append(imports, strings.Trim(imp.Path.Value, "\""))
	}
	return imports
}

func relToRepoRoot(path string) string {
	rel, err := filepath.Rel(repoRootDir(), path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
