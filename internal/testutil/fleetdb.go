package testutil

import (
	_ "embed"
	"path/filepath"
	"testing"

	"fleet-reports/internal/db"
)

// FleetSQL creates and seeds the fleet tables (depots, vehicles, drivers,
// trips) for tenants 7 and 9.
//
//go:embed fleet.sql
var FleetSQL string

// SeedFleetDB writes the fleet fixture to a SQLite file in t.TempDir() and
// returns its path.
func SeedFleetDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fleet.sqlite")

	w, err := db.OpenSQLite(path, db.ModeWrite, 0)
	if err != nil {
		t.Fatalf("open fleet db: %v", err)
	}
	defer w.Close() //nolint:errcheck
	if _, err := w.Exec(FleetSQL); err != nil {
		t.Fatalf("seed fleet db: %v", err)
	}
	return path
}
