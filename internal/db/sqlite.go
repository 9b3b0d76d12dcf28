// Package db provides SQLite connectivity, the metastore schema and its
// migrations.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	// OpenSQLite opens the "sqlite3" driver registered here.
	_ "github.com/mattn/go-sqlite3"
)

// SQLite DSN parameters for production hardening.
const (
	defaultBusyTimeout = "5000" // 5 seconds
	defaultSynchronous = "NORMAL"
	defaultJournalMode = "WAL"
)

// Pool modes accepted by OpenSQLite.
const (
	ModeWrite = "write"
	ModeRead  = "read"
	// ModeQuery is a read pool that additionally refuses writes at the
	// connection level. Report queries run on it.
	ModeQuery = "query"
)

// OpenSQLite opens a *sql.DB pool for the given SQLite file path with the
// stock sqlite3 driver.
//
// mode controls write-safety and pool sizing:
//   - "write": MaxOpenConns=1, MaxIdleConns=1, includes _txlock=immediate
//   - "read":  MaxOpenConns=maxOpen (use 0 for default of 4), no _txlock
//   - "query": like "read" with PRAGMA query_only enabled
//
// All modes set WAL journal, busy_timeout=5000ms, synchronous=NORMAL,
// and foreign_keys=on.
func OpenSQLite(path string, mode string, maxOpen int) (*sql.DB, error) {
	return OpenSQLiteDriver("sqlite3", path, mode, maxOpen)
}

// OpenSQLiteDriver is OpenSQLite for a custom registered sqlite3 driver.
func OpenSQLiteDriver(driver, path, mode string, maxOpen int) (*sql.DB, error) {
	if mode != ModeRead && mode != ModeWrite && mode != ModeQuery {
		return nil, fmt.Errorf("invalid SQLite mode %q: must be \"read\", \"write\" or \"query\"", mode)
	}

	db, err := sql.Open(driver, buildDSN(path, mode))
	if err != nil {
		return nil, fmt.Errorf("open sqlite (%s): %w", mode, err)
	}

	if mode == ModeWrite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		if maxOpen <= 0 {
			maxOpen = 4
		}
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen)
	}
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite (%s): %w", mode, err)
	}

	return db, nil
}

// OpenSQLitePair opens both a write pool (MaxOpenConns=1) and a read pool
// for the same SQLite file.
//
// readMaxOpen controls the read pool size (0 defaults to 4).
func OpenSQLitePair(path string, readMaxOpen int) (writeDB, readDB *sql.DB, err error) {
	writeDB, err = OpenSQLite(path, ModeWrite, 0)
	if err != nil {
		return nil, nil, err
	}

	readDB, err = OpenSQLite(path, ModeRead, readMaxOpen)
	if err != nil {
		_ = writeDB.Close()
		return nil, nil, err
	}

	return writeDB, readDB, nil
}

// buildDSN constructs a SQLite DSN with hardened parameters.
func buildDSN(path string, mode string) string {
	params := url.Values{}
	params.Set("_journal_mode", defaultJournalMode)
	params.Set("_busy_timeout", defaultBusyTimeout)
	params.Set("_synchronous", defaultSynchronous)
	params.Set("_foreign_keys", "on")

	switch mode {
	case ModeWrite:
		params.Set("_txlock", "immediate")
	case ModeQuery:
		params.Set("_query_only", "on")
	}

	return path + "?" + params.Encode()
}
