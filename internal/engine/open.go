package engine

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver
	"github.com/mattn/go-sqlite3"
	"github.com/spf13/cast"

	"fleet-reports/internal/db"
)

// SQLiteDriverName is the sqlite3 driver with the report function set
// registered on every connection.
const SQLiteDriverName = "sqlite3_reports"

// Supported storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverDuckDB = "duckdb"
)

var registerOnce sync.Once

// RegisterSQLiteDriver registers SQLiteDriverName. Safe to call repeatedly.
func RegisterSQLiteDriver() {
	registerOnce.Do(func() {
		sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{
			ConnectHook: registerFunctions,
		})
	})
}

// OpenStorage opens the store report queries run against. SQLite stores are
// opened read-only.
func OpenStorage(driver, dsn string, maxOpen int) (*sql.DB, error) {
	switch driver {
	case DriverSQLite, "":
		RegisterSQLiteDriver()
		return db.OpenSQLiteDriver(SQLiteDriverName, dsn, db.ModeQuery, maxOpen)
	case DriverDuckDB:
		conn, err := sql.Open("duckdb", dsn)
		if err != nil {
			return nil, fmt.Errorf("open duckdb: %w", err)
		}
		if maxOpen > 0 {
			conn.SetMaxOpenConns(maxOpen)
		}
		if err := conn.Ping(); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("ping duckdb: %w", err)
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}

// registerFunctions installs the expression functions SQLite lacks natively.
func registerFunctions(conn *sqlite3.SQLiteConn) error {
	if err := conn.RegisterFunc("DATEDIFF", dateDiff, true); err != nil {
		return err
	}
	if err := conn.RegisterFunc("LEAST", least, true); err != nil {
		return err
	}
	return conn.RegisterFunc("GREATEST", greatest, true)
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

var errNotADate = errors.New("DATEDIFF: argument is not a date")

// dateDiff returns the whole days from start to end. NULL in, NULL out.
func dateDiff(end, start interface{}) (interface{}, error) {
	if end == nil || start == nil {
		return nil, nil
	}
	e, err := toDate(end)
	if err != nil {
		return nil, err
	}
	s, err := toDate(start)
	if err != nil {
		return nil, err
	}
	return int64(e.Sub(s).Hours() / 24), nil
}

func toDate(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return truncateDay(t), nil
	case int64:
		return truncateDay(time.Unix(t, 0).UTC()), nil
	case []byte:
		return toDate(string(t))
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return truncateDay(parsed), nil
			}
		}
	}
	return time.Time{}, errNotADate
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func least(args ...interface{}) (interface{}, error) {
	return pick(args, func(c int) bool { return c < 0 })
}

func greatest(args ...interface{}) (interface{}, error) {
	return pick(args, func(c int) bool { return c > 0 })
}

// pick returns the argument preferred by better. Any NULL argument makes the
// result NULL.
func pick(args []interface{}, better func(int) bool) (interface{}, error) {
	if len(args) == 0 {
		return nil, errors.New("at least one argument is required")
	}
	best := args[0]
	for _, a := range args {
		if a == nil {
			return nil, nil
		}
	}
	for _, a := range args[1:] {
		c, err := compare(a, best)
		if err != nil {
			return nil, err
		}
		if better(c) {
			best = a
		}
	}
	if b, ok := best.([]byte); ok {
		return string(b), nil
	}
	return best, nil
}

// compare orders numbers numerically and everything else as text.
func compare(a, b interface{}) (int, error) {
	if isNumber(a) && isNumber(b) {
		x, err := cast.ToFloat64E(a)
		if err != nil {
			return 0, err
		}
		y, err := cast.ToFloat64E(b)
		if err != nil {
			return 0, err
		}
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		}
		return 0, nil
	}
	return strings.Compare(cast.ToString(a), cast.ToString(b)), nil
}

func isNumber(v interface{}) bool {
	switch v.(type) {
	case int64, float64:
		return true
	}
	return false
}
