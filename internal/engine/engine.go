// Package engine executes compiled report queries against the relational
// store behind a circuit breaker.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"fleet-reports/internal/domain"
	"fleet-reports/internal/metrics"
)

// BreakerConfig tunes the storage circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of probes allowed while half-open.
	HalfOpenRequests uint32
}

// DefaultBreakerConfig returns production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, OpenTimeout: 30 * time.Second, HalfOpenRequests: 1}
}

// SQLStorage implements domain.StorageEngine over database/sql.
type SQLStorage struct {
	db      *sql.DB
	breaker *gobreaker.CircuitBreaker[*domain.RowSet]
	logger  *slog.Logger
}

var _ domain.StorageEngine = (*SQLStorage)(nil)

// NewSQLStorage wraps db. The caller keeps ownership of db.
func NewSQLStorage(db *sql.DB, cfg BreakerConfig, logger *slog.Logger) *SQLStorage {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}
	s := &SQLStorage{db: db, logger: logger}
	s.breaker = gobreaker.NewCircuitBreaker[*domain.RowSet](gobreaker.Settings{
		Name:        "report-storage",
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.RecordBreakerTransition(from.String(), to.String())
			logger.Warn("storage circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
		// A caller walking away says nothing about storage health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return s
}

// ExecuteQuery runs q and returns its rows. At most RowCap+1 rows are read so
// the caller can detect a cap the statement failed to enforce.
func (s *SQLStorage) ExecuteQuery(ctx context.Context, q *domain.CompiledQuery) (*domain.RowSet, error) {
	rs, err := s.breaker.Execute(func() (*domain.RowSet, error) {
		return s.query(ctx, q)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return rs, err
}

// State reports the breaker state ("closed", "half-open" or "open").
func (s *SQLStorage) State() string {
	return s.breaker.State().String()
}

// Ping checks that the store is reachable.
func (s *SQLStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStorage) query(ctx context.Context, q *domain.CompiledQuery) (*domain.RowSet, error) {
	rows, err := s.db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("execute report query: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	limit := 0
	if q.RowCap > 0 {
		limit = q.RowCap + 1
	}
	rs, err := scanRows(rows, limit)
	if err != nil {
		return nil, fmt.Errorf("scan report rows: %w", err)
	}
	return rs, nil
}

// scanRows reads up to limit rows (all rows when limit is 0). Byte slices are
// converted to strings.
func scanRows(rows *sql.Rows, limit int) (*domain.RowSet, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := &domain.RowSet{Columns: cols, Rows: [][]interface{}{}}
	for rows.Next() {
		if limit > 0 && len(out.Rows) >= limit {
			break
		}
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out.Rows = append(out.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
