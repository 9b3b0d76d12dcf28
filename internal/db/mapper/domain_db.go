// Package mapper converts between domain, database, and API layer types.
package mapper

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"fleet-reports/internal/domain"
)

// NullStr converts a *string to sql.NullString.
func NullStr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// PtrStr converts a sql.NullString to *string.
func PtrStr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// NullTime converts a *time.Time to sql.NullTime, normalized to UTC.
func NullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// PtrTime converts a sql.NullTime to *time.Time in UTC.
func PtrTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// SpecToDB serializes a query specification for storage.
func SpecToDB(spec domain.QuerySpecification) (string, error) {
	b, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("marshal specification: %w", err)
	}
	return string(b), nil
}

// SpecFromDB decodes a stored query specification.
func SpecFromDB(s string) (domain.QuerySpecification, error) {
	var spec domain.QuerySpecification
	if err := json.Unmarshal([]byte(s), &spec); err != nil {
		return spec, fmt.Errorf("unmarshal specification: %w", err)
	}
	return spec, nil
}

// NullSpecToDB serializes an optional specification.
func NullSpecToDB(spec *domain.QuerySpecification) (sql.NullString, error) {
	if spec == nil {
		return sql.NullString{}, nil
	}
	s, err := SpecToDB(*spec)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: s, Valid: true}, nil
}

// NullSpecFromDB decodes an optional specification.
func NullSpecFromDB(ns sql.NullString) (*domain.QuerySpecification, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	spec, err := SpecFromDB(ns.String)
	if err != nil {
		return nil, err
	}
	return &spec, nil
}

// ScheduleToDB serializes a schedule. A nil schedule is stored as NULL.
func ScheduleToDB(cfg *domain.ScheduleConfig) (sql.NullString, error) {
	if cfg == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal schedule: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// ScheduleFromDB decodes a stored schedule.
func ScheduleFromDB(ns sql.NullString) (*domain.ScheduleConfig, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var cfg domain.ScheduleConfig
	if err := json.Unmarshal([]byte(ns.String), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal schedule: %w", err)
	}
	return &cfg, nil
}

// StringListToDB serializes a list such as recipients or permission tags.
// nil is stored as an empty list.
func StringListToDB(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("marshal list: %w", err)
	}
	return string(b), nil
}

// StringListFromDB decodes a stored list. An empty list decodes to nil.
func StringListFromDB(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("unmarshal list: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
