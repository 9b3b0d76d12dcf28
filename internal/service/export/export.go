// Package export serializes report results into downloadable formats.
package export

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cast"

	"fleet-reports/internal/domain"
)

// Registry maps export formats to exporters.
type Registry struct {
	exporters map[domain.ExportFormat]domain.Exporter
}

// NewRegistry creates a registry holding exporters. Later exporters replace
// earlier ones with the same format.
func NewRegistry(exporters ...domain.Exporter) *Registry {
	r := &Registry{exporters: make(map[domain.ExportFormat]domain.Exporter, len(exporters))}
	for _, e := range exporters {
		r.exporters[e.Format()] = e
	}
	return r
}

// Default returns a registry with the json, csv and xlsx exporters.
func Default() *Registry {
	return NewRegistry(JSONExporter{}, CSVExporter{}, XLSXExporter{})
}

// Get returns the exporter for format.
func (r *Registry) Get(format domain.ExportFormat) (domain.Exporter, error) {
	e, ok := r.exporters[format]
	if !ok {
		return nil, domain.ErrValidation("unsupported export format %q", format)
	}
	return e, nil
}

// Formats lists the registered formats in name order.
func (r *Registry) Formats() []domain.ExportFormat {
	out := make([]domain.ExportFormat, 0, len(r.exporters))
	for f := range r.exporters {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Render exports rows in format and returns the payload with its content type.
func (r *Registry) Render(format domain.ExportFormat, rows *domain.RowSet) ([]byte, string, error) {
	e, err := r.Get(format)
	if err != nil {
		return nil, "", err
	}
	var buf bytes.Buffer
	if err := e.Export(&buf, rows); err != nil {
		return nil, "", fmt.Errorf("export %s: %w", format, err)
	}
	return buf.Bytes(), e.ContentType(), nil
}

// WriteTo streams rows in format to w.
func (r *Registry) WriteTo(w io.Writer, format domain.ExportFormat, rows *domain.RowSet) error {
	e, err := r.Get(format)
	if err != nil {
		return err
	}
	return e.Export(w, rows)
}

// formatCell renders a cell value as text. Nil renders empty.
func formatCell(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case bool:
		return strconv.FormatBool(x)
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return s
}
