package execution

import (
	"bytes"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cast"

	"fleet-reports/internal/domain"
)

// cachedPayload is the serialized form of a result held in the cache. Rows are
// raw storage values after normalization; value transforms are applied on
// every read.
type cachedPayload struct {
	Columns []string        `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
}

func encodePayload(columns []string, rows [][]interface{}) ([]byte, error) {
	return json.Marshal(cachedPayload{Columns: columns, Rows: rows})
}

// decodePayload restores a cached payload and projects it onto want, typing
// each value by its declared output column type.
func decodePayload(data []byte, want []domain.OutputColumn) ([][]interface{}, error) {
	var p cachedPayload
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode cached payload: %w", err)
	}

	index := make(map[string]int, len(p.Columns))
	for i, c := range p.Columns {
		index[c] = i
	}
	positions := make([]int, len(want))
	for i, c := range want {
		pos, ok := index[c.Alias]
		if !ok {
			return nil, fmt.Errorf("cached payload has no column %q", c.Alias)
		}
		positions[i] = pos
	}

	out := make([][]interface{}, len(p.Rows))
	for r, row := range p.Rows {
		if len(row) != len(p.Columns) {
			return nil, fmt.Errorf("cached row %d has %d values, want %d", r, len(row), len(p.Columns))
		}
		projected := make([]interface{}, len(want))
		for i, pos := range positions {
			projected[i] = fromJSON(want[i].Type, row[pos])
		}
		out[r] = projected
	}
	return out, nil
}

func fromJSON(typ domain.ColumnType, v interface{}) interface{} {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if typ == domain.ColumnTypeInteger {
		if i, err := n.Int64(); err == nil {
			return i
		}
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

// normalize converts a driver value into the canonical Go type for typ so
// that fresh and cached results have identical shapes.
func normalize(typ domain.ColumnType, v interface{}) interface{} {
	if v == nil {
		return nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	switch typ {
	case domain.ColumnTypeInteger:
		if n, err := cast.ToInt64E(v); err == nil {
			return n
		}
	case domain.ColumnTypeDecimal:
		if f, ok := v.(interface{ Float64() float64 }); ok {
			return f.Float64()
		}
		if f, err := cast.ToFloat64E(v); err == nil {
			return f
		}
	case domain.ColumnTypeBoolean:
		if b, err := cast.ToBoolE(v); err == nil {
			return b
		}
	case domain.ColumnTypeDate:
		if t, ok := v.(time.Time); ok {
			return t.Format("2006-01-02")
		}
	case domain.ColumnTypeDateTime:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.RFC3339)
		}
	default:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return v
}

func normalizeRows(cols []domain.OutputColumn, rows [][]interface{}) {
	for _, row := range rows {
		for i := range row {
			if i < len(cols) {
				row[i] = normalize(cols[i].Type, row[i])
			}
		}
	}
}

// applyTransforms returns a copy of rows with column value transforms applied.
func applyTransforms(cols []domain.OutputColumn, rows [][]interface{}) [][]interface{} {
	has := false
	for _, c := range cols {
		if c.Transform != nil {
			has = true
			break
		}
	}
	if !has {
		return rows
	}
	out := make([][]interface{}, len(rows))
	for r, row := range rows {
		copied := make([]interface{}, len(row))
		copy(copied, row)
		for i, c := range cols {
			if c.Transform != nil && i < len(copied) {
				copied[i] = c.Transform(copied[i])
			}
		}
		out[r] = copied
	}
	return out
}
