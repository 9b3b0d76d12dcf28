package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFormatCell(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   interface{}
		want string
	}{
		{name: "nil", in: nil, want: ""},
		{name: "string", in: "Volvo", want: "Volvo"},
		{name: "int", in: int64(42), want: "42"},
		{name: "float", in: 120500.5, want: "120500.5"},
		{name: "bool", in: true, want: "true"},
		{name: "bytes", in: []byte("raw"), want: "raw"},
		{name: "time", in: time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC), want: "2024-03-01T06:00:00Z"},
		{name: "stringer", in: decimal.RequireFromString("95000.00"), want: "95000"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, formatCell(tc.in))
		})
	}
}

func TestValidateOutputFormat(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validateOutputFormat(""))
	assert.NoError(t, validateOutputFormat("table"))
	assert.NoError(t, validateOutputFormat("json"))
	assert.EqualError(t, validateOutputFormat("yaml"), `unsupported output format "yaml": use 'table' or 'json'`)
}

func TestPrintTable(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	printTable(&buf, []string{"make", "year"}, [][]string{{"Volvo", "2021"}})
	assert.Contains(t, buf.String(), "make")
	assert.Contains(t, buf.String(), "Volvo")
	assert.Contains(t, buf.String(), "2021")
}
