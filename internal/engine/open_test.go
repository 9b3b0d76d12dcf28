package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateDiff(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		end, start interface{}
		want       interface{}
	}{
		{"dates", "2026-03-03", "2026-03-01", int64(2)},
		{"same day", "2026-03-04", "2026-03-04", int64(0)},
		{"negative", "2026-03-01", "2026-03-04", int64(-3)},
		{"timestamps ignore time of day", "2026-03-04 23:59:00", "2026-03-04T00:01:00Z", int64(0)},
		{"bytes", []byte("2026-01-31"), "2026-01-01", int64(30)},
		{"time values", time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC), "2026-03-01", int64(9)},
		{"null end", nil, "2026-03-01", nil},
		{"null start", "2026-03-01", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := dateDiff(tt.end, tt.start)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := dateDiff("yesterday", "2026-03-01")
	require.ErrorIs(t, err, errNotADate)
}

func TestLeastGreatest(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		args     []interface{}
		least    interface{}
		greatest interface{}
	}{
		{"integers", []interface{}{int64(3), int64(1), int64(2)}, int64(1), int64(3)},
		{"mixed numbers", []interface{}{int64(100), 99.5}, 99.5, int64(100)},
		{"text", []interface{}{"beta", "alpha", []byte("gamma")}, "alpha", "gamma"},
		{"single", []interface{}{int64(5)}, int64(5), int64(5)},
		{"null wins", []interface{}{int64(1), nil}, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			lo, err := least(tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.least, lo)

			hi, err := greatest(tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.greatest, hi)
		})
	}

	_, err := least()
	require.Error(t, err)
}
