package scheduling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-reports/internal/domain"
)

func TestNextRun(t *testing.T) {
	t.Parallel()
	// Wednesday 2026-03-04 10:15 UTC.
	after := time.Date(2026, 3, 4, 10, 15, 0, 0, time.UTC)

	tests := []struct {
		name string
		cfg  domain.ScheduleConfig
		want time.Time
	}{
		{
			name: "hourly at minute",
			cfg:  domain.ScheduleConfig{Frequency: domain.FrequencyHourly, TimeOfDay: "00:30"},
			want: time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC),
		},
		{
			name: "daily later today",
			cfg:  domain.ScheduleConfig{Frequency: domain.FrequencyDaily, TimeOfDay: "18:00"},
			want: time.Date(2026, 3, 4, 18, 0, 0, 0, time.UTC),
		},
		{
			name: "daily already passed",
			cfg:  domain.ScheduleConfig{Frequency: domain.FrequencyDaily, TimeOfDay: "09:00"},
			want: time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "weekly monday",
			cfg:  domain.ScheduleConfig{Frequency: domain.FrequencyWeekly, TimeOfDay: "07:00", DayOfWeek: 1},
			want: time.Date(2026, 3, 9, 7, 0, 0, 0, time.UTC),
		},
		{
			name: "monthly defaults to first",
			cfg:  domain.ScheduleConfig{Frequency: domain.FrequencyMonthly, TimeOfDay: "06:00"},
			want: time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC),
		},
		{
			name: "monthly on the 15th",
			cfg:  domain.ScheduleConfig{Frequency: domain.FrequencyMonthly, DayOfMonth: 15},
			want: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "cron expression",
			cfg:  domain.ScheduleConfig{Frequency: domain.FrequencyCron, Cron: "*/20 * * * *"},
			want: time.Date(2026, 3, 4, 10, 20, 0, 0, time.UTC),
		},
		{
			name: "timezone shifts wall clock",
			cfg:  domain.ScheduleConfig{Frequency: domain.FrequencyDaily, TimeOfDay: "12:00", Timezone: "Europe/Berlin"},
			want: time.Date(2026, 3, 4, 11, 0, 0, 0, time.UTC),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NextRun(tc.cfg, after)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNextRun_Invalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  domain.ScheduleConfig
		want string
	}{
		{name: "unknown frequency", cfg: domain.ScheduleConfig{Frequency: "yearly"}, want: `unsupported schedule frequency "yearly"`},
		{name: "bad time", cfg: domain.ScheduleConfig{Frequency: domain.FrequencyDaily, TimeOfDay: "25:00"}, want: "time_of_day must be HH:MM"},
		{name: "malformed time", cfg: domain.ScheduleConfig{Frequency: domain.FrequencyDaily, TimeOfDay: "7am"}, want: "time_of_day must be HH:MM"},
		{name: "weekday out of range", cfg: domain.ScheduleConfig{Frequency: domain.FrequencyWeekly, DayOfWeek: 7}, want: "day_of_week"},
		{name: "day of month out of range", cfg: domain.ScheduleConfig{Frequency: domain.FrequencyMonthly, DayOfMonth: 31}, want: "day_of_month"},
		{name: "missing cron", cfg: domain.ScheduleConfig{Frequency: domain.FrequencyCron}, want: "cron expression is required"},
		{name: "bad cron", cfg: domain.ScheduleConfig{Frequency: domain.FrequencyCron, Cron: "every tuesday"}, want: "invalid cron expression"},
		{name: "embedded timezone", cfg: domain.ScheduleConfig{Frequency: domain.FrequencyCron, Cron: "CRON_TZ=UTC 0 * * * *"}, want: "timezone field"},
		{name: "unknown timezone", cfg: domain.ScheduleConfig{Frequency: domain.FrequencyDaily, Timezone: "Mars/Olympus"}, want: "unknown timezone"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NextRun(tc.cfg, time.Now())
			require.Error(t, err)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, err.Error(), tc.want)
			assert.Error(t, ValidateSchedule(tc.cfg))
		})
	}
}

func TestCronSpec(t *testing.T) {
	t.Parallel()
	spec, err := CronSpec(domain.ScheduleConfig{Frequency: domain.FrequencyWeekly, TimeOfDay: "08:05", DayOfWeek: 5, Timezone: "UTC"})
	require.NoError(t, err)
	assert.Equal(t, "CRON_TZ=UTC 5 8 * * 5", spec)
}
