// Package scheduling runs saved reports on their schedules.
package scheduling

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"fleet-reports/internal/domain"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CronSpec converts cfg into a five-field cron expression, prefixed with
// CRON_TZ when a timezone is set.
func CronSpec(cfg domain.ScheduleConfig) (string, error) {
	hour, minute, err := parseTimeOfDay(cfg.TimeOfDay)
	if err != nil {
		return "", err
	}

	var spec string
	switch cfg.Frequency {
	case domain.FrequencyHourly:
		spec = fmt.Sprintf("%d * * * *", minute)
	case domain.FrequencyDaily:
		spec = fmt.Sprintf("%d %d * * *", minute, hour)
	case domain.FrequencyWeekly:
		if cfg.DayOfWeek < 0 || cfg.DayOfWeek > 6 {
			return "", domain.ErrValidation("day_of_week must be between 0 and 6")
		}
		spec = fmt.Sprintf("%d %d * * %d", minute, hour, cfg.DayOfWeek)
	case domain.FrequencyMonthly:
		dom := cfg.DayOfMonth
		if dom == 0 {
			dom = 1
		}
		if dom < 1 || dom > 28 {
			return "", domain.ErrValidation("day_of_month must be between 1 and 28")
		}
		spec = fmt.Sprintf("%d %d %d * *", minute, hour, dom)
	case domain.FrequencyCron:
		spec = strings.TrimSpace(cfg.Cron)
		if spec == "" {
			return "", domain.ErrValidation("cron expression is required for frequency %q", cfg.Frequency)
		}
		if strings.HasPrefix(spec, "CRON_TZ=") || strings.HasPrefix(spec, "TZ=") {
			return "", domain.ErrValidation("set the timezone field instead of embedding it in the cron expression")
		}
	default:
		return "", domain.ErrValidation("unsupported schedule frequency %q", cfg.Frequency)
	}

	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return "", domain.ErrValidation("unknown timezone %q", cfg.Timezone)
		}
		spec = "CRON_TZ=" + cfg.Timezone + " " + spec
	}
	return spec, nil
}

// ValidateSchedule reports whether cfg describes a usable schedule.
func ValidateSchedule(cfg domain.ScheduleConfig) error {
	spec, err := CronSpec(cfg)
	if err != nil {
		return err
	}
	if _, err := parser.Parse(spec); err != nil {
		return domain.ErrValidation("invalid cron expression %q: %v", cfg.Cron, err)
	}
	return nil
}

// NextRun returns the first activation of cfg strictly after after.
func NextRun(cfg domain.ScheduleConfig, after time.Time) (time.Time, error) {
	spec, err := CronSpec(cfg)
	if err != nil {
		return time.Time{}, err
	}
	sched, err := parser.Parse(spec)
	if err != nil {
		return time.Time{}, domain.ErrValidation("invalid cron expression %q: %v", cfg.Cron, err)
	}
	next := sched.Next(after)
	if next.IsZero() {
		return time.Time{}, domain.ErrValidation("schedule never fires")
	}
	return next.UTC(), nil
}

// parseTimeOfDay parses "HH:MM". Empty means midnight.
func parseTimeOfDay(s string) (hour, minute int, err error) {
	if s == "" {
		return 0, 0, nil
	}
	h, m, ok := strings.Cut(s, ":")
	if !ok || len(h) != 2 || len(m) != 2 {
		return 0, 0, domain.ErrValidation("time_of_day must be HH:MM, got %q", s)
	}
	hour, herr := strconv.Atoi(h)
	minute, merr := strconv.Atoi(m)
	if herr != nil || merr != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, domain.ErrValidation("time_of_day must be HH:MM, got %q", s)
	}
	return hour, minute, nil
}
