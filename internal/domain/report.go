package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MaxReportNameLength bounds saved report names.
const MaxReportNameLength = 255

// ScheduleFrequency selects how a saved report recurs.
type ScheduleFrequency string

// Supported schedule frequencies.
const (
	FrequencyHourly  ScheduleFrequency = "hourly"
	FrequencyDaily   ScheduleFrequency = "daily"
	FrequencyWeekly  ScheduleFrequency = "weekly"
	FrequencyMonthly ScheduleFrequency = "monthly"
	FrequencyCron    ScheduleFrequency = "cron"
)

// ScheduleConfig describes when a scheduled report runs. TimeOfDay is "HH:MM";
// DayOfWeek is 0 (Sunday) to 6; DayOfMonth is 1 to 28. Cron is only read when
// Frequency is FrequencyCron.
type ScheduleConfig struct {
	Frequency  ScheduleFrequency `json:"frequency" validate:"required,oneof=hourly daily weekly monthly cron"`
	TimeOfDay  string            `json:"time_of_day,omitempty" validate:"omitempty,len=5"`
	DayOfWeek  int               `json:"day_of_week,omitempty" validate:"min=0,max=6"`
	DayOfMonth int               `json:"day_of_month,omitempty" validate:"min=0,max=28"`
	Cron       string            `json:"cron,omitempty" validate:"omitempty,max=128"`
	Timezone   string            `json:"timezone,omitempty" validate:"omitempty,max=64"`
}

// ExportFormat tags the serialization used by the export collaborator.
type ExportFormat string

// Supported export formats.
const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
	ExportXLSX ExportFormat = "xlsx"
)

// ParseExportFormat normalizes s into an ExportFormat.
func ParseExportFormat(s string) (ExportFormat, bool) {
	switch ExportFormat(strings.ToLower(strings.TrimSpace(s))) {
	case ExportJSON:
		return ExportJSON, true
	case ExportCSV:
		return ExportCSV, true
	case ExportXLSX:
		return ExportXLSX, true
	}
	return "", false
}

// Report is a saved query specification, optionally run on a schedule.
type Report struct {
	ID               string
	TenantID         string
	OwnerID          string
	OwnerPermissions []string
	Name             string
	Description      string
	Specification    QuerySpecification
	IsScheduled      bool
	Schedule         *ScheduleConfig
	ExportFormat     ExportFormat
	Recipients       []string
	NextScheduledRun *time.Time
	LastRunAt        *time.Time
	LastRunStatus    *ExecutionStatus
	LastError        *string
	Running          bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CreateReportRequest holds parameters for saving a report.
type CreateReportRequest struct {
	Name          string             `json:"name" validate:"required,max=255"`
	Description   string             `json:"description,omitempty" validate:"max=2048"`
	Specification QuerySpecification `json:"specification" validate:"required"`
	IsScheduled   bool               `json:"is_scheduled"`
	Schedule      *ScheduleConfig    `json:"schedule,omitempty" validate:"omitempty"`
	ExportFormat  string             `json:"export_format,omitempty" validate:"omitempty,oneof=json csv xlsx"`
	Recipients    []string           `json:"recipients,omitempty" validate:"omitempty,dive,email"`
}

// Validate checks that the request is well-formed.
func (r *CreateReportRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return ErrValidation("name is required")
	}
	if utf8.RuneCountInString(r.Name) > MaxReportNameLength {
		return ErrValidation("name must be <= %d characters", MaxReportNameLength)
	}
	if r.IsScheduled && r.Schedule == nil {
		return ErrValidation("schedule is required when is_scheduled is true")
	}
	if r.ExportFormat != "" {
		if _, ok := ParseExportFormat(r.ExportFormat); !ok {
			return ErrValidation("unsupported export format %q", r.ExportFormat)
		}
	}
	return nil
}

// UpdateReportRequest holds partial-update parameters for a saved report.
type UpdateReportRequest struct {
	Name          *string             `json:"name,omitempty" validate:"omitempty,max=255"`
	Description   *string             `json:"description,omitempty" validate:"omitempty,max=2048"`
	Specification *QuerySpecification `json:"specification,omitempty"`
	IsScheduled   *bool               `json:"is_scheduled,omitempty"`
	Schedule      *ScheduleConfig     `json:"schedule,omitempty"`
	ExportFormat  *string             `json:"export_format,omitempty" validate:"omitempty,oneof=json csv xlsx"`
	Recipients    []string            `json:"recipients,omitempty"` // nil = no change, empty = clear
}

// RunSummary aggregates the outcome of one scheduled batch.
type RunSummary struct {
	Due       int
	Succeeded int
	Failed    int
	Skipped   int
}
