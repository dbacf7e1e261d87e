// Package payload converts task rows into provider task-creation bodies.
// The builder is deterministic and side-effect-free; all date failures are
// reported per row and never abort the batch.
package payload

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"tasksync/internal/config"
	"tasksync/internal/models"
)

// InvalidDateError reports an unparsable date cell. Field is the column the
// value came from.
type InvalidDateError struct {
	Field string
	Value string
}

func (e *InvalidDateError) Error() string {
	return fmt.Sprintf("invalid %s date: %q", e.Field, e.Value)
}

// dueTime is the wall-clock time every due date is forced to, in the
// configured timezone.
const (
	dueHour   = 23
	dueMinute = 59
)

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006/1/2",
}

var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04",
}

// Builder turns rows into payloads for one configured timezone and due-date
// encoding.
type Builder struct {
	loc      *time.Location
	encoding string
}

func NewBuilder(timezone, encoding string) (*Builder, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	switch encoding {
	case config.DueEncodingLocal, config.DueEncodingUTC:
	default:
		return nil, fmt.Errorf("unknown due encoding: %q", encoding)
	}
	return &Builder{loc: loc, encoding: encoding}, nil
}

// Build derives the provider payload from a row. Validation of the required
// title/list_name fields is the engine's job; Build assumes title is present.
func (b *Builder) Build(row models.TaskRow) (*models.TaskPayload, error) {
	p := &models.TaskPayload{
		Title:  row.Field(models.ColTitle),
		Status: row.Field(models.ColStatus),
	}
	if p.Status == "" {
		p.Status = models.DefaultTaskStatus
	}

	if body := row.Field(models.ColBody); body != "" {
		p.Body = &models.ItemBody{Content: body, ContentType: "text"}
	}

	if due := row.Field(models.ColDue); due != "" {
		dt, err := b.buildDue(due)
		if err != nil {
			return nil, err
		}
		p.DueDateTime = dt
	}

	if reminder := row.Field(models.ColReminder); reminder != "" {
		dt, err := b.buildReminder(reminder)
		if err != nil {
			return nil, err
		}
		p.ReminderDateTime = dt
	}

	recType := row.Field(models.ColRecurrenceType)
	recStart := row.Field(models.ColRecurrenceStart)
	if recType != "" && recStart != "" {
		rec, err := b.buildRecurrence(row, recType, recStart)
		if err != nil {
			return nil, err
		}
		p.Recurrence = rec
	}

	return p, nil
}

// buildDue forces the wall clock to 23:59:00 in the configured timezone and
// emits it either as that local datetime with an explicit zone, or converted
// to the equivalent UTC instant, depending on the configured encoding.
func (b *Builder) buildDue(raw string) (*models.DateTimeZone, error) {
	day, err := parseDate(raw, b.loc)
	if err != nil {
		return nil, &InvalidDateError{Field: models.ColDue, Value: raw}
	}

	local := time.Date(day.Year(), day.Month(), day.Day(), dueHour, dueMinute, 0, 0, b.loc)

	if b.encoding == config.DueEncodingUTC {
		return &models.DateTimeZone{
			DateTime: local.UTC().Format("2006-01-02T15:04:05"),
			TimeZone: "UTC",
		}, nil
	}
	return &models.DateTimeZone{
		DateTime: local.Format("2006-01-02T15:04:05"),
		TimeZone: b.loc.String(),
	}, nil
}

// buildReminder parses a full datetime and serializes it as an ISO-8601 UTC
// instant with whole-second precision.
func (b *Builder) buildReminder(raw string) (*models.DateTimeZone, error) {
	t, err := parseDateTime(raw, b.loc)
	if err != nil {
		return nil, &InvalidDateError{Field: models.ColReminder, Value: raw}
	}
	return &models.DateTimeZone{
		DateTime: t.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z"),
		TimeZone: "UTC",
	}, nil
}

func (b *Builder) buildRecurrence(row models.TaskRow, recType, recStart string) (*models.Recurrence, error) {
	start, err := parseDate(recStart, b.loc)
	if err != nil {
		return nil, &InvalidDateError{Field: models.ColRecurrenceStart, Value: recStart}
	}

	interval := 1
	if raw := row.Field(models.ColRecurrenceInterval); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			interval = n
		}
	}

	rec := &models.Recurrence{
		Pattern: models.RecurrencePattern{
			Type:     strings.ToLower(recType),
			Interval: interval,
		},
		Range: models.RecurrenceRange{
			Type:      models.RangeNoEnd,
			StartDate: start.Format("2006-01-02"),
		},
	}

	if recEnd := row.Field(models.ColRecurrenceEnd); recEnd != "" {
		end, err := parseDate(recEnd, b.loc)
		if err != nil {
			return nil, &InvalidDateError{Field: models.ColRecurrenceEnd, Value: recEnd}
		}
		rec.Range.Type = models.RangeEndDate
		rec.Range.EndDate = end.Format("2006-01-02")
	}

	return rec, nil
}

func parseDate(raw string, loc *time.Location) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable date: %q", raw)
}

func parseDateTime(raw string, loc *time.Location) (time.Time, error) {
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	// A bare calendar date is accepted as midnight local time.
	return parseDate(raw, loc)
}
