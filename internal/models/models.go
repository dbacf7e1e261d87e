package models

import (
	"strconv"
	"strings"
	"time"
)

// Credential holds everything the token lifecycle needs. It is loaded from the
// credential store at the start of a batch and written back whenever the
// authorization exchange or a refresh mutates it.
type Credential struct {
	ClientID          string
	ClientSecret      string
	CodeVerifier      string
	AccessToken       string
	RefreshToken      string
	TokenExpiry       int64 // epoch milliseconds; 0 = never issued
	AuthorizationCode string
	AuthorizationURL  string
	RedirectURI       string
}

// HasTokens reports whether a usable token pair is present. An access token
// without a refresh token (or vice versa) counts as absent.
func (c *Credential) HasTokens() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}

// ExpiresWithin reports whether the access token expires within the given
// margin of now. A zero expiry always reports true.
func (c *Credential) ExpiresWithin(now time.Time, margin time.Duration) bool {
	return now.UnixMilli() > c.TokenExpiry-margin.Milliseconds()
}

// TaskRow is one row of the task sheet, keyed by header name, plus its
// position in the batch. Index is zero-based over data rows; the header row
// is not counted.
type TaskRow struct {
	Index  int
	Fields map[string]string
}

// Field returns the trimmed value of a column, or "" when absent.
func (r TaskRow) Field(name string) string {
	return strings.TrimSpace(r.Fields[name])
}

// Column names recognized in the task sheet header.
const (
	ColTitle              = "title"
	ColListName           = "list_name"
	ColStatus             = "status"
	ColBody               = "body"
	ColDue                = "due"
	ColReminder           = "reminder"
	ColRecurrenceType     = "recurrence_type"
	ColRecurrenceInterval = "recurrence_interval"
	ColRecurrenceStart    = "recurrence_start"
	ColRecurrenceEnd      = "recurrence_end"
	ColResult             = "result"
)

// TodoList is a provider task list as returned by the lists endpoint.
type TodoList struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// TaskPayload is the provider-facing task creation body. It is a pure
// function of a TaskRow and the configured timezone and never carries
// credential material.
type TaskPayload struct {
	Title            string        `json:"title"`
	Status           string        `json:"status"`
	Body             *ItemBody     `json:"body,omitempty"`
	DueDateTime      *DateTimeZone `json:"dueDateTime,omitempty"`
	ReminderDateTime *DateTimeZone `json:"reminderDateTime,omitempty"`
	Recurrence       *Recurrence   `json:"recurrence,omitempty"`
}

// DefaultTaskStatus is applied when the status column is empty.
const DefaultTaskStatus = "notStarted"

type ItemBody struct {
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
}

type DateTimeZone struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type Recurrence struct {
	Pattern RecurrencePattern `json:"pattern"`
	Range   RecurrenceRange   `json:"range"`
}

type RecurrencePattern struct {
	Type     string `json:"type"`
	Interval int    `json:"interval"`
}

type RecurrenceRange struct {
	Type      string `json:"type"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate,omitempty"`
}

const (
	RangeEndDate = "endDate"
	RangeNoEnd   = "noEnd"
)

// Outcome classifies the result of syncing one row.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeValidationError
	OutcomeAPIError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeValidationError:
		return "validation_error"
	case OutcomeAPIError:
		return "api_error"
	}
	return "unknown"
}

// RowResult is the per-row outcome written back to the result column at the
// row's original position.
type RowResult struct {
	RowIndex int
	Outcome  Outcome
	Message  string
}

// CellValue is the string stored in the result column.
func (r RowResult) CellValue() string {
	switch r.Outcome {
	case OutcomeSuccess:
		return "Success"
	case OutcomeValidationError:
		return r.Message
	default:
		return "Error: " + r.Message
	}
}

// BatchReport summarizes one engine run.
type BatchReport struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	StartedAt time.Time
	Duration  time.Duration
}

// SyncRun is one persisted batch run in the history store.
type SyncRun struct {
	ID         int64      `json:"id"`
	ClientID   string     `json:"client_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	Total      int        `json:"total"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	Skipped    int        `json:"skipped"`
	FatalError string     `json:"fatal_error,omitempty"`
}

// RunOutcome is one persisted per-row outcome belonging to a SyncRun.
type RunOutcome struct {
	ID       int64  `json:"id"`
	RunID    int64  `json:"run_id"`
	RowIndex int    `json:"row_index"`
	Outcome  string `json:"outcome"`
	Message  string `json:"message,omitempty"`
}

// ParseExpiry converts a stored expiry cell into epoch milliseconds.
// Empty or unparsable values mean the token was never issued.
func ParseExpiry(raw string) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// Sheets may store the number with a decimal point.
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil {
			return 0
		}
		return int64(f)
	}
	return ms
}
