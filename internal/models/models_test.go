package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHasTokens(t *testing.T) {
	tests := []struct {
		name string
		cred Credential
		want bool
	}{
		{"both present", Credential{AccessToken: "a", RefreshToken: "r"}, true},
		{"access only", Credential{AccessToken: "a"}, false},
		{"refresh only", Credential{RefreshToken: "r"}, false},
		{"empty", Credential{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cred.HasTokens())
		})
	}
}

func TestExpiresWithin(t *testing.T) {
	now := time.Now()
	margin := 30 * time.Second

	fresh := Credential{TokenExpiry: now.Add(time.Hour).UnixMilli()}
	assert.False(t, fresh.ExpiresWithin(now, margin))

	closeToExpiry := Credential{TokenExpiry: now.Add(10 * time.Second).UnixMilli()}
	assert.True(t, closeToExpiry.ExpiresWithin(now, margin))

	expired := Credential{TokenExpiry: now.Add(-time.Minute).UnixMilli()}
	assert.True(t, expired.ExpiresWithin(now, margin))

	neverIssued := Credential{}
	assert.True(t, neverIssued.ExpiresWithin(now, margin))
}

func TestFieldTrims(t *testing.T) {
	row := TaskRow{Fields: map[string]string{"title": "  buy milk  "}}
	assert.Equal(t, "buy milk", row.Field("title"))
	assert.Equal(t, "", row.Field("missing"))
}

func TestCellValue(t *testing.T) {
	assert.Equal(t, "Success", RowResult{Outcome: OutcomeSuccess}.CellValue())
	assert.Equal(t, "title/list_name missing",
		RowResult{Outcome: OutcomeValidationError, Message: "title/list_name missing"}.CellValue())
	assert.Equal(t, "Error: list not found: Ghost",
		RowResult{Outcome: OutcomeAPIError, Message: "list not found: Ghost"}.CellValue())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "success", OutcomeSuccess.String())
	assert.Equal(t, "validation_error", OutcomeValidationError.String())
	assert.Equal(t, "api_error", OutcomeAPIError.String())
	assert.Equal(t, "unknown", Outcome(99).String())
}

func TestParseExpiry(t *testing.T) {
	tests := []struct {
		raw  string
		want int64
	}{
		{"1755400000000", 1755400000000},
		{" 1755400000000 ", 1755400000000},
		{"1755400000000.0", 1755400000000},
		{"", 0},
		{"never", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseExpiry(tt.raw), "raw %q", tt.raw)
	}
}
