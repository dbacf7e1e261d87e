// Package store adapts tabular backends (an Excel workbook or a Google Sheets
// spreadsheet) to the two narrow contracts the sync core needs: a key/value
// credential record and a header-addressed task table with a writable result
// column.
package store

import (
	"context"
	"errors"
	"strconv"

	"tasksync/internal/models"
)

// Credential field keys as they appear in the credentials sheet.
const (
	FieldClientID          = "client_id"
	FieldClientSecret      = "client_secret"
	FieldCodeVerifier      = "code_verifier"
	FieldAccessToken       = "access_token"
	FieldRefreshToken      = "refresh_token"
	FieldTokenExpiry       = "token_expiry"
	FieldAuthorizationCode = "authorization_code"
	FieldAuthorizationURL  = "authorization_url"
	FieldRedirectURI       = "redirect_uri"
)

// ErrResultColumnMissing is returned by EnsureResultColumn when the column is
// absent and auto-creation is disabled. It is fatal to the batch.
var ErrResultColumnMissing = errors.New("result column not found in header row")

// RowStore reads the task table and writes per-row results back at their
// original positions. The header occupies row 0; data rows follow.
type RowStore interface {
	// ReadRows returns all data rows in sheet order.
	ReadRows(ctx context.Context) ([]models.TaskRow, error)
	// EnsureResultColumn resolves the result column by header name before any
	// row is processed. When absent it is created at the first free header
	// cell, unless autoCreate is false, in which case ErrResultColumnMissing
	// is returned.
	EnsureResultColumn(ctx context.Context, name string, autoCreate bool) error
	// WriteResult stores the result string for the data row at rowIndex.
	WriteResult(ctx context.Context, rowIndex int, value string) error
}

// fieldsToCredential maps a key/value sheet snapshot onto a Credential.
func fieldsToCredential(fields map[string]string) *models.Credential {
	return &models.Credential{
		ClientID:          fields[FieldClientID],
		ClientSecret:      fields[FieldClientSecret],
		CodeVerifier:      fields[FieldCodeVerifier],
		AccessToken:       fields[FieldAccessToken],
		RefreshToken:      fields[FieldRefreshToken],
		TokenExpiry:       models.ParseExpiry(fields[FieldTokenExpiry]),
		AuthorizationCode: fields[FieldAuthorizationCode],
		AuthorizationURL:  fields[FieldAuthorizationURL],
		RedirectURI:       fields[FieldRedirectURI],
	}
}

// credentialToFields is the inverse of fieldsToCredential. The expiry is
// stored as a decimal epoch-milliseconds string; credentials are handed to
// the sheet as opaque strings.
func credentialToFields(cred *models.Credential) map[string]string {
	fields := map[string]string{
		FieldClientID:          cred.ClientID,
		FieldClientSecret:      cred.ClientSecret,
		FieldCodeVerifier:      cred.CodeVerifier,
		FieldAccessToken:       cred.AccessToken,
		FieldRefreshToken:      cred.RefreshToken,
		FieldTokenExpiry:       "",
		FieldAuthorizationCode: cred.AuthorizationCode,
		FieldAuthorizationURL:  cred.AuthorizationURL,
		FieldRedirectURI:       cred.RedirectURI,
	}
	if cred.TokenExpiry != 0 {
		fields[FieldTokenExpiry] = strconv.FormatInt(cred.TokenExpiry, 10)
	}
	return fields
}
