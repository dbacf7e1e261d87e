package store

import (
	"context"
	"fmt"
	"os"
	"strings"

	"tasksync/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsStore implements the credential and row contracts over a Google
// Sheets spreadsheet accessed with a service account.
type SheetsStore struct {
	service       *sheets.Service
	spreadsheetID string
	tasksSheet    string
	credsSheet    string
	resultCol     int // 1-based, 0 = unresolved
}

func NewSheetsStore(ctx context.Context, credentialsFile, spreadsheetID, tasksSheet, credsSheet string) (*SheetsStore, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}

	return &SheetsStore{
		service:       srv,
		spreadsheetID: spreadsheetID,
		tasksSheet:    tasksSheet,
		credsSheet:    credsSheet,
	}, nil
}

// TestConnection reads one cell to verify the service account can reach the
// spreadsheet.
func (s *SheetsStore) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.credsSheet+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

func (s *SheetsStore) LoadCredential(ctx context.Context) (*models.Credential, error) {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.credsSheet+"!A:B").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read credentials sheet %q: %w", s.credsSheet, err)
	}

	fields := make(map[string]string)
	for _, row := range resp.Values {
		if len(row) < 1 {
			continue
		}
		key := strings.TrimSpace(cellString(row[0]))
		if key == "" {
			continue
		}
		value := ""
		if len(row) > 1 {
			value = strings.TrimSpace(cellString(row[1]))
		}
		fields[key] = value
	}

	return fieldsToCredential(fields), nil
}

func (s *SheetsStore) SaveCredential(ctx context.Context, cred *models.Credential) error {
	fields := credentialToFields(cred)

	values := make([][]interface{}, 0, len(credentialFieldOrder))
	for _, key := range credentialFieldOrder {
		values = append(values, []interface{}{key, fields[key]})
	}

	rangeData := fmt.Sprintf("%s!A1:B%d", s.credsSheet, len(values))
	_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("write credentials sheet %q: %w", s.credsSheet, err)
	}
	return nil
}

func (s *SheetsStore) ReadRows(ctx context.Context) ([]models.TaskRow, error) {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.tasksSheet).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read tasks sheet %q: %w", s.tasksSheet, err)
	}
	if len(resp.Values) == 0 {
		return nil, fmt.Errorf("tasks sheet %q has no header row", s.tasksSheet)
	}

	header := resp.Values[0]
	tasks := make([]models.TaskRow, 0, len(resp.Values)-1)
	for i, row := range resp.Values[1:] {
		fields := make(map[string]string, len(header))
		for col, name := range header {
			n := strings.TrimSpace(cellString(name))
			if n == "" {
				continue
			}
			if col < len(row) {
				fields[n] = cellString(row[col])
			}
		}
		tasks = append(tasks, models.TaskRow{Index: i, Fields: fields})
	}
	return tasks, nil
}

func (s *SheetsStore) EnsureResultColumn(ctx context.Context, name string, autoCreate bool) error {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.tasksSheet+"!1:1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read header row: %w", err)
	}
	if len(resp.Values) == 0 {
		return fmt.Errorf("tasks sheet %q has no header row", s.tasksSheet)
	}

	header := resp.Values[0]
	for col, h := range header {
		if strings.TrimSpace(cellString(h)) == name {
			s.resultCol = col + 1
			return nil
		}
	}

	if !autoCreate {
		return fmt.Errorf("%w: %q", ErrResultColumnMissing, name)
	}

	col := len(header) + 1
	cellRange := fmt.Sprintf("%s!%s1", s.tasksSheet, columnName(col))
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, cellRange, &sheets.ValueRange{Values: [][]interface{}{{name}}}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("create result column %q: %w", name, err)
	}
	s.resultCol = col
	return nil
}

func (s *SheetsStore) WriteResult(ctx context.Context, rowIndex int, value string) error {
	if s.resultCol == 0 {
		return fmt.Errorf("result column is not resolved")
	}

	// Header occupies row 1; data row 0 lives at sheet row 2.
	cellRange := fmt.Sprintf("%s!%s%d", s.tasksSheet, columnName(s.resultCol), rowIndex+2)
	_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, cellRange, &sheets.ValueRange{Values: [][]interface{}{{value}}}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("write result for row %d: %w", rowIndex, err)
	}
	return nil
}

func cellString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%v", t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// columnName converts a 1-based column index to A1 notation.
func columnName(col int) string {
	name := ""
	for col > 0 {
		col--
		name = string(rune('A'+col%26)) + name
		col /= 26
	}
	return name
}
