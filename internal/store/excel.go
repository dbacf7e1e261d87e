package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"tasksync/internal/models"

	"github.com/xuri/excelize/v2"
)

// ExcelStore backs the credential record and the task table with an xlsx
// workbook: a key/value credentials sheet and a tasks sheet with a header
// row. Every write is saved to disk immediately so partial batch results
// survive an interrupted run.
type ExcelStore struct {
	path       string
	tasksSheet string
	credsSheet string

	mu        sync.Mutex
	file      *excelize.File
	resultCol int // 1-based, 0 = unresolved
}

func NewExcelStore(path, tasksSheet, credsSheet string) (*ExcelStore, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	return &ExcelStore{
		path:       path,
		tasksSheet: tasksSheet,
		credsSheet: credsSheet,
		file:       f,
	}, nil
}

// Close releases the underlying workbook handle.
func (s *ExcelStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

func (s *ExcelStore) LoadCredential(_ context.Context) (*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.file.GetRows(s.credsSheet)
	if err != nil {
		return nil, fmt.Errorf("read credentials sheet %q: %w", s.credsSheet, err)
	}

	fields := make(map[string]string)
	for _, row := range rows {
		if len(row) < 1 {
			continue
		}
		key := strings.TrimSpace(row[0])
		if key == "" {
			continue
		}
		value := ""
		if len(row) > 1 {
			value = strings.TrimSpace(row[1])
		}
		fields[key] = value
	}

	return fieldsToCredential(fields), nil
}

func (s *ExcelStore) SaveCredential(_ context.Context, cred *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.file.GetRows(s.credsSheet)
	if err != nil {
		return fmt.Errorf("read credentials sheet %q: %w", s.credsSheet, err)
	}

	// Update rows for keys already present, then append the rest in a
	// stable order so the sheet stays human-readable.
	fields := credentialToFields(cred)
	seen := make(map[string]bool)
	for i, row := range rows {
		if len(row) < 1 {
			continue
		}
		key := strings.TrimSpace(row[0])
		value, ok := fields[key]
		if !ok {
			continue
		}
		seen[key] = true
		cell, _ := excelize.CoordinatesToCellName(2, i+1)
		if err := s.file.SetCellValue(s.credsSheet, cell, value); err != nil {
			return fmt.Errorf("write credential field %q: %w", key, err)
		}
	}

	next := len(rows) + 1
	for _, key := range credentialFieldOrder {
		if seen[key] {
			continue
		}
		keyCell, _ := excelize.CoordinatesToCellName(1, next)
		valCell, _ := excelize.CoordinatesToCellName(2, next)
		if err := s.file.SetCellValue(s.credsSheet, keyCell, key); err != nil {
			return fmt.Errorf("write credential key %q: %w", key, err)
		}
		if err := s.file.SetCellValue(s.credsSheet, valCell, fields[key]); err != nil {
			return fmt.Errorf("write credential field %q: %w", key, err)
		}
		next++
	}

	return s.save()
}

var credentialFieldOrder = []string{
	FieldClientID,
	FieldClientSecret,
	FieldCodeVerifier,
	FieldAccessToken,
	FieldRefreshToken,
	FieldTokenExpiry,
	FieldAuthorizationCode,
	FieldAuthorizationURL,
	FieldRedirectURI,
}

func (s *ExcelStore) ReadRows(_ context.Context) ([]models.TaskRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.file.GetRows(s.tasksSheet)
	if err != nil {
		return nil, fmt.Errorf("read tasks sheet %q: %w", s.tasksSheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("tasks sheet %q has no header row", s.tasksSheet)
	}

	header := rows[0]
	tasks := make([]models.TaskRow, 0, len(rows)-1)
	for i, row := range rows[1:] {
		fields := make(map[string]string, len(header))
		for col, name := range header {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if col < len(row) {
				fields[name] = row[col]
			}
		}
		tasks = append(tasks, models.TaskRow{Index: i, Fields: fields})
	}
	return tasks, nil
}

func (s *ExcelStore) EnsureResultColumn(_ context.Context, name string, autoCreate bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.file.GetRows(s.tasksSheet)
	if err != nil {
		return fmt.Errorf("read tasks sheet %q: %w", s.tasksSheet, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("tasks sheet %q has no header row", s.tasksSheet)
	}

	header := rows[0]
	for col, h := range header {
		if strings.TrimSpace(h) == name {
			s.resultCol = col + 1
			return nil
		}
	}

	if !autoCreate {
		return fmt.Errorf("%w: %q", ErrResultColumnMissing, name)
	}

	col := len(header) + 1
	cell, _ := excelize.CoordinatesToCellName(col, 1)
	if err := s.file.SetCellValue(s.tasksSheet, cell, name); err != nil {
		return fmt.Errorf("create result column %q: %w", name, err)
	}
	if err := s.save(); err != nil {
		return err
	}
	s.resultCol = col
	return nil
}

func (s *ExcelStore) WriteResult(_ context.Context, rowIndex int, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resultCol == 0 {
		return fmt.Errorf("result column is not resolved")
	}

	// Header occupies row 1; data row 0 lives at sheet row 2.
	cell, err := excelize.CoordinatesToCellName(s.resultCol, rowIndex+2)
	if err != nil {
		return fmt.Errorf("result cell for row %d: %w", rowIndex, err)
	}
	if err := s.file.SetCellValue(s.tasksSheet, cell, value); err != nil {
		return fmt.Errorf("write result for row %d: %w", rowIndex, err)
	}
	return s.save()
}

func (s *ExcelStore) save() error {
	if err := s.file.Save(); err != nil {
		return fmt.Errorf("save workbook %s: %w", s.path, err)
	}
	return nil
}
