package store

import (
	"context"
	"fmt"
	"sync"

	"tasksync/internal/models"
)

// MemoryStore is an in-memory credential and row store used in tests and as
// a harness for dry runs.
type MemoryStore struct {
	mu        sync.Mutex
	cred      models.Credential
	header    []string
	rows      []models.TaskRow
	results   map[int]string
	resultCol int
}

func NewMemoryStore(cred models.Credential, header []string, rows []models.TaskRow) *MemoryStore {
	return &MemoryStore{
		cred:    cred,
		header:  append([]string(nil), header...),
		rows:    rows,
		results: make(map[int]string),
	}
}

func (s *MemoryStore) LoadCredential(context.Context) (*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred := s.cred
	return &cred, nil
}

func (s *MemoryStore) SaveCredential(_ context.Context, cred *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = *cred
	return nil
}

// Credential returns a snapshot of the stored credential.
func (s *MemoryStore) Credential() models.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred
}

func (s *MemoryStore) ReadRows(context.Context) ([]models.TaskRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.TaskRow(nil), s.rows...), nil
}

func (s *MemoryStore) EnsureResultColumn(_ context.Context, name string, autoCreate bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, h := range s.header {
		if h == name {
			s.resultCol = i + 1
			return nil
		}
	}
	if !autoCreate {
		return fmt.Errorf("%w: %q", ErrResultColumnMissing, name)
	}
	s.header = append(s.header, name)
	s.resultCol = len(s.header)
	return nil
}

func (s *MemoryStore) WriteResult(_ context.Context, rowIndex int, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resultCol == 0 {
		return fmt.Errorf("result column is not resolved")
	}
	s.results[rowIndex] = value
	return nil
}

// Results returns a copy of the written result cells keyed by row index.
func (s *MemoryStore) Results() map[int]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]string, len(s.results))
	for k, v := range s.results {
		out[k] = v
	}
	return out
}

// Header returns the current header row.
func (s *MemoryStore) Header() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.header...)
}
