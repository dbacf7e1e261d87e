package engine

import (
	"context"
	"errors"
	"testing"

	"tasksync/internal/config"
	"tasksync/internal/events"
	"tasksync/internal/models"
	"tasksync/internal/payload"
	"tasksync/internal/store"
	"tasksync/internal/todo"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokens struct {
	token string
	err   error
	calls int
}

func (f *fakeTokens) GetAccessToken(context.Context) (string, error) {
	f.calls++
	return f.token, f.err
}

type fakeProvider struct {
	lists        map[string]string
	createErr    map[string]error // keyed by list id
	resolveCalls int
	createCalls  int
}

func (f *fakeProvider) ResolveList(_ context.Context, name, _ string) (string, error) {
	f.resolveCalls++
	id, ok := f.lists[name]
	if !ok {
		return "", &todo.ListNotFoundError{Name: name}
	}
	return id, nil
}

func (f *fakeProvider) CreateTask(_ context.Context, listID, _ string, _ *models.TaskPayload) error {
	f.createCalls++
	if err := f.createErr[listID]; err != nil {
		return err
	}
	return nil
}

var testHeader = []string{"title", "list_name", "due", "result"}

func taskRows(fields ...map[string]string) []models.TaskRow {
	rows := make([]models.TaskRow, len(fields))
	for i, f := range fields {
		rows[i] = models.TaskRow{Index: i, Fields: f}
	}
	return rows
}

func newTestEngine(t *testing.T, st *store.MemoryStore, tokens TokenSource, provider Provider) *Engine {
	t.Helper()
	builder, err := payload.NewBuilder("Asia/Tokyo", config.DueEncodingLocal)
	require.NoError(t, err)

	cfg := config.SyncConfig{ResultColumn: "result"}
	return New(st, tokens, provider, builder, nil, events.NewEventBus(), cfg, "client-1", zerolog.Nop())
}

func TestRunRecordsPerRowOutcomes(t *testing.T) {
	st := store.NewMemoryStore(models.Credential{}, testHeader, taskRows(
		map[string]string{"title": "a", "list_name": "Work"},
		map[string]string{"title": "b", "list_name": "Work"},
		map[string]string{"title": "c", "list_name": "Ghost"},
		map[string]string{"title": "d", "list_name": "Work"},
		map[string]string{"title": "e", "list_name": "Work"},
	))
	provider := &fakeProvider{lists: map[string]string{"Work": "w1"}}
	eng := newTestEngine(t, st, &fakeTokens{token: "tok"}, provider)

	report, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, report.Total)
	assert.Equal(t, 4, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Skipped)

	results := st.Results()
	assert.Equal(t, "Success", results[0])
	assert.Equal(t, "Success", results[1])
	assert.Equal(t, "Error: list not found: Ghost", results[2])
	assert.Equal(t, "Success", results[3])
	assert.Equal(t, "Success", results[4])
}

func TestRunValidationSkipsNetwork(t *testing.T) {
	st := store.NewMemoryStore(models.Credential{}, testHeader, taskRows(
		map[string]string{"title": "", "list_name": "Work"},
		map[string]string{"title": "b", "list_name": ""},
		map[string]string{"title": "c", "list_name": "Work"},
	))
	provider := &fakeProvider{lists: map[string]string{"Work": "w1"}}
	eng := newTestEngine(t, st, &fakeTokens{token: "tok"}, provider)

	report, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 1, report.Succeeded)

	results := st.Results()
	assert.Equal(t, "title/list_name missing", results[0])
	assert.Equal(t, "title/list_name missing", results[1])
	assert.Equal(t, "Success", results[2])

	// Only the one valid row may touch the network.
	assert.Equal(t, 1, provider.resolveCalls)
	assert.Equal(t, 1, provider.createCalls)
}

func TestRunTokenFailureIsFatal(t *testing.T) {
	st := store.NewMemoryStore(models.Credential{}, testHeader, taskRows(
		map[string]string{"title": "a", "list_name": "Work"},
	))
	provider := &fakeProvider{lists: map[string]string{"Work": "w1"}}
	tokens := &fakeTokens{err: errors.New("refresh rejected: status 401")}
	eng := newTestEngine(t, st, tokens, provider)

	_, err := eng.Run(context.Background())
	require.Error(t, err)

	assert.Empty(t, st.Results(), "no row may be written after a fatal token failure")
	assert.Equal(t, 0, provider.resolveCalls)
	assert.Equal(t, 0, provider.createCalls)
	assert.Equal(t, 1, tokens.calls, "token is acquired once, before any row")
}

func TestRunListResolutionIsCachedPerBatch(t *testing.T) {
	st := store.NewMemoryStore(models.Credential{}, testHeader, taskRows(
		map[string]string{"title": "a", "list_name": "Work"},
		map[string]string{"title": "b", "list_name": "Work"},
		map[string]string{"title": "c", "list_name": "Home"},
	))
	provider := &fakeProvider{lists: map[string]string{"Work": "w1", "Home": "h1"}}
	eng := newTestEngine(t, st, &fakeTokens{token: "tok"}, provider)

	_, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, provider.resolveCalls, "one lookup per distinct list name")
	assert.Equal(t, 3, provider.createCalls)
}

func TestRunCreateFailureDoesNotStopBatch(t *testing.T) {
	st := store.NewMemoryStore(models.Credential{}, testHeader, taskRows(
		map[string]string{"title": "a", "list_name": "Work"},
		map[string]string{"title": "b", "list_name": "Broken"},
		map[string]string{"title": "c", "list_name": "Work"},
	))
	provider := &fakeProvider{
		lists:     map[string]string{"Work": "w1", "Broken": "x1"},
		createErr: map[string]error{"x1": &todo.APIError{Endpoint: "tasks", Status: 500, Body: "boom"}},
	}
	eng := newTestEngine(t, st, &fakeTokens{token: "tok"}, provider)

	report, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)

	results := st.Results()
	assert.Contains(t, results[1], "Error: tasks request failed")
}

func TestRunInvalidDueDateIsPerRow(t *testing.T) {
	st := store.NewMemoryStore(models.Credential{}, testHeader, taskRows(
		map[string]string{"title": "a", "list_name": "Work", "due": "garbage"},
		map[string]string{"title": "b", "list_name": "Work", "due": "2025-08-17"},
	))
	provider := &fakeProvider{lists: map[string]string{"Work": "w1"}}
	eng := newTestEngine(t, st, &fakeTokens{token: "tok"}, provider)

	report, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Succeeded)
	assert.Contains(t, st.Results()[0], "invalid due date")
}

func TestRunMissingResultColumnFatalWhenRequired(t *testing.T) {
	st := store.NewMemoryStore(models.Credential{}, []string{"title", "list_name"}, taskRows(
		map[string]string{"title": "a", "list_name": "Work"},
	))
	provider := &fakeProvider{lists: map[string]string{"Work": "w1"}}

	builder, err := payload.NewBuilder("UTC", config.DueEncodingLocal)
	require.NoError(t, err)
	cfg := config.SyncConfig{ResultColumn: "result", RequireResultColumn: true}
	eng := New(st, &fakeTokens{token: "tok"}, provider, builder, nil, events.NewEventBus(), cfg, "client-1", zerolog.Nop())

	_, err = eng.Run(context.Background())
	require.ErrorIs(t, err, store.ErrResultColumnMissing)
	assert.Empty(t, st.Results())
	assert.Equal(t, 0, provider.resolveCalls)
}

func TestRunMissingResultColumnAutoCreated(t *testing.T) {
	st := store.NewMemoryStore(models.Credential{}, []string{"title", "list_name"}, taskRows(
		map[string]string{"title": "a", "list_name": "Work"},
	))
	provider := &fakeProvider{lists: map[string]string{"Work": "w1"}}
	eng := newTestEngine(t, st, &fakeTokens{token: "tok"}, provider)

	report, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Contains(t, st.Header(), "result")
	assert.Equal(t, "Success", st.Results()[0])
}

func TestRunPublishesCompletionEvent(t *testing.T) {
	st := store.NewMemoryStore(models.Credential{}, testHeader, taskRows(
		map[string]string{"title": "a", "list_name": "Work"},
	))
	provider := &fakeProvider{lists: map[string]string{"Work": "w1"}}

	builder, err := payload.NewBuilder("UTC", config.DueEncodingLocal)
	require.NoError(t, err)

	bus := events.NewEventBus()
	var completed int
	bus.Subscribe(events.EventSyncCompleted, func(*events.Event) error {
		completed++
		return nil
	})

	cfg := config.SyncConfig{ResultColumn: "result"}
	eng := New(st, &fakeTokens{token: "tok"}, provider, builder, nil, bus, cfg, "client-1", zerolog.Nop())

	_, err = eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, completed, "exactly one completion notification per batch")
}

func TestRunEmptySheet(t *testing.T) {
	st := store.NewMemoryStore(models.Credential{}, testHeader, nil)
	provider := &fakeProvider{}
	eng := newTestEngine(t, st, &fakeTokens{token: "tok"}, provider)

	report, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Total)
	assert.Equal(t, 0, provider.createCalls)
}
