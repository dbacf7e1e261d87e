// Package engine drives one synchronization batch: acquire a token, iterate
// rows in order, and record a per-row outcome without letting a row failure
// abort the batch.
package engine

import (
	"context"
	"fmt"
	"time"

	"tasksync/internal/config"
	"tasksync/internal/events"
	"tasksync/internal/metrics"
	"tasksync/internal/models"
	"tasksync/internal/payload"
	"tasksync/internal/store"

	"github.com/rs/zerolog"
)

// ValidationMessage is written verbatim to the result cell when a row is
// missing its required fields.
const ValidationMessage = "title/list_name missing"

// TokenSource yields a valid access token for the batch.
type TokenSource interface {
	GetAccessToken(ctx context.Context) (string, error)
}

// Provider is the surface of the task API the engine needs.
type Provider interface {
	ResolveList(ctx context.Context, name, accessToken string) (string, error)
	CreateTask(ctx context.Context, listID, accessToken string, payload *models.TaskPayload) error
}

// History records runs and outcomes; may be nil when auditing is disabled.
type History interface {
	CreateRun(ctx context.Context, clientID string, startedAt time.Time) (int64, error)
	FinishRun(ctx context.Context, id int64, report models.BatchReport, fatalErr string) error
	AddRowOutcome(ctx context.Context, runID int64, res models.RowResult) error
}

// EventPublisher is satisfied by events.EventBus.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type Engine struct {
	rows     store.RowStore
	tokens   TokenSource
	provider Provider
	builder  *payload.Builder
	history  History
	bus      EventPublisher
	cfg      config.SyncConfig
	clientID string
	logger   zerolog.Logger
}

func New(rows store.RowStore, tokens TokenSource, provider Provider, builder *payload.Builder, history History, bus EventPublisher, cfg config.SyncConfig, clientID string, logger zerolog.Logger) *Engine {
	return &Engine{
		rows:     rows,
		tokens:   tokens,
		provider: provider,
		builder:  builder,
		history:  history,
		bus:      bus,
		cfg:      cfg,
		clientID: clientID,
		logger:   logger,
	}
}

// Run executes one batch. A fatal pre-loop failure (token acquisition, result
// column, row read) returns an error and writes nothing to any row; once the
// loop starts, every row receives exactly one outcome and Run returns the
// batch report.
func (e *Engine) Run(ctx context.Context) (*models.BatchReport, error) {
	startedAt := time.Now()
	report := &models.BatchReport{StartedAt: startedAt}

	runID := e.startRun(ctx, startedAt)

	token, err := e.tokens.GetAccessToken(ctx)
	if err != nil {
		return nil, e.fatal(ctx, runID, report, fmt.Errorf("acquire access token: %w", err))
	}

	autoCreate := !e.cfg.RequireResultColumn
	if err := e.rows.EnsureResultColumn(ctx, e.cfg.ResultColumn, autoCreate); err != nil {
		return nil, e.fatal(ctx, runID, report, err)
	}

	rows, err := e.rows.ReadRows(ctx)
	if err != nil {
		return nil, e.fatal(ctx, runID, report, err)
	}

	report.Total = len(rows)
	e.logger.Info().Int("rows", len(rows)).Msg("sync started")
	_ = e.bus.PublishJSON(events.EventSyncStarted, events.SyncEventPayload{
		ClientID:  e.clientID,
		Total:     len(rows),
		StartedAt: startedAt,
	})

	// List ids cannot change mid-batch; cache resolutions for the run.
	listCache := make(map[string]string)

	for _, row := range rows {
		res := e.syncRow(ctx, row, token, listCache)

		switch res.Outcome {
		case models.OutcomeSuccess:
			report.Succeeded++
		case models.OutcomeValidationError:
			report.Skipped++
		default:
			report.Failed++
		}

		if err := e.rows.WriteResult(ctx, row.Index, res.CellValue()); err != nil {
			e.logger.Error().Err(err).Int("row", row.Index).Msg("failed to write row result")
		}

		metrics.IncRow(res.Outcome.String())
		e.recordOutcome(ctx, runID, res)
		_ = e.bus.PublishJSON(events.EventRowSynced, events.RowEventPayload{
			RowIndex: res.RowIndex,
			Outcome:  res.Outcome.String(),
			Message:  res.Message,
		})
	}

	report.Duration = time.Since(startedAt)
	e.finishRun(ctx, runID, report, "")
	metrics.IncRun("completed")
	metrics.ObserveRunDuration(report.Duration.Seconds())

	e.logger.Info().
		Int("total", report.Total).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Dur("duration", report.Duration).
		Msg("sync completed")
	_ = e.bus.PublishJSON(events.EventSyncCompleted, events.SyncEventPayload{
		ClientID:  e.clientID,
		Total:     report.Total,
		Succeeded: report.Succeeded,
		Failed:    report.Failed,
		Skipped:   report.Skipped,
		StartedAt: startedAt,
	})

	return report, nil
}

// syncRow produces exactly one outcome for a row. Every failure past
// validation is caught here and converted to a result message; nothing
// propagates out.
func (e *Engine) syncRow(ctx context.Context, row models.TaskRow, token string, listCache map[string]string) models.RowResult {
	title := row.Field(models.ColTitle)
	listName := row.Field(models.ColListName)
	if title == "" || listName == "" {
		return models.RowResult{RowIndex: row.Index, Outcome: models.OutcomeValidationError, Message: ValidationMessage}
	}

	listID, ok := listCache[listName]
	if !ok {
		id, err := e.provider.ResolveList(ctx, listName, token)
		if err != nil {
			return models.RowResult{RowIndex: row.Index, Outcome: models.OutcomeAPIError, Message: err.Error()}
		}
		listID = id
		listCache[listName] = id
	}

	p, err := e.builder.Build(row)
	if err != nil {
		return models.RowResult{RowIndex: row.Index, Outcome: models.OutcomeAPIError, Message: err.Error()}
	}

	if err := e.provider.CreateTask(ctx, listID, token, p); err != nil {
		return models.RowResult{RowIndex: row.Index, Outcome: models.OutcomeAPIError, Message: err.Error()}
	}

	return models.RowResult{RowIndex: row.Index, Outcome: models.OutcomeSuccess}
}

func (e *Engine) fatal(ctx context.Context, runID int64, report *models.BatchReport, err error) error {
	e.logger.Error().Err(err).Msg("sync aborted")
	e.finishRun(ctx, runID, report, err.Error())
	metrics.IncRun("fatal")
	_ = e.bus.PublishJSON(events.EventSyncFailed, events.SyncEventPayload{
		ClientID:  e.clientID,
		Error:     err.Error(),
		StartedAt: report.StartedAt,
	})
	return err
}

func (e *Engine) startRun(ctx context.Context, startedAt time.Time) int64 {
	if e.history == nil {
		return 0
	}
	id, err := e.history.CreateRun(ctx, e.clientID, startedAt)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to record sync run")
		return 0
	}
	return id
}

func (e *Engine) finishRun(ctx context.Context, runID int64, report *models.BatchReport, fatalErr string) {
	if e.history == nil || runID == 0 {
		return
	}
	if err := e.history.FinishRun(ctx, runID, *report, fatalErr); err != nil {
		e.logger.Error().Err(err).Msg("failed to finish sync run record")
	}
}

func (e *Engine) recordOutcome(ctx context.Context, runID int64, res models.RowResult) {
	if e.history == nil || runID == 0 {
		return
	}
	if err := e.history.AddRowOutcome(ctx, runID, res); err != nil {
		e.logger.Error().Err(err).Int("row", res.RowIndex).Msg("failed to record row outcome")
	}
}
