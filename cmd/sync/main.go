package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tasksync/internal/auth"
	"tasksync/internal/config"
	"tasksync/internal/database"
	"tasksync/internal/engine"
	"tasksync/internal/events"
	"tasksync/internal/lock"
	"tasksync/internal/logging"
	"tasksync/internal/metrics"
	"tasksync/internal/payload"
	"tasksync/internal/server"
	"tasksync/internal/store"
	"tasksync/internal/todo"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func usage() error {
	return fmt.Errorf("usage: sync [run|auth-url|exchange]")
}

func run() error {
	command := "run"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	st, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	if c, ok := st.(io.Closer); ok {
		defer c.Close()
	}

	flow, err := auth.FlowFromConfig(cfg.Provider)
	if err != nil {
		return err
	}
	authManager := auth.NewManager(st, cfg.Provider, flow, cfg.Sync.HTTPTimeout(), logging.Component(&logger, "auth"))

	switch command {
	case "auth-url":
		url, err := authManager.AuthorizationURL(ctx)
		if err != nil {
			return err
		}
		fmt.Println(url)
		return nil

	case "exchange":
		if err := authManager.ExchangeCode(ctx); err != nil {
			return err
		}
		logger.Info().Msg("authorization code exchanged; tokens stored")
		return nil

	case "run":
		return runSync(ctx, cfg, st, authManager, logger)

	default:
		return usage()
	}
}

func runSync(ctx context.Context, cfg *config.Config, st syncStore, authManager *auth.Manager, logger zerolog.Logger) error {
	var history engine.History
	if cfg.Database.Path != "" {
		db, err := database.NewDB(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		history = db
	}

	bus := events.NewEventBus()
	subscribeNotifications(bus, &logger)

	builder, err := payload.NewBuilder(cfg.Sync.Timezone, cfg.Sync.DueEncoding)
	if err != nil {
		return err
	}

	client := todo.NewClient(cfg.Provider.APIBaseURL, cfg.Sync.HTTPTimeout(), logging.Component(&logger, "todo"))
	eng := engine.New(st, authManager, client, builder, history, bus, cfg.Sync, cfg.Provider.ClientID, logging.Component(&logger, "engine"))

	locker := newLocker(cfg, logger)
	release, err := locker.Acquire(ctx, cfg.Provider.ClientID, server.SyncLockTTL)
	if err != nil {
		return err
	}
	defer release()

	if _, err := eng.Run(ctx); err != nil {
		return err
	}
	return nil
}

// subscribeNotifications emits the single user-visible notification per batch.
func subscribeNotifications(bus *events.EventBus, logger *zerolog.Logger) {
	bus.Subscribe(events.EventSyncCompleted, func(event *events.Event) error {
		logger.Info().RawJSON("summary", event.Payload).Msg("Synchronization completed")
		return nil
	})
	bus.Subscribe(events.EventSyncFailed, func(event *events.Event) error {
		logger.Error().RawJSON("summary", event.Payload).Msg("Synchronization failed; no rows were processed")
		return nil
	})
}

// syncStore is the combined surface both the token manager and the engine
// need; all store backends satisfy it.
type syncStore interface {
	auth.CredentialStore
	store.RowStore
}

func newStore(ctx context.Context, cfg *config.Config) (syncStore, error) {
	switch cfg.Source.Backend {
	case config.BackendExcel:
		return store.NewExcelStore(cfg.Source.Path, cfg.Source.TasksSheet, cfg.Source.CredentialsSheet)
	case config.BackendGoogleSheets:
		return store.NewSheetsStore(ctx, cfg.Source.Google.CredentialsFile, cfg.Source.Google.SpreadsheetID, cfg.Source.TasksSheet, cfg.Source.CredentialsSheet)
	}
	return nil, fmt.Errorf("unknown source backend: %q", cfg.Source.Backend)
}

func newLocker(cfg *config.Config, logger zerolog.Logger) lock.Locker {
	local := lock.NewLocalLocker()
	if cfg.Redis.Address == "" {
		return local
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	return lock.NewFailoverLocker(lock.NewRedisLocker(client), local, logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	logger := logging.Component(baseLogger, "sync-main")

	return cfg, logger, closer, nil
}
