// Package main wires configuration, the relational task store, the stage
// handlers, and the orchestrator's worker pool into a runnable engine.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/uhaseeb85/jenkins-genie/config"
	"github.com/uhaseeb85/jenkins-genie/gitdriver"
	"github.com/uhaseeb85/jenkins-genie/hostprovider"
	"github.com/uhaseeb85/jenkins-genie/ingest"
	"github.com/uhaseeb85/jenkins-genie/llm"
	"github.com/uhaseeb85/jenkins-genie/orchestrator"
	"github.com/uhaseeb85/jenkins-genie/ranker"
	"github.com/uhaseeb85/jenkins-genie/secretstore"
	"github.com/uhaseeb85/jenkins-genie/store"

	"github.com/jmoiron/sqlx"
)

// App composes every long-lived component for one process. Multiple App
// instances (in separate processes) may run against the same database; the
// store's claim-and-lease queries are the only coordination surface.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *sqlx.DB
	store    *store.Store
	orch     *orchestrator.Orchestrator
	ingestor *ingest.Ingestor
	sweeper  *WorkDirSweeper
}

// NewApp opens the database connection and wires every component against
// cfg. It does not start the worker pool; call Run for that.
func NewApp(cfg *config.Config) (*App, error) {
	secrets := secretstore.FromConfig(cfg)
	baseLogger := slog.New(secretstore.NewRedactingHandler(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}),
		secrets.Values(),
	))

	sqlDB, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db := sqlx.NewDb(sqlDB, "postgres")
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	st := store.New(db)

	orch := orchestrator.New(
		st,
		cfg.Orchestrator.MaxConcurrentTasks,
		cfg.Orchestrator.TaskMaxAttempts,
		cfg.Orchestrator.ValidationEnabled,
		orchestrator.WithLogger(baseLogger),
	)

	handlers := orchestrator.NewHandlers(
		orchestrator.HandlerConfig{
			WorkDirRoot:       cfg.WorkDir.Root,
			PullRequestLabels: []string{"ci-fix", "automated"},
			ValidationTimeout: 10 * time.Minute,
			RankerWeights:     ranker.JavaProfileWeights,
			Temperature:       cfg.LLM.Temperature,
			ValidationEnabled: cfg.Orchestrator.ValidationEnabled,
		},
		gitdriver.NewDriver(),
		llm.NewClient(llm.Endpoint{
			Provider:  cfg.LLM.Provider,
			BaseURL:   cfg.LLM.BaseURL,
			APIKey:    cfg.LLM.APIKey,
			Model:     cfg.LLM.Model,
			MaxTokens: cfg.LLM.MaxTokens,
		}, llm.WithLogger(baseLogger)),
		hostprovider.NewClient(hostprovider.Config{
			BaseURL: cfg.Provider.BaseURL,
			Token:   cfg.Provider.Token,
		}, hostprovider.WithLogger(baseLogger)),
		nil, // no delivery channel wired; NoopNotifier leaves the persisted row as the record
		baseLogger,
	)
	handlers.Register(orch)

	ingestor := ingest.New(st, orch, ingest.Config{
		SignatureRequired: cfg.Webhook.SignatureValidationEnabled,
		Secret:            cfg.Webhook.Secret,
	}, baseLogger)

	sweeper := NewWorkDirSweeper(cfg.WorkDir.Root, time.Duration(cfg.WorkDir.RetentionDays)*24*time.Hour,
		cfg.WorkDir.SweepInterval, baseLogger)

	return &App{
		cfg:      cfg,
		logger:   baseLogger,
		db:       db,
		store:    st,
		orch:     orch,
		ingestor: ingestor,
		sweeper:  sweeper,
	}, nil
}

// Ingestor exposes the webhook-acceptance component for the HTTP layer
// (out of scope here) to call.
func (a *App) Ingestor() *ingest.Ingestor { return a.ingestor }

// Run starts the orchestrator's worker pool and the work-dir sweeper,
// blocking until ctx is canceled or either fails.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() { errCh <- a.orch.RunForever(ctx) }()
	go func() { errCh <- a.sweeper.Run(ctx) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Close releases the database connection.
func (a *App) Close() error {
	return a.db.Close()
}

// Migrate brings the database schema up to date.
func Migrate(cfg *config.Config) error {
	sqlDB, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return store.Migrate(sqlDB)
}
