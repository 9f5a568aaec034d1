package loanflow

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lendr/loanflow/internal/engine"
	"github.com/lendr/loanflow/internal/persistence"
	"github.com/lendr/loanflow/pkg/api"
	"github.com/lendr/loanflow/pkg/loan"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	WorkflowInstance     = api.WorkflowInstance
	ListOptions          = api.ListOptions
	Status               = api.Status
	Step                 = api.Step
	Signal               = api.Signal
	Stage                = api.Stage
	Event                = api.Event
	RetryPolicy          = api.RetryPolicy
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Re-export status values for convenience.

const (
	StatusRunning           = api.StatusRunning
	StatusWaitingOnActivity = api.StatusWaitingOnActivity
	StatusWaitingOnSignal   = api.StatusWaitingOnSignal
	StatusCompleted         = api.StatusCompleted
	StatusFailed            = api.StatusFailed
)

// Re-export the human decision signals.

const (
	SignalDocumentsVerified     = api.SignalDocumentsVerified
	SignalOfferAccepted         = api.SignalOfferAccepted
	SignalDisbursementTriggered = api.SignalDisbursementTriggered
)

// Options tunes an engine beyond its storage backend. The zero value gives
// the default retry policy, attempt timeout, and a no-op observer.
type Options struct {
	AttemptTimeout time.Duration
	Retry          RetryPolicy
	Observer       Observer
	Logger         *slog.Logger
}

func (o Options) engineConfig(p persistence.Persistence, collab loan.Collaborators) engine.Config {
	return engine.Config{
		Persistence:    p,
		Collaborators:  collab,
		AttemptTimeout: o.AttemptTimeout,
		Retry:          o.Retry,
		Observer:       o.Observer,
		Logger:         o.Logger,
	}
}

// Engine constructors. These wrap the internal/engine package so external
// callers never need to import internal packages.

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
// State does not survive a restart; intended for tests and demos.
func NewInMemoryEngine(collab loan.Collaborators, opts Options) (Engine, error) {
	store := persistence.NewInMemoryStore()
	p := persistence.Persistence{Instances: store, Events: store}
	return engine.New(opts.engineConfig(p, collab))
}

// NewSQLiteEngine returns an Engine that persists workflow instances and the
// milestone journal in a SQLite database.
func NewSQLiteEngine(db *sql.DB, collab loan.Collaborators, opts Options) (Engine, error) {
	instances, err := persistence.NewSQLiteInstanceStore(db)
	if err != nil {
		return nil, err
	}
	events, err := persistence.NewSQLiteEventStore(db)
	if err != nil {
		return nil, err
	}
	p := persistence.Persistence{Instances: instances, Events: events}
	return engine.New(opts.engineConfig(p, collab))
}

// NewPostgresEngine returns an Engine that persists instances and events in
// PostgreSQL.
func NewPostgresEngine(db *sql.DB, collab loan.Collaborators, opts Options) (Engine, error) {
	instances, err := persistence.NewPostgresInstanceStore(db)
	if err != nil {
		return nil, err
	}
	events, err := persistence.NewPostgresEventStore(db)
	if err != nil {
		return nil, err
	}
	p := persistence.Persistence{Instances: instances, Events: events}
	return engine.New(opts.engineConfig(p, collab))
}

// NewRedisEngine returns an Engine that persists instances and events in
// Redis under the given key prefix.
func NewRedisEngine(client *redis.Client, prefix string, collab loan.Collaborators, opts Options) (Engine, error) {
	p := persistence.Persistence{
		Instances: persistence.NewRedisInstanceStore(client, prefix),
		Events:    persistence.NewRedisEventStore(client, prefix),
	}
	return engine.New(opts.engineConfig(p, collab))
}

// Convenience helpers that forward to the underlying Engine.

// Start starts a loan workflow for the given application.
func Start(ctx context.Context, eng Engine, id string, app loan.Application) (*WorkflowInstance, error) {
	return eng.Start(ctx, id, app)
}

// Get fetches an instance by id.
func Get(ctx context.Context, eng Engine, id string) (*WorkflowInstance, error) {
	return eng.Get(ctx, id)
}

// List lists workflow instances according to the given options.
func List(ctx context.Context, eng Engine, opts ListOptions) ([]*WorkflowInstance, error) {
	return eng.List(ctx, opts)
}
