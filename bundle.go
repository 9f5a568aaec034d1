package loanflow

import (
	"database/sql"
	"log/slog"

	"github.com/lendr/loanflow/internal/taskqueue"
	"github.com/lendr/loanflow/pkg/loan"
	workerpkg "github.com/lendr/loanflow/pkg/worker"
)

// WorkerBundle wires together an Engine, a durable task queue, and a Worker
// that consumes tasks from that queue.
type WorkerBundle struct {
	Engine Engine
	Worker *workerpkg.Worker

	// queue is kept unexported; it is primarily useful for internal
	// inspection and tests. The public API focuses on Engine and Worker.
	queue taskqueue.Queue
}

// NewSQLiteBundle constructs a durable Engine + Queue + Worker combo sharing
// the same SQLite database. Workflow instances, the milestone journal, and
// queued tasks all persist in the provided *sql.DB, so an accepted
// application survives a crash at any point between the facade and the
// engine.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:loanflow.db?_journal=WAL")
//	bundle, err := loanflow.NewSQLiteBundle(db, collaborators, loanflow.Options{})
//	id, _ := bundle.Worker.EnqueueStart(ctx, "", application)
//	go bundle.Worker.Run(ctx)
func NewSQLiteBundle(db *sql.DB, collab loan.Collaborators, opts Options) (*WorkerBundle, error) {
	eng, err := NewSQLiteEngine(db, collab, opts)
	if err != nil {
		return nil, err
	}

	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	w := workerpkg.New(eng, q, logger)

	return &WorkerBundle{
		Engine: eng,
		Worker: w,
		queue:  q,
	}, nil
}

// NewInMemoryBundle is the non-durable sibling of NewSQLiteBundle, useful in
// tests where neither the instances nor the queue need to outlive the
// process.
func NewInMemoryBundle(collab loan.Collaborators, opts Options) (*WorkerBundle, error) {
	eng, err := NewInMemoryEngine(collab, opts)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	q := taskqueue.NewInMemoryQueue(0)
	w := workerpkg.New(eng, q, logger)

	return &WorkerBundle{
		Engine: eng,
		Worker: w,
		queue:  q,
	}, nil
}
