package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/lendr/loanflow/pkg/api"
)

// PostgresInstanceStore is an InstanceStore backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib").
//
// The caller is responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
type PostgresInstanceStore struct {
	db *sql.DB
}

// Ensure PostgresInstanceStore implements InstanceStore.
var _ InstanceStore = (*PostgresInstanceStore)(nil)

// NewPostgresInstanceStore initializes the required schema in the given
// database and returns a new PostgresInstanceStore.
func NewPostgresInstanceStore(db *sql.DB) (*PostgresInstanceStore, error) {
	s := &PostgresInstanceStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresInstanceStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS loan_workflows (
			id TEXT PRIMARY KEY,
			step TEXT NOT NULL,
			status TEXT NOT NULL,
			input BYTEA,
			outputs BYTEA,
			signals BYTEA,
			error TEXT NOT NULL DEFAULT '',
			version BIGINT NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);
	`)
	return err
}

func (s *PostgresInstanceStore) CreateInstance(ctx context.Context, inst *api.WorkflowInstance) error {
	input, outputs, signals, err := encodeInstanceBlobs(inst)
	if err != nil {
		return err
	}

	inst.Version = 1
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO loan_workflows (id, step, status, input, outputs, signals, error, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		inst.ID,
		string(inst.Step),
		string(inst.Status),
		input,
		outputs,
		signals,
		inst.Err,
		inst.Version,
		inst.CreatedAt.UnixNano(),
		inst.UpdatedAt.UnixNano(),
	)
	if err != nil && strings.Contains(err.Error(), "duplicate key") {
		return api.ErrInstanceExists
	}
	return err
}

func (s *PostgresInstanceStore) GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, step, status, input, outputs, signals, error, version, created_at, updated_at
		FROM loan_workflows
		WHERE id = $1`,
		id,
	)
	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.ErrInstanceNotFound
	}
	return inst, err
}

func (s *PostgresInstanceStore) ListInstances(ctx context.Context, opts api.ListOptions) ([]*api.WorkflowInstance, error) {
	query := `
		SELECT id, step, status, input, outputs, signals, error, version, created_at, updated_at
		FROM loan_workflows`
	var args []any
	var clauses []string

	if opts.Status != "" {
		args = append(args, string(opts.Status))
		clauses = append(clauses, "status = $1")
	}
	if opts.Step != "" {
		args = append(args, string(opts.Step))
		if len(args) == 1 {
			clauses = append(clauses, "step = $1")
		} else {
			clauses = append(clauses, "step = $2")
		}
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*api.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (s *PostgresInstanceStore) CompareAndSwap(ctx context.Context, inst *api.WorkflowInstance, expectedVersion int64) error {
	input, outputs, signals, err := encodeInstanceBlobs(inst)
	if err != nil {
		return err
	}

	inst.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE loan_workflows
		SET step = $1, status = $2, input = $3, outputs = $4, signals = $5, error = $6, version = $7, updated_at = $8
		WHERE id = $9 AND version = $10`,
		string(inst.Step),
		string(inst.Status),
		input,
		outputs,
		signals,
		inst.Err,
		expectedVersion+1,
		inst.UpdatedAt.UnixNano(),
		inst.ID,
		expectedVersion,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var n int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM loan_workflows WHERE id = $1`, inst.ID).Scan(&n); err != nil {
			return err
		}
		if n == 0 {
			return api.ErrInstanceNotFound
		}
		return api.ErrConflict
	}

	inst.Version = expectedVersion + 1
	return nil
}

// PostgresEventStore journals milestone events in PostgreSQL.
type PostgresEventStore struct {
	db *sql.DB
}

var _ EventStore = (*PostgresEventStore)(nil)

func NewPostgresEventStore(db *sql.DB) (*PostgresEventStore, error) {
	s := &PostgresEventStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresEventStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS loan_events (
			workflow_id TEXT NOT NULL,
			seq BIGINT NOT NULL,
			stage TEXT NOT NULL,
			payload BYTEA,
			at BIGINT NOT NULL,
			PRIMARY KEY (workflow_id, seq)
		);
	`)
	return err
}

func (s *PostgresEventStore) AppendEvent(ctx context.Context, ev *api.Event) error {
	payload, err := EncodeValue(ev.Payload)
	if err != nil {
		return err
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO loan_events (workflow_id, seq, stage, payload, at)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4
		FROM loan_events WHERE workflow_id = $1
		RETURNING seq`,
		ev.WorkflowID,
		string(ev.Stage),
		payload,
		ev.At.UnixNano(),
	).Scan(&ev.Seq)
	return err
}

func (s *PostgresEventStore) ListEvents(ctx context.Context, workflowID string) ([]api.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT workflow_id, seq, stage, payload, at
		FROM loan_events
		WHERE workflow_id = $1
		ORDER BY seq ASC`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.Event
	for rows.Next() {
		var (
			ev      api.Event
			stage   string
			payload []byte
			atN     int64
		)
		if err := rows.Scan(&ev.WorkflowID, &ev.Seq, &stage, &payload, &atN); err != nil {
			return nil, err
		}
		ev.Stage = api.Stage(stage)
		ev.At = time.Unix(0, atN)

		p, err := DecodeValue(payload)
		if err != nil {
			return nil, err
		}
		ev.Payload = p
		out = append(out, ev)
	}
	return out, rows.Err()
}
