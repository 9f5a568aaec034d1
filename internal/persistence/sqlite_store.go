package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/lendr/loanflow/pkg/api"
)

// SQLiteInstanceStore is an InstanceStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteInstanceStore struct {
	db *sql.DB
}

// Ensure SQLiteInstanceStore implements InstanceStore.
var _ InstanceStore = (*SQLiteInstanceStore)(nil)

// NewSQLiteInstanceStore initializes the required schema in the given
// database and returns a new SQLiteInstanceStore.
func NewSQLiteInstanceStore(db *sql.DB) (*SQLiteInstanceStore, error) {
	s := &SQLiteInstanceStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteInstanceStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS loan_workflows (
			id TEXT PRIMARY KEY,
			step TEXT NOT NULL,
			status TEXT NOT NULL,
			input BLOB,
			outputs BLOB,
			signals BLOB,
			error TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
	)
	return err
}

func (s *SQLiteInstanceStore) CreateInstance(ctx context.Context, inst *api.WorkflowInstance) error {
	input, outputs, signals, err := encodeInstanceBlobs(inst)
	if err != nil {
		return err
	}

	inst.Version = 1
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO loan_workflows (id, step, status, input, outputs, signals, error, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint") {
		return api.ErrInstanceExists
	}
	return err
}

func (s *SQLiteInstanceStore) GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, step, status, input, outputs, signals, error, version, created_at, updated_at
		FROM loan_workflows
		WHERE id = ?`,
		id,
	)
	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.ErrInstanceNotFound
	}
	return inst, err
}

func (s *SQLiteInstanceStore) ListInstances(ctx context.Context, opts api.ListOptions) ([]*api.WorkflowInstance, error) {
	query := `
		SELECT id, step, status, input, outputs, signals, error, version, created_at, updated_at
		FROM loan_workflows`
	var args []any
	var clauses []string

	if opts.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.Step != "" {
		clauses = append(clauses, "step = ?")
		args = append(args, string(opts.Step))
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

func (s *SQLiteInstanceStore) CompareAndSwap(ctx context.Context, inst *api.WorkflowInstance, expectedVersion int64) error {
	input, outputs, signals, err := encodeInstanceBlobs(inst)
	if err != nil {
		return err
	}

	inst.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE loan_workflows
		SET step = ?, status = ?, input = ?, outputs = ?, signals = ?, error = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
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
		// Distinguish a lost race from a missing row.
		var n int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM loan_workflows WHERE id = ?`, inst.ID).Scan(&n); err != nil {
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

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*api.WorkflowInstance, error) {
	var (
		inst                    api.WorkflowInstance
		stepStr, statusStr      string
		input, outputs, signals []byte
		createdAt, updatedAt    int64
	)
	if err := row.Scan(&inst.ID, &stepStr, &statusStr, &input, &outputs, &signals, &inst.Err, &inst.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	inst.Step = api.Step(stepStr)
	inst.Status = api.Status(statusStr)
	inst.CreatedAt = time.Unix(0, createdAt)
	inst.UpdatedAt = time.Unix(0, updatedAt)

	in, err := DecodeValue(input)
	if err != nil {
		return nil, err
	}
	inst.Input = in

	outs, err := DecodeOutputs(outputs)
	if err != nil {
		return nil, err
	}
	inst.Outputs = outs

	sigs, err := DecodeSignals(signals)
	if err != nil {
		return nil, err
	}
	inst.Signals = sigs

	return &inst, nil
}

func encodeInstanceBlobs(inst *api.WorkflowInstance) (input, outputs, signals []byte, err error) {
	if input, err = EncodeValue(inst.Input); err != nil {
		return nil, nil, nil, err
	}
	if outputs, err = EncodeOutputs(inst.Outputs); err != nil {
		return nil, nil, nil, err
	}
	if signals, err = EncodeSignals(inst.Signals); err != nil {
		return nil, nil, nil, err
	}
	return input, outputs, signals, nil
}
