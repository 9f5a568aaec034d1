package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/lendr/loanflow/pkg/api"
)

// SQLiteEventStore journals milestone events in SQLite.
type SQLiteEventStore struct {
	db *sql.DB
}

// Ensure SQLiteEventStore implements the interface.
var _ EventStore = (*SQLiteEventStore)(nil)

func NewSQLiteEventStore(db *sql.DB) (*SQLiteEventStore, error) {
	s := &SQLiteEventStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteEventStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS loan_events (
			workflow_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			stage TEXT NOT NULL,
			payload BLOB,
			at INTEGER NOT NULL,
			PRIMARY KEY (workflow_id, seq)
		);
	`)
	return err
}

func (s *SQLiteEventStore) AppendEvent(ctx context.Context, ev *api.Event) error {
	payload, err := EncodeValue(ev.Payload)
	if err != nil {
		return err
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Per-instance sequence numbers; the composite primary key rejects a
	// duplicate if two appenders ever race for the same instance.
	var seq int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM loan_events WHERE workflow_id = ?`,
		ev.WorkflowID,
	).Scan(&seq)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO loan_events (workflow_id, seq, stage, payload, at)
		VALUES (?, ?, ?, ?, ?)`,
		ev.WorkflowID,
		seq,
		string(ev.Stage),
		payload,
		ev.At.UnixNano(),
	)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	ev.Seq = seq
	return nil
}

func (s *SQLiteEventStore) ListEvents(ctx context.Context, workflowID string) ([]api.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT workflow_id, seq, stage, payload, at
		FROM loan_events
		WHERE workflow_id = ?
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
