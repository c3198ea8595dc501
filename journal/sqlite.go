package journal

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

var (
	_ Journal = (*SQLite)(nil)
	_ Reader  = (*SQLite)(nil)
)

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordSaga(ctx context.Context, r SagaRecord) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO saga_events (`+sagaColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SagaID, r.Operation, r.State, r.ProcessID, r.TraderID,
		r.AccountID, r.PositionID, r.AssetPair, r.Amount.String(), r.Error, r.Time.UTC(),
	)
	return err
}

// ListSaga returns the transitions of one saga in the order they happened.
func (j *SQLite) ListSaga(ctx context.Context, sagaID string) ([]SagaRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+sagaColumns+`
		FROM saga_events
		WHERE saga_id = ?
		ORDER BY id ASC`, sagaID)
	if err != nil {
		return nil, err
	}
	return scanRows(rows)
}

// ListByState returns records in state at or after since, oldest first.
func (j *SQLite) ListByState(ctx context.Context, state string, since time.Time) ([]SagaRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+sagaColumns+`
		FROM saga_events
		WHERE state = ? AND time >= ?
		ORDER BY time ASC, id ASC`, state, since.UTC())
	if err != nil {
		return nil, err
	}
	return scanRows(rows)
}

func (j *SQLite) Close() error {
	return j.db.Close()
}

func scanRows(rows *sql.Rows) ([]SagaRecord, error) {
	defer rows.Close()

	var out []SagaRecord
	for rows.Next() {
		var rec SagaRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.SagaID,
			&rec.Operation,
			&rec.State,
			&rec.ProcessID,
			&rec.TraderID,
			&rec.AccountID,
			&rec.PositionID,
			&rec.AssetPair,
			&rec.Amount,
			&rec.Error,
			&rec.Time,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
