package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ Journal = (*Postgres)(nil)
	_ Reader  = (*Postgres)(nil)
)

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect journal db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping journal db: %w", err)
	}
	if _, err := pool.Exec(ctx, PostgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (j *Postgres) RecordSaga(ctx context.Context, r SagaRecord) error {
	_, err := j.pool.Exec(ctx, `
		insert into saga_events (`+sagaColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.SagaID, r.Operation, r.State, r.ProcessID, r.TraderID,
		r.AccountID, r.PositionID, r.AssetPair, r.Amount.String(), r.Error, r.Time.UTC(),
	)
	return err
}

func (j *Postgres) ListSaga(ctx context.Context, sagaID string) ([]SagaRecord, error) {
	rows, err := j.pool.Query(ctx, `select `+sagaColumns+` from saga_events where saga_id = $1 order by id`, sagaID)
	if err != nil {
		return nil, err
	}
	return collectPg(rows)
}

func (j *Postgres) ListByState(ctx context.Context, state string, since time.Time) ([]SagaRecord, error) {
	rows, err := j.pool.Query(ctx, `select `+sagaColumns+` from saga_events where state = $1 and time >= $2 order by time, id`, state, since.UTC())
	if err != nil {
		return nil, err
	}
	return collectPg(rows)
}

func (j *Postgres) Close() error {
	j.pool.Close()
	return nil
}

func collectPg(rows pgx.Rows) ([]SagaRecord, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (SagaRecord, error) {
		var rec SagaRecord
		var amount string
		err := row.Scan(
			&rec.ID, &rec.SagaID, &rec.Operation, &rec.State, &rec.ProcessID, &rec.TraderID,
			&rec.AccountID, &rec.PositionID, &rec.AssetPair, &amount, &rec.Error, &rec.Time,
		)
		if err != nil {
			return rec, err
		}
		if err := rec.Amount.Scan(amount); err != nil {
			return rec, err
		}
		return rec, nil
	})
}
