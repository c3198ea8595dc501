// Package journal is the audit trail of position-lifecycle sagas. Every
// saga state transition is written as one SagaRecord.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type SagaRecord struct {
	ID         string          `json:"id"`
	SagaID     string          `json:"saga_id"`
	Operation  string          `json:"operation"`
	State      string          `json:"state"`
	ProcessID  string          `json:"process_id"`
	TraderID   string          `json:"trader_id"`
	AccountID  string          `json:"account_id"`
	PositionID string          `json:"position_id"`
	AssetPair  string          `json:"asset_pair"`
	Amount     decimal.Decimal `json:"amount"`
	Error      string          `json:"error,omitempty"`
	Time       time.Time       `json:"time"`
}

type Journal interface {
	RecordSaga(ctx context.Context, rec SagaRecord) error
	Close() error
}

// Reader is implemented by the queryable backends.
type Reader interface {
	ListSaga(ctx context.Context, sagaID string) ([]SagaRecord, error)
	ListByState(ctx context.Context, state string, since time.Time) ([]SagaRecord, error)
}

// Nop discards records. It is used when no journal is configured.
type Nop struct{}

func (Nop) RecordSaga(context.Context, SagaRecord) error { return nil }
func (Nop) Close() error                                 { return nil }

// Options selects and configures a backend for Open.
type Options struct {
	Type string // none, csv, sqlite or postgres
	Path string // csv file or sqlite database
	DSN  string // postgres
}

func Open(ctx context.Context, o Options) (Journal, error) {
	switch o.Type {
	case "", "none":
		return Nop{}, nil
	case "csv":
		return NewCSV(o.Path)
	case "sqlite":
		return NewSQLite(o.Path)
	case "postgres":
		return NewPostgres(ctx, o.DSN)
	default:
		return nil, fmt.Errorf("unknown journal type %q", o.Type)
	}
}
