package journal

import (
	"context"
	"encoding/csv"
	"os"
	"sync"
	"time"
)

var csvHeader = []string{"id", "saga_id", "operation", "state", "process_id", "trader_id", "account_id", "position_id", "asset_pair", "amount", "error", "time"}

// CSV appends records to a single file. A new file gets a header row.
type CSV struct {
	mu sync.Mutex
	w  *csv.Writer
	f  *os.File
}

func NewCSV(path string) (*CSV, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	w := csv.NewWriter(f)
	if st.Size() == 0 {
		if err := w.Write(csvHeader); err != nil {
			_ = f.Close()
			return nil, err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	return &CSV{w: w, f: f}, nil
}

func (j *CSV) RecordSaga(_ context.Context, r SagaRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	err := j.w.Write([]string{
		r.ID,
		r.SagaID,
		r.Operation,
		r.State,
		r.ProcessID,
		r.TraderID,
		r.AccountID,
		r.PositionID,
		r.AssetPair,
		r.Amount.String(),
		r.Error,
		r.Time.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	j.w.Flush()
	return j.w.Error()
}

func (j *CSV) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.w.Flush()
	if err := j.w.Error(); err != nil {
		_ = j.f.Close()
		return err
	}
	return j.f.Close()
}
