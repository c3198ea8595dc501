package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rustyeddy/trading-executor/journal"
	"github.com/rustyeddy/trading-executor/market"
	"github.com/rustyeddy/trading-executor/refdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	recs     []journal.SagaRecord
	err      error
	gotState string
	gotSince time.Time
}

func (f *fakeReader) ListSaga(_ context.Context, sagaID string) ([]journal.SagaRecord, error) {
	var out []journal.SagaRecord
	for _, r := range f.recs {
		if r.SagaID == sagaID {
			out = append(out, r)
		}
	}
	return out, f.err
}

func (f *fakeReader) ListByState(_ context.Context, state string, since time.Time) ([]journal.SagaRecord, error) {
	f.gotState, f.gotSince = state, since
	if f.err != nil {
		return nil, f.err
	}
	var out []journal.SagaRecord
	for _, r := range f.recs {
		if r.State == state {
			out = append(out, r)
		}
	}
	return out, nil
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	snap := refdata.NewSnapshot()
	h := NewRouter(Deps{Snapshot: snap})

	assert.Equal(t, http.StatusOK, get(t, h, "/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/readyz").Code)

	snap.Apply(&refdata.Seed{Instruments: []market.Instrument{{ID: "EURUSD"}}})
	rec := get(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)

	var stats refdata.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Instruments)
	assert.True(t, stats.Ready)
	assert.False(t, stats.QuotesUpdatedAt.IsZero())

	assert.Equal(t, http.StatusOK, get(t, h, "/refdata/stats").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "requests_total", Help: "requests"})
	reg.MustRegister(c)
	c.Inc()

	h := NewRouter(Deps{Snapshot: refdata.NewSnapshot(), Gatherer: reg})
	rec := get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "requests_total 1")
}

func TestSagaEndpoints(t *testing.T) {
	j := &fakeReader{recs: []journal.SagaRecord{
		{ID: "1", SagaID: "S1", State: "Debited"},
		{ID: "2", SagaID: "S1", State: "CompensationFailed"},
	}}
	h := NewRouter(Deps{Snapshot: refdata.NewSnapshot(), Journal: j})

	rec := get(t, h, "/sagas/S1")
	require.Equal(t, http.StatusOK, rec.Code)
	var recs []journal.SagaRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recs))
	assert.Len(t, recs, 2)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/sagas/S9").Code)

	before := time.Now()
	rec = get(t, h, "/sagas/?state=CompensationFailed&since=2h")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CompensationFailed", j.gotState)
	assert.WithinDuration(t, before.Add(-2*time.Hour), j.gotSince, time.Minute)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "["))

	rec = get(t, h, "/sagas/?state=Nothing")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/sagas/").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/sagas/?state=Debited&since=yesterday").Code)

	j.err = errors.New("db locked")
	assert.Equal(t, http.StatusInternalServerError, get(t, h, "/sagas/?state=Debited").Code)
}

func TestSagaEndpointsWithoutJournal(t *testing.T) {
	h := NewRouter(Deps{Snapshot: refdata.NewSnapshot()})
	assert.Equal(t, http.StatusNotImplemented, get(t, h, "/sagas/S1").Code)
	assert.Equal(t, http.StatusNotImplemented, get(t, h, "/sagas/?state=Debited").Code)
}
