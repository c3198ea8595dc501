// Package httpapi is the admin HTTP surface: liveness, readiness, Prometheus
// metrics, the reference snapshot counters and saga journal lookups.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rustyeddy/trading-executor/journal"
	"github.com/rustyeddy/trading-executor/refdata"
)

type Deps struct {
	Snapshot *refdata.Snapshot
	Gatherer prometheus.Gatherer
	Journal  journal.Reader // optional
	Logger   *slog.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Not ready until every reference table has its initial image.
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		stats := d.Snapshot.Stats()
		code := http.StatusOK
		if !stats.Ready {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, stats)
	})

	r.Get("/refdata/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Snapshot.Stats())
	})

	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/sagas", func(r chi.Router) {
		r.Get("/", d.listByState)
		r.Get("/{sagaID}", d.getSaga)
	})
	return r
}

func (d Deps) getSaga(w http.ResponseWriter, r *http.Request) {
	if d.Journal == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "journal is not queryable"})
		return
	}
	recs, err := d.Journal.ListSaga(r.Context(), chi.URLParam(r, "sagaID"))
	if err != nil {
		d.Logger.Error("saga lookup failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "lookup failed"})
		return
	}
	if len(recs) == 0 {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "saga not found"})
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// listByState serves /sagas?state=CompensationFailed&since=1h.
func (d Deps) listByState(w http.ResponseWriter, r *http.Request) {
	if d.Journal == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "journal is not queryable"})
		return
	}
	state := r.URL.Query().Get("state")
	if state == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "state is required"})
		return
	}
	window := 24 * time.Hour
	if s := r.URL.Query().Get("since"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "since must be a positive duration"})
			return
		}
		window = d
	}

	recs, err := d.Journal.ListByState(r.Context(), state, time.Now().Add(-window))
	if err != nil {
		d.Logger.Error("saga listing failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "lookup failed"})
		return
	}
	if recs == nil {
		recs = []journal.SagaRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
