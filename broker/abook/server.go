package abook

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rustyeddy/trading-executor/broker"
)

// NewHandler serves the bridge protocol on top of any LiquidityBridge. The
// ledger-sim command uses it to stand in for a real venue. An empty token
// disables the bearer check.
func NewHandler(b broker.LiquidityBridge, token string, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post(positionsPath, func(w http.ResponseWriter, r *http.Request) {
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req broker.BridgeOpenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
			return
		}

		pos, err := b.OpenPosition(r.Context(), req)
		var reject *broker.BridgeRejectError
		switch {
		case errors.As(err, &reject):
			writeResponse(w, openResponse{Status: reject.StatusCode, Message: reject.Message})
		case err != nil:
			log.Error("bridge open failed", "position_id", req.PositionID, "error", err)
			http.Error(w, err.Error(), http.StatusBadGateway)
		default:
			writeResponse(w, openResponse{Position: &pos})
		}
	})
	return r
}

func writeResponse(w http.ResponseWriter, resp openResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
