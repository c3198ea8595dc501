package abook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rustyeddy/trading-executor/broker"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	return NewClient(server.URL+"/", "test-token", 5*time.Second)
}

func sampleRequest() broker.BridgeOpenRequest {
	return broker.BridgeOpenRequest{
		InstrumentID: "EURUSD",
		PositionID:   "pos-1",
		AccountID:    "acct-1",
		Leverage:     50,
		InvestAmount: decimal.RequireFromString("125.50"),
		Side:         broker.SideSell,
	}
}

func TestNewClient(t *testing.T) {
	c := NewClient("http://bridge.local/", "tok", 0)
	assert.Equal(t, "http://bridge.local", c.baseURL)
	assert.Equal(t, "tok", c.token)
	assert.Equal(t, 10*time.Second, c.httpClient.Timeout)
}

func TestOpenPosition_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/positions", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var got broker.BridgeOpenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "pos-1", got.PositionID)
		assert.Equal(t, broker.SideSell, got.Side)
		assert.True(t, got.InvestAmount.Equal(decimal.RequireFromString("125.5")))

		_ = json.NewEncoder(w).Encode(openResponse{
			Position: &broker.BridgePosition{ID: "venue-9", InstrumentID: "EURUSD", OpenPrice: 1.0851, Volume: 6275},
		})
	})

	pos, err := client.OpenPosition(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "venue-9", pos.ID)
	assert.Equal(t, 1.0851, pos.OpenPrice)
}

func TestOpenPosition_Rejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(openResponse{Status: 3, Message: "market closed"})
	})

	_, err := client.OpenPosition(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, broker.ErrBridgeRejected)

	var rej *broker.BridgeRejectError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, int32(3), rej.StatusCode)
	assert.Contains(t, err.Error(), "market closed")
}

func TestOpenPosition_TransportErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantMsg string
	}{
		{
			name: "http 500",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte("upstream down"))
			},
			wantMsg: "status 500",
		},
		{
			name: "bad json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("{not json"))
			},
			wantMsg: "decode response",
		},
		{
			name: "missing position",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"status":0}`))
			},
			wantMsg: "missing position",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.handler)
			_, err := client.OpenPosition(context.Background(), sampleRequest())
			require.Error(t, err)
			assert.NotErrorIs(t, err, broker.ErrBridgeRejected)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestOpenPosition_ContextCancelled(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.OpenPosition(ctx, sampleRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOpenPosition_RequiresInstrument(t *testing.T) {
	c := NewClient("http://unused", "", time.Second)
	_, err := c.OpenPosition(context.Background(), broker.BridgeOpenRequest{})
	assert.ErrorContains(t, err, "instrument is required")
}
