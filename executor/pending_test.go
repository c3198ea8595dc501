package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rustyeddy/trading-executor/broker"
	"github.com/rustyeddy/trading-executor/broker/sim"
	"github.com/rustyeddy/trading-executor/market"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingReq(accountID, assetPair string, leverage int32) OpenPendingRequest {
	return OpenPendingRequest{OpenRequest: openReq(accountID, assetPair, leverage, 100), DesirePrice: 1.05}
}

func TestOpenPending(t *testing.T) {
	f := newFixture(t)

	p, err := f.x.OpenPending(context.Background(), pendingReq("acct-1", "EURUSD", 50))
	require.NoError(t, err)
	assert.Equal(t, 1.05, p.DesirePrice)
	assert.Equal(t, 50.0, p.Leverage)
	assert.Equal(t, 50.0, p.StopOutPercent)
	assert.NotEmpty(t, p.ID)

	// No funds move and no delay is applied for a limit order.
	assert.Zero(t, countOf(f.ledger.Calls(), sim.OpUpdateBalance))
	assert.True(t, f.balance("acct-1").Equal(decimal.NewFromInt(1000)))
	assert.Empty(t, f.sleeps)
	assert.Empty(t, f.journal.states())

	list, err := f.x.PendingPositions(context.Background(), "trader-1", "acct-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, p.ID, list[0].ID)
}

func TestOpenPendingIgnoresMarketHours(t *testing.T) {
	f := newFixture(t)

	// XAUUSD is in its day-off window at testNow.
	_, err := f.x.OpenPending(context.Background(), pendingReq("acct-1", "XAUUSD", 10))
	assert.NoError(t, err)

	q, _ := f.snap.Quotes.Get(market.BidAskPartition, "EURUSD")
	q.UnixTimestampMillis = testNow.Add(-time.Hour).UnixMilli()
	f.snap.Quotes.Upsert(q)
	_, err = f.x.OpenPending(context.Background(), pendingReq("acct-1", "EURUSD", 10))
	assert.NoError(t, err, "stale quote")
}

func TestOpenPendingRejections(t *testing.T) {
	tests := []struct {
		name string
		req  OpenPendingRequest
		want *Error
	}{
		{"unknown instrument", pendingReq("acct-1", "USDJPY", 10), ErrInstrumentNotFound},
		{"unknown account", pendingReq("acct-x", "EURUSD", 10), ErrAccountNotFound},
		{"missing group", pendingReq("acct-nogroup", "EURUSD", 10), ErrTradingGroupNotFound},
		{"missing profile", pendingReq("acct-noprofile", "EURUSD", 10), ErrTradingProfileNotFound},
		{"instrument not in profile", pendingReq("acct-1", "GBPUSD", 10), ErrTradingProfileInstrumentNotFound},
		{"leverage not allowed", pendingReq("acct-1", "EURUSD", 25), ErrMultiplierIsNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.x.OpenPending(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.Zero(t, countOf(f.ledger.Calls(), sim.OpOpenPending))
		})
	}
}

func TestOpenPendingLedgerError(t *testing.T) {
	f := newFixture(t)
	f.ledger.Fail(sim.OpOpenPending, errors.New("unavailable"), 1)

	_, err := f.x.OpenPending(context.Background(), pendingReq("acct-1", "EURUSD", 10))
	assert.Equal(t, StatusTechError, CodeOf(err))
}

func TestCancelPending(t *testing.T) {
	f := newFixture(t)
	p, err := f.x.OpenPending(context.Background(), pendingReq("acct-1", "EURUSD", 10))
	require.NoError(t, err)

	req := CancelPendingRequest{TraderID: "trader-1", AccountID: "acct-1", PositionID: p.ID, ProcessID: "proc-cancel"}
	cancelled, err := f.x.CancelPending(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, p.ID, cancelled.ID)
	assert.Equal(t, "proc-cancel", cancelled.LastUpdateProcessID)

	// Cancel performs no reference or account checks.
	assert.Zero(t, countOf(f.ledger.Calls()[2:], sim.OpGetAccount))

	_, err = f.x.CancelPending(context.Background(), req)
	assert.ErrorIs(t, err, ErrPositionNotFound)
}

func TestCancelPendingLedgerStatus(t *testing.T) {
	f := newFixture(t)
	f.ledger.Fail(sim.OpCancelPending, &broker.StatusError{Op: "CancelPending", Status: broker.PositionNoLiquidity}, 1)

	_, err := f.x.CancelPending(context.Background(), CancelPendingRequest{TraderID: "trader-1", AccountID: "acct-1", PositionID: "x"})
	assert.ErrorIs(t, err, ErrNoLiquidity)
	assert.Equal(t, StatusNoLiquidity, CodeOf(err))
}

func TestCancelPendingTransportError(t *testing.T) {
	f := newFixture(t)
	f.ledger.Fail(sim.OpCancelPending, errors.New("reset"), 1)

	_, err := f.x.CancelPending(context.Background(), CancelPendingRequest{TraderID: "trader-1", AccountID: "acct-1", PositionID: "x"})
	assert.Equal(t, StatusTechError, CodeOf(err))
	assert.NotErrorIs(t, err, ErrNoLiquidity)
}
