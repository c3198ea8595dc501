package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rustyeddy/trading-executor/broker"
	"github.com/rustyeddy/trading-executor/broker/sim"
	"github.com/rustyeddy/trading-executor/market"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenPositionEndToEnd(t *testing.T) {
	f := newFixture(t)
	req := openReq("acct-1", "EURUSD", 50, 100)
	tp := 1.2
	req.TpInAssetPrice = &tp

	pos, err := f.x.OpenPosition(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, pos.InvestAmount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 50.0, pos.Leverage)
	assert.Equal(t, "EURUSD", pos.AssetPair)
	assert.Equal(t, "USD", pos.Collateral)
	assert.Equal(t, "EUR", pos.Base)
	assert.Equal(t, 50.0, pos.StopOutPercent)
	assert.Equal(t, 10.0, pos.ToppingUpPercent)
	assert.Equal(t, "proc-1", pos.OpenProcessID)
	require.NotNil(t, pos.TpInAssetPrice)
	assert.Equal(t, 1.2, *pos.TpInAssetPrice)
	_, err = uuid.Parse(pos.ID)
	assert.NoError(t, err, "position id is a uuid")

	assert.True(t, f.balance("acct-1").Equal(decimal.NewFromInt(900)), "balance %s", f.balance("acct-1"))
	assert.Equal(t, []string{sim.OpGetAccount, sim.OpUpdateBalance, sim.OpOpenPosition}, f.ledger.Calls())
	assert.Equal(t, []string{"Debited", "Created"}, f.journal.states())
	assert.Equal(t, "Ok", f.metrics.ops[opOpen])

	debit := f.ledger.BalanceUpdates()[0]
	assert.True(t, debit.Delta.Equal(decimal.NewFromInt(-100)))
	assert.False(t, debit.AllowNegativeBalance)
	assert.Equal(t, broker.ReasonTradingResult, debit.Reason)
	assert.Equal(t, "proc-1", debit.ProcessID)
	assert.Equal(t, f.journal.recs[0].SagaID+":debit", debit.ReferenceTxID)
}

func TestOpenPositionCollateralFallback(t *testing.T) {
	f := newFixture(t, WithDefaultCollateral("USD"))
	f.ledger.AddAccount(broker.Account{
		TraderID: "trader-1", AccountID: "acct-nocur", Balance: decimal.NewFromInt(1000), TradingGroup: "tg-1",
	})

	pos, err := f.x.OpenPosition(context.Background(), openReq("acct-nocur", "EURUSD", 10, 100))
	require.NoError(t, err)
	assert.Equal(t, "USD", pos.Collateral)
}

func TestOpenPositionRejections(t *testing.T) {
	staleSeed := func(f *fixture) {
		q, _ := f.snap.Quotes.Get(market.BidAskPartition, "EURUSD")
		q.UnixTimestampMillis = testNow.Add(-time.Minute).UnixMilli()
		f.snap.Quotes.Upsert(q)
	}

	tests := []struct {
		name  string
		req   OpenRequest
		setup func(f *fixture)
		want  *Error
	}{
		{name: "unknown instrument", req: openReq("acct-1", "USDJPY", 10, 100), want: ErrInstrumentNotFound},
		{name: "day off", req: openReq("acct-1", "XAUUSD", 10, 100), want: ErrDayOff},
		{name: "unknown account", req: openReq("acct-x", "EURUSD", 10, 100), want: ErrAccountNotFound},
		{name: "stale quote", req: openReq("acct-1", "EURUSD", 10, 100), setup: staleSeed, want: ErrNoLiquidity},
		{name: "missing group", req: openReq("acct-nogroup", "EURUSD", 10, 100), want: ErrTradingGroupNotFound},
		{name: "missing profile", req: openReq("acct-noprofile", "EURUSD", 10, 100), want: ErrTradingProfileNotFound},
		{name: "instrument not in profile", req: openReq("acct-1", "GBPUSD", 10, 100), want: ErrTradingProfileInstrumentNotFound},
		{name: "leverage not allowed", req: openReq("acct-1", "EURUSD", 20, 100), want: ErrMultiplierIsNotFound},
		{name: "zero amount", req: openReq("acct-1", "EURUSD", 10, 0), want: ErrOperationIsTooLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}

			_, err := f.x.OpenPosition(context.Background(), tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.want.Code, CodeOf(err))

			assert.Zero(t, countOf(f.ledger.Calls(), sim.OpUpdateBalance), "no balance mutation")
			assert.Zero(t, countOf(f.ledger.Calls(), sim.OpOpenPosition))
			assert.True(t, f.balance("acct-1").Equal(decimal.NewFromInt(1000)))
			assert.Empty(t, f.journal.states())
		})
	}
}

func TestOpenPositionLeverageAlwaysChecked(t *testing.T) {
	f := newFixture(t)
	tp, sl := 5.0, 2.0

	variants := []OpenRequest{
		openReq("acct-1", "EURUSD", 0, 100),
		openReq("acct-1", "EURUSD", 1000, 1),
		openReq("acct-1", "EURUSD", -10, 1_000_000),
		{TraderID: "trader-1", AccountID: "acct-1", AssetPair: "EURUSD", Side: broker.SideSell, InvestAmount: decimal.NewFromInt(-5), Leverage: 11,
			SlTp: broker.SlTp{TpInProfit: &tp, SlInProfit: &sl}},
	}
	for _, req := range variants {
		_, err := f.x.OpenPosition(context.Background(), req)
		assert.Equal(t, StatusMultiplierIsNotFound, CodeOf(err), "leverage %d", req.Leverage)
	}
}

func TestOpenPositionDebitFailures(t *testing.T) {
	t.Run("not enough balance", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.x.OpenPosition(context.Background(), openReq("acct-1", "EURUSD", 10, 5000))
		assert.ErrorIs(t, err, ErrNotEnoughBalance)
		assert.Zero(t, countOf(f.ledger.Calls(), sim.OpOpenPosition))
		assert.Empty(t, f.journal.states())
	})

	t.Run("transport error, no compensation", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.Fail(sim.OpUpdateBalance, errors.New("connection reset"), 1)

		_, err := f.x.OpenPosition(context.Background(), openReq("acct-1", "EURUSD", 10, 100))
		assert.Equal(t, StatusTechError, CodeOf(err))
		assert.Equal(t, 1, countOf(f.ledger.Calls(), sim.OpUpdateBalance))
		assert.Zero(t, countOf(f.ledger.Calls(), sim.OpOpenPosition))
		assert.True(t, f.balance("acct-1").Equal(decimal.NewFromInt(1000)))
	})

	t.Run("account lookup transport error", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.Fail(sim.OpGetAccount, errors.New("deadline exceeded"), 1)

		_, err := f.x.OpenPosition(context.Background(), openReq("acct-1", "EURUSD", 10, 100))
		assert.Equal(t, StatusTechError, CodeOf(err))
		assert.NotErrorIs(t, err, ErrAccountNotFound)
	})
}

func TestOpenPositionCompensation(t *testing.T) {
	tests := []struct {
		name  string
		inject error
	}{
		{"transport failure", errors.New("position ledger unavailable")},
		{"ledger status", &broker.StatusError{Op: "OpenPosition", Status: broker.PositionNoLiquidity}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.ledger.Fail(sim.OpOpenPosition, tt.inject, 1)

			_, err := f.x.OpenPosition(context.Background(), openReq("acct-1", "EURUSD", 10, 100))
			require.Error(t, err)
			assert.Equal(t, StatusTechError, CodeOf(err))
			assert.ErrorIs(t, err, tt.inject)
			assert.NotErrorIs(t, err, ErrCompensationFailed)

			assert.True(t, f.balance("acct-1").Equal(decimal.NewFromInt(1000)), "balance restored, got %s", f.balance("acct-1"))

			updates := f.ledger.BalanceUpdates()
			require.Len(t, updates, 2)
			assert.True(t, updates[1].Delta.Equal(decimal.NewFromInt(100)))
			assert.True(t, updates[1].AllowNegativeBalance)
			assert.Equal(t, "proc-1", updates[1].ProcessID)

			assert.Equal(t, []string{"Debited", "CompensationPending", "CompensationDone"}, f.journal.states())
			assert.Equal(t, tt.inject.Error(), f.journal.recs[1].Error)
			assert.Empty(t, f.esc.got)
			assert.Zero(t, f.metrics.compFails)
		})
	}
}

// creditFailingLedger accepts debits and fails every credit.
type creditFailingLedger struct {
	*sim.Engine
	err     error
	credits int
}

func (l *creditFailingLedger) UpdateBalance(ctx context.Context, upd broker.BalanceUpdate) (broker.OperationResult, error) {
	if upd.Delta.IsPositive() {
		l.credits++
		return 0, l.err
	}
	return l.Engine.UpdateBalance(ctx, upd)
}

func TestOpenPositionCompensationFailed(t *testing.T) {
	f := newFixture(t)
	creditErr := errors.New("accounts manager down")
	accounts := &creditFailingLedger{Engine: f.ledger, err: creditErr}
	f.x.accounts = accounts

	createErr := errors.New("position ledger unavailable")
	f.ledger.Fail(sim.OpOpenPosition, createErr, 1)

	_, err := f.x.OpenPosition(context.Background(), openReq("acct-1", "EURUSD", 10, 100))
	require.Error(t, err)
	assert.Equal(t, StatusTechError, CodeOf(err))
	assert.ErrorIs(t, err, ErrCompensationFailed)
	assert.ErrorIs(t, err, createErr)
	assert.ErrorIs(t, err, creditErr)

	assert.Equal(t, DefaultCompensationAttempts, accounts.credits)
	// The zero open delay, then the backoff between the three attempts.
	assert.Equal(t, []time.Duration{0, compensationBackoff, 2 * compensationBackoff}, f.sleeps)

	assert.Equal(t, []string{"Debited", "CompensationPending", "CompensationFailed"}, f.journal.states())
	assert.Equal(t, creditErr.Error(), f.journal.recs[2].Error)
	assert.Equal(t, 1, f.metrics.compFails)

	require.Len(t, f.esc.got, 1)
	esc := f.esc.got[0]
	assert.Equal(t, "proc-1", esc.ProcessID)
	assert.Equal(t, "acct-1", esc.AccountID)
	assert.True(t, esc.Amount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, createErr.Error(), esc.CreateError)
	assert.Equal(t, creditErr.Error(), esc.CompensationErr)
	assert.Equal(t, f.journal.recs[0].SagaID, esc.SagaID)

	// The debit stands and is on record.
	assert.True(t, f.balance("acct-1").Equal(decimal.NewFromInt(900)))
}

// lostAckLedger applies the first credit and then reports a timeout, as if
// the reply was lost on the way back.
type lostAckLedger struct {
	*sim.Engine
	credits []broker.BalanceUpdate
}

func (l *lostAckLedger) UpdateBalance(ctx context.Context, upd broker.BalanceUpdate) (broker.OperationResult, error) {
	res, err := l.Engine.UpdateBalance(ctx, upd)
	if !upd.Delta.IsPositive() {
		return res, err
	}
	l.credits = append(l.credits, upd)
	if len(l.credits) == 1 {
		return 0, context.DeadlineExceeded
	}
	return res, err
}

func TestCompensationRetryAfterLostReply(t *testing.T) {
	f := newFixture(t)
	accounts := &lostAckLedger{Engine: f.ledger}
	f.x.accounts = accounts
	f.ledger.Fail(sim.OpOpenPosition, errors.New("position ledger unavailable"), 1)

	_, err := f.x.OpenPosition(context.Background(), openReq("acct-1", "EURUSD", 10, 100))
	assert.Equal(t, StatusTechError, CodeOf(err))
	assert.NotErrorIs(t, err, ErrCompensationFailed)

	require.Len(t, accounts.credits, 2)
	ref := accounts.credits[0].ReferenceTxID
	assert.Equal(t, f.journal.recs[0].SagaID+":credit", ref)
	assert.Equal(t, ref, accounts.credits[1].ReferenceTxID, "retry reuses the reference")

	assert.True(t, f.balance("acct-1").Equal(decimal.NewFromInt(1000)), "credited once, got %s", f.balance("acct-1"))
	assert.Equal(t, []string{"Debited", "CompensationPending", "CompensationDone"}, f.journal.states())
	assert.Empty(t, f.esc.got)
}

// cancellingPositions cancels the caller's context and then fails the create.
type cancellingPositions struct {
	*sim.Engine
	cancel context.CancelFunc
}

func (p *cancellingPositions) OpenPosition(ctx context.Context, req broker.OpenPositionRequest) (broker.ActivePosition, error) {
	p.cancel()
	return broker.ActivePosition{}, context.Canceled
}

func TestCompensationSurvivesCallerCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.x.positions = &cancellingPositions{Engine: f.ledger, cancel: cancel}

	_, err := f.x.OpenPosition(ctx, openReq("acct-1", "EURUSD", 10, 100))
	assert.Equal(t, StatusTechError, CodeOf(err))
	assert.NotErrorIs(t, err, ErrCompensationFailed)
	assert.True(t, f.balance("acct-1").Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, []string{"Debited", "CompensationPending", "CompensationDone"}, f.journal.states())
}

func TestOpenPositionABook(t *testing.T) {
	t.Run("no bridge configured", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.x.OpenPosition(context.Background(), openReq("acct-abook", "EURUSD", 10, 100))
		assert.ErrorIs(t, err, ErrABookReject)
		assert.Zero(t, countOf(f.ledger.Calls(), sim.OpUpdateBalance))
	})

	t.Run("routed before debit", func(t *testing.T) {
		f := newFixture(t)
		bridge := f.ledger.Bridge()
		f.x.bridge = bridge

		pos, err := f.x.OpenPosition(context.Background(), openReq("acct-abook", "EURUSD", 10, 100))
		require.NoError(t, err)
		assert.Equal(t, []string{sim.OpGetAccount, sim.OpBridgeOpen, sim.OpUpdateBalance, sim.OpOpenPosition}, f.ledger.Calls())

		sent := bridge.Bridged()
		require.Len(t, sent, 1)
		assert.Equal(t, pos.ID, sent[0].PositionID, "bridge and ledger share the position id")
		assert.Equal(t, 10.0, sent[0].Leverage)
	})

	t.Run("venue reject leaves balance untouched", func(t *testing.T) {
		f := newFixture(t)
		f.x.bridge = f.ledger.Bridge()
		f.ledger.Fail(sim.OpBridgeOpen, &broker.BridgeRejectError{StatusCode: 2, Message: "halted"}, 1)

		_, err := f.x.OpenPosition(context.Background(), openReq("acct-abook", "EURUSD", 10, 100))
		assert.ErrorIs(t, err, ErrABookReject)
		assert.Zero(t, countOf(f.ledger.Calls(), sim.OpUpdateBalance))
		assert.True(t, f.balance("acct-abook").Equal(decimal.NewFromInt(1000)))
		assert.Empty(t, f.journal.states())
	})

	t.Run("bridge transport error", func(t *testing.T) {
		f := newFixture(t)
		f.x.bridge = f.ledger.Bridge()
		f.ledger.Fail(sim.OpBridgeOpen, errors.New("dial tcp: refused"), 1)

		_, err := f.x.OpenPosition(context.Background(), openReq("acct-abook", "EURUSD", 10, 100))
		assert.Equal(t, StatusTechError, CodeOf(err))
		assert.Zero(t, countOf(f.ledger.Calls(), sim.OpUpdateBalance))
	})

	t.Run("b-book profile never touches the bridge", func(t *testing.T) {
		f := newFixture(t)
		f.x.bridge = f.ledger.Bridge()
		_, err := f.x.OpenPosition(context.Background(), openReq("acct-1", "EURUSD", 10, 100))
		require.NoError(t, err)
		assert.Zero(t, countOf(f.ledger.Calls(), sim.OpBridgeOpen))
	})
}

func TestOpenDelay(t *testing.T) {
	setDelay := func(f *fixture, lo, hi int32) {
		p, _ := f.snap.Profiles.Get(market.TradingProfilePartition, "tp-1")
		p.Instruments[0].OpenPositionMinDelayMs = lo
		p.Instruments[0].OpenPositionMaxDelayMs = hi
		f.snap.Profiles.Upsert(p)
	}

	t.Run("uniform in range", func(t *testing.T) {
		var gotN int64
		f := newFixture(t, WithRand(func(n int64) int64 { gotN = n; return 50 }))
		setDelay(f, 100, 300)

		_, err := f.x.OpenPosition(context.Background(), openReq("acct-1", "EURUSD", 10, 100))
		require.NoError(t, err)
		assert.Equal(t, int64(200), gotN)
		assert.Equal(t, []time.Duration{150 * time.Millisecond}, f.sleeps)
	})

	t.Run("max not above min", func(t *testing.T) {
		called := false
		f := newFixture(t, WithRand(func(n int64) int64 { called = true; return 0 }))
		setDelay(f, 100, 100)

		_, err := f.x.OpenPosition(context.Background(), openReq("acct-1", "EURUSD", 10, 100))
		require.NoError(t, err)
		assert.False(t, called)
		assert.Equal(t, []time.Duration{100 * time.Millisecond}, f.sleeps)
	})

	t.Run("cancelled during delay", func(t *testing.T) {
		f := newFixture(t, WithSleep(sleepCtx))
		setDelay(f, 60_000, 60_000)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		start := time.Now()
		_, err := f.x.OpenPosition(ctx, openReq("acct-1", "EURUSD", 10, 100))
		assert.Less(t, time.Since(start), 10*time.Second)
		assert.Equal(t, StatusTechError, CodeOf(err))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, countOf(f.ledger.Calls(), sim.OpUpdateBalance))
	})
}
