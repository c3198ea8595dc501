package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rustyeddy/trading-executor/broker"
	"github.com/rustyeddy/trading-executor/broker/sim"
	"github.com/rustyeddy/trading-executor/journal"
	"github.com/rustyeddy/trading-executor/market"
	"github.com/rustyeddy/trading-executor/refdata"
	"github.com/shopspring/decimal"
)

// Tuesday, outside every day-off window used below.
var testNow = time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

type testJournal struct {
	mu   sync.Mutex
	recs []journal.SagaRecord
}

func (j *testJournal) RecordSaga(_ context.Context, rec journal.SagaRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recs = append(j.recs, rec)
	return nil
}

func (j *testJournal) Close() error { return nil }

func (j *testJournal) states() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, 0, len(j.recs))
	for _, r := range j.recs {
		out = append(out, r.State)
	}
	return out
}

type testMetrics struct {
	mu          sync.Mutex
	ops         map[string]string
	transitions []string
	compFails   int
}

func (m *testMetrics) ObserveOperation(op, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ops == nil {
		m.ops = map[string]string{}
	}
	m.ops[op] = status
}

func (m *testMetrics) SagaTransition(_, state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, state)
}

func (m *testMetrics) CompensationFailure(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compFails++
}

type testEscalator struct {
	mu   sync.Mutex
	got  []Escalation
	errs []error
}

func (e *testEscalator) Escalate(ctx context.Context, esc Escalation) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got = append(e.got, esc)
	e.errs = append(e.errs, ctx.Err())
	return nil
}

type fixture struct {
	t       *testing.T
	x       *Executor
	ledger  *sim.Engine
	snap    *refdata.Snapshot
	journal *testJournal
	metrics *testMetrics
	esc     *testEscalator
	sleeps  []time.Duration
}

func testSeed() *refdata.Seed {
	quoteAt := testNow.Add(-5 * time.Second).UnixMilli()
	return &refdata.Seed{
		Instruments: []market.Instrument{
			{ID: "EURUSD", Base: "EUR", Quote: "USD", Digits: 5, DayTimeout: market.Seconds(30)},
			{ID: "GBPUSD", Base: "GBP", Quote: "USD", Digits: 5, DayTimeout: market.Seconds(30)},
			{ID: "EURGBP", Base: "EUR", Quote: "GBP", Digits: 5, DayTimeout: market.Seconds(30)},
			{ID: "XAUUSD", Base: "XAU", Quote: "USD", Digits: 2, DaysOff: []market.DayOff{
				{DowFrom: 2, TimeFrom: "09:00:00", DowTo: 2, TimeTo: "11:00:00"},
			}},
		},
		TradingGroups: []market.TradingGroup{
			{ID: "tg-1", TradingProfileID: "tp-1"},
			{ID: "tg-abook", TradingProfileID: "tp-abook"},
			{ID: "tg-orphan", TradingProfileID: "tp-missing"},
		},
		TradingProfiles: []market.TradingProfile{
			{ID: "tp-1", StopOutPercent: 50, Instruments: []market.ProfileInstrument{
				{ID: "EURUSD", Leverages: []int32{10, 50, 100}, ToppingUpPercent: 10},
				{ID: "EURGBP", Leverages: []int32{10}},
				{ID: "XAUUSD", Leverages: []int32{10}},
			}},
			{ID: "tp-abook", IsABook: true, StopOutPercent: 40, Instruments: []market.ProfileInstrument{
				{ID: "EURUSD", Leverages: []int32{10}},
			}},
		},
		BidAsks: []market.BidAsk{
			{ID: "EURUSD", Base: "EUR", Quote: "USD", Bid: 1.0998, Ask: 1.1000, UnixTimestampMillis: quoteAt},
			{ID: "GBPUSD", Base: "GBP", Quote: "USD", Bid: 1.2698, Ask: 1.2700, UnixTimestampMillis: quoteAt},
			{ID: "EURGBP", Base: "EUR", Quote: "GBP", Bid: 0.8660, Ask: 0.8662, UnixTimestampMillis: quoteAt},
			{ID: "XAUUSD", Base: "XAU", Quote: "USD", Bid: 2050, Ask: 2051, UnixTimestampMillis: quoteAt},
		},
	}
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	snap := refdata.NewSnapshot()
	snap.Apply(testSeed())

	ledger := sim.NewEngine()
	ledger.Now = func() time.Time { return testNow }
	ledger.SetQuote("EURUSD", 1.0998, 1.1000)
	ledger.SetQuote("EURGBP", 0.8660, 0.8662)
	for _, a := range []struct{ id, group string }{
		{"acct-1", "tg-1"},
		{"acct-abook", "tg-abook"},
		{"acct-nogroup", "tg-missing"},
		{"acct-noprofile", "tg-orphan"},
	} {
		ledger.AddAccount(broker.Account{
			TraderID:     "trader-1",
			AccountID:    a.id,
			Balance:      decimal.NewFromInt(1000),
			Currency:     "USD",
			TradingGroup: a.group,
		})
	}

	f := &fixture{
		t:       t,
		ledger:  ledger,
		snap:    snap,
		journal: &testJournal{},
		metrics: &testMetrics{},
		esc:     &testEscalator{},
	}

	base := []Option{
		WithClock(func() time.Time { return testNow }),
		WithJournal(f.journal),
		WithMetrics(f.metrics),
		WithEscalator(f.esc),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			f.sleeps = append(f.sleeps, d)
			return ctx.Err()
		}),
	}
	f.x = New(snap, ledger, ledger, append(base, opts...)...)
	return f
}

func (f *fixture) balance(accountID string) decimal.Decimal {
	f.t.Helper()
	acct, ok := f.ledger.Account("trader-1", accountID)
	if !ok {
		f.t.Fatalf("no account %s", accountID)
	}
	return acct.Balance
}

func openReq(accountID, assetPair string, leverage int32, amount int64) OpenRequest {
	return OpenRequest{
		TraderID:     "trader-1",
		AccountID:    accountID,
		ProcessID:    "proc-1",
		AssetPair:    assetPair,
		Side:         broker.SideBuy,
		InvestAmount: decimal.NewFromInt(amount),
		Leverage:     leverage,
	}
}

func countOf(calls []string, op string) int {
	n := 0
	for _, c := range calls {
		if c == op {
			n++
		}
	}
	return n
}
