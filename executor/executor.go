// Package executor runs position-lifecycle operations against the account
// and position ledgers: open, close, pending orders, SL/TP amendment and
// position listings. It holds no state between requests.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/rustyeddy/trading-executor/broker"
	"github.com/rustyeddy/trading-executor/journal"
	"github.com/rustyeddy/trading-executor/market"
	"github.com/rustyeddy/trading-executor/refdata"
	"github.com/shopspring/decimal"
)

const (
	DefaultCollateral           = "USD"
	DefaultCompensationTimeout  = 5 * time.Second
	DefaultCompensationAttempts = 3
)

// Metrics receives operation outcomes and saga transitions.
type Metrics interface {
	ObserveOperation(op, status string, d time.Duration)
	SagaTransition(op, state string)
	CompensationFailure(op string)
}

// Escalation describes a debit that could not be reversed.
type Escalation struct {
	SagaID          string          `json:"saga_id"`
	ProcessID       string          `json:"process_id"`
	TraderID        string          `json:"trader_id"`
	AccountID       string          `json:"account_id"`
	PositionID      string          `json:"position_id"`
	AssetPair       string          `json:"asset_pair"`
	Amount          decimal.Decimal `json:"amount"`
	CreateError     string          `json:"create_error"`
	CompensationErr string          `json:"compensation_error"`
	Time            time.Time       `json:"time"`
}

// Escalator pages a human about a failed compensation.
type Escalator interface {
	Escalate(ctx context.Context, e Escalation) error
}

type Executor struct {
	ref       refdata.Reader
	accounts  broker.AccountLedger
	positions broker.PositionLedger
	bridge    broker.LiquidityBridge

	logger    *slog.Logger
	journal   journal.Journal
	metrics   Metrics
	escalator Escalator

	now   func() time.Time
	randN func(n int64) int64
	sleep func(ctx context.Context, d time.Duration) error

	defaultCollateral    string
	compensationTimeout  time.Duration
	compensationAttempts int
}

type Option func(*Executor)

// WithBridge enables A-Book routing. Without it, A-Book profiles are rejected.
func WithBridge(b broker.LiquidityBridge) Option {
	return func(x *Executor) { x.bridge = b }
}

func WithLogger(l *slog.Logger) Option {
	return func(x *Executor) { x.logger = l }
}

func WithJournal(j journal.Journal) Option {
	return func(x *Executor) { x.journal = j }
}

func WithMetrics(m Metrics) Option {
	return func(x *Executor) { x.metrics = m }
}

func WithEscalator(e Escalator) Option {
	return func(x *Executor) { x.escalator = e }
}

func WithClock(now func() time.Time) Option {
	return func(x *Executor) { x.now = now }
}

// WithRand replaces the source of the open delay. randN must return a
// value in [0, n).
func WithRand(randN func(n int64) int64) Option {
	return func(x *Executor) { x.randN = randN }
}

func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(x *Executor) { x.sleep = sleep }
}

func WithDefaultCollateral(ccy string) Option {
	return func(x *Executor) { x.defaultCollateral = ccy }
}

func WithCompensation(timeout time.Duration, attempts int) Option {
	return func(x *Executor) {
		x.compensationTimeout = timeout
		x.compensationAttempts = attempts
	}
}

func New(ref refdata.Reader, accounts broker.AccountLedger, positions broker.PositionLedger, opts ...Option) *Executor {
	x := &Executor{
		ref:                  ref,
		accounts:             accounts,
		positions:            positions,
		logger:               slog.Default(),
		journal:              journal.Nop{},
		metrics:              nopMetrics{},
		now:                  time.Now,
		randN:                rand.Int64N,
		sleep:                sleepCtx,
		defaultCollateral:    DefaultCollateral,
		compensationTimeout:  DefaultCompensationTimeout,
		compensationAttempts: DefaultCompensationAttempts,
	}
	for _, o := range opts {
		o(x)
	}
	if x.compensationAttempts < 1 {
		x.compensationAttempts = 1
	}
	if x.compensationTimeout <= 0 {
		x.compensationTimeout = DefaultCompensationTimeout
	}
	return x
}

type nopMetrics struct{}

func (nopMetrics) ObserveOperation(string, string, time.Duration) {}
func (nopMetrics) SagaTransition(string, string)                  {}
func (nopMetrics) CompensationFailure(string)                     {}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// observe is deferred by every operation.
func (x *Executor) observe(op string, start time.Time, err error) {
	x.metrics.ObserveOperation(op, CodeOf(err).String(), x.now().Sub(start))
}

func (x *Executor) opLogger(op, processID, traderID, accountID string) *slog.Logger {
	return x.logger.With("op", op, "process_id", processID, "trader_id", traderID, "account_id", accountID)
}

// logResult logs a finished operation: rejections at Info, TechError at Error.
func logResult(log *slog.Logger, err error) {
	switch code := CodeOf(err); code {
	case StatusOk:
		log.Debug("operation done")
	case StatusTechError:
		log.Error("operation failed", "status", code.String(), "error", err)
	default:
		log.Info("operation rejected", "status", code.String(), "error", err)
	}
}

func (x *Executor) account(ctx context.Context, traderID, accountID string) (broker.Account, error) {
	acct, err := x.accounts.GetAccount(ctx, traderID, accountID)
	if errors.Is(err, broker.ErrAccountNotFound) {
		return acct, fail(StatusAccountNotFound, err)
	}
	if err != nil {
		return acct, failf(StatusTechError, "get account: %w", err)
	}
	return acct, nil
}

func (x *Executor) instrument(ctx context.Context, assetPair string) (market.Instrument, error) {
	inst, ok := x.ref.Instrument(ctx, assetPair)
	if !ok {
		return inst, failf(StatusInstrumentNotFound, "instrument %q", assetPair)
	}
	return inst, nil
}

// profile resolves the account's trading group and then its trading profile.
func (x *Executor) profile(ctx context.Context, acct broker.Account) (market.TradingProfile, error) {
	group, ok := x.ref.TradingGroup(ctx, acct.TradingGroup)
	if !ok {
		return market.TradingProfile{}, failf(StatusTradingGroupNotFound, "trading group %q", acct.TradingGroup)
	}
	profile, ok := x.ref.TradingProfile(ctx, group.TradingProfileID)
	if !ok {
		return market.TradingProfile{}, failf(StatusTradingProfileNotFound, "trading profile %q", group.TradingProfileID)
	}
	return profile, nil
}

// leveragePolicy finds the profile's policy for assetPair and checks leverage against it.
func leveragePolicy(profile market.TradingProfile, assetPair string, leverage int32) (market.ProfileInstrument, error) {
	pi, ok := profile.Instrument(assetPair)
	if !ok {
		return pi, failf(StatusTradingProfileInstrumentNotFound, "profile %q has no %q", profile.ID, assetPair)
	}
	if !pi.AllowsLeverage(leverage) {
		return pi, failf(StatusMultiplierIsNotFound, "leverage %d not in %v", leverage, pi.Leverages)
	}
	return pi, nil
}

func (x *Executor) collateral(acct broker.Account) string {
	if acct.Currency != "" {
		return acct.Currency
	}
	return x.defaultCollateral
}

// openDelay is uniform in [min, max) milliseconds, or min when max <= min.
func (x *Executor) openDelay(pi market.ProfileInstrument) time.Duration {
	lo, hi := int64(pi.OpenPositionMinDelayMs), int64(pi.OpenPositionMaxDelayMs)
	if lo < 0 {
		lo = 0
	}
	ms := lo
	if hi > lo {
		ms = lo + x.randN(hi-lo)
	}
	return time.Duration(ms) * time.Millisecond
}

// positionStatusError maps a position ledger failure to the taxonomy.
func positionStatusError(op string, err error) error {
	switch {
	case errors.Is(err, broker.ErrNoLiquidity):
		return fail(StatusNoLiquidity, err)
	case errors.Is(err, broker.ErrPositionNotFound):
		return fail(StatusPositionNotFound, err)
	default:
		return fail(StatusTechError, fmt.Errorf("%s: %w", op, err))
	}
}
