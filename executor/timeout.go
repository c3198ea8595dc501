package executor

import (
	"context"
	"time"

	"github.com/rustyeddy/trading-executor/market"
)

// ValidateTimeout checks that every quote needed to value a position in
// collateral is fresh: base/collateral and quote/collateral cross rates
// when the currencies differ, then the instrument's own quote.
func (x *Executor) ValidateTimeout(ctx context.Context, collateral string, inst market.Instrument) error {
	quotes := x.ref.BidAsks(ctx)
	if len(quotes) == 0 {
		return failf(StatusNoLiquidity, "bid/ask snapshot is empty")
	}
	now := x.now()

	for _, ccy := range []string{inst.Base, inst.Quote} {
		if ccy == collateral {
			continue
		}
		if err := x.validateCross(ctx, quotes, ccy, collateral, now); err != nil {
			return err
		}
	}

	for _, q := range quotes {
		if q.ID == inst.ID {
			return validateQuoteAge(inst, q, now)
		}
	}
	return failf(StatusNoLiquidity, "no quote for %s", inst.ID)
}

func (x *Executor) validateCross(ctx context.Context, quotes []market.BidAsk, ccy, collateral string, now time.Time) error {
	for _, q := range quotes {
		if !q.Pairs(ccy, collateral) {
			continue
		}
		inst, ok := x.ref.Instrument(ctx, q.ID)
		if !ok {
			return failf(StatusInstrumentNotFound, "cross instrument %s", q.ID)
		}
		return validateQuoteAge(inst, q, now)
	}
	return failf(StatusNoLiquidity, "no %s/%s cross quote", ccy, collateral)
}

// validateQuoteAge applies the instrument's day timeout, or its night
// timeout when no day timeout is set. With neither, any age passes.
func validateQuoteAge(inst market.Instrument, q market.BidAsk, now time.Time) error {
	timeout := inst.DayTimeout
	if timeout == nil {
		timeout = inst.NightTimeout
	}
	if timeout == nil {
		return nil
	}

	age := now.Sub(q.Time())
	if age > time.Duration(*timeout)*time.Second {
		return failf(StatusNoLiquidity, "quote %s is %s old, limit %ds", q.ID, age, *timeout)
	}
	return nil
}
