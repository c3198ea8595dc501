package executor

import (
	"context"

	"github.com/rustyeddy/trading-executor/broker"
)

// ActivePositions lists an account's open positions. It never returns nil
// on success.
func (x *Executor) ActivePositions(ctx context.Context, traderID, accountID string) (out []broker.ActivePosition, err error) {
	start := x.now()
	defer func() { x.observe(opListActive, start, err) }()

	out, err = x.positions.ActivePositions(ctx, traderID, accountID)
	if err != nil {
		return nil, failf(StatusTechError, "list active positions: %w", err)
	}
	if out == nil {
		out = []broker.ActivePosition{}
	}
	return out, nil
}

// PendingPositions lists an account's pending orders. It never returns nil
// on success.
func (x *Executor) PendingPositions(ctx context.Context, traderID, accountID string) (out []broker.PendingPosition, err error) {
	start := x.now()
	defer func() { x.observe(opListPending, start, err) }()

	out, err = x.positions.PendingPositions(ctx, traderID, accountID)
	if err != nil {
		return nil, failf(StatusTechError, "list pending positions: %w", err)
	}
	if out == nil {
		out = []broker.PendingPosition{}
	}
	return out, nil
}
