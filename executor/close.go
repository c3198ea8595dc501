package executor

import (
	"context"
	"errors"

	"github.com/rustyeddy/trading-executor/broker"
)

type CloseRequest struct {
	TraderID   string
	AccountID  string
	PositionID string
	ProcessID  string
}

// ClosePosition closes an active position after checking that its
// instrument is tradable and priced.
func (x *Executor) ClosePosition(ctx context.Context, req CloseRequest) (pos broker.ClosedPosition, err error) {
	start := x.now()
	log := x.opLogger(opClose, req.ProcessID, req.TraderID, req.AccountID).With("position_id", req.PositionID)
	defer func() {
		x.observe(opClose, start, err)
		logResult(log, err)
	}()

	acct, err := x.account(ctx, req.TraderID, req.AccountID)
	if err != nil {
		return pos, err
	}

	active, err := x.positions.ActivePosition(ctx, req.TraderID, req.AccountID, req.PositionID)
	if errors.Is(err, broker.ErrPositionNotFound) {
		return pos, fail(StatusPositionNotFound, err)
	}
	if err != nil {
		return pos, failf(StatusTechError, "get active position: %w", err)
	}

	inst, err := x.instrument(ctx, active.AssetPair)
	if err != nil {
		return pos, err
	}
	if err := ValidateInstrumentDayOff(inst, x.now()); err != nil {
		return pos, err
	}
	if err := x.ValidateTimeout(ctx, x.collateral(acct), inst); err != nil {
		return pos, err
	}

	closed, err := x.positions.ClosePosition(ctx, broker.ClosePositionRequest{
		TraderID:   req.TraderID,
		AccountID:  req.AccountID,
		PositionID: req.PositionID,
		ProcessID:  req.ProcessID,
	})
	if err != nil {
		return pos, positionStatusError("close position", err)
	}
	return closed, nil
}
