package executor

import (
	"context"

	"github.com/rustyeddy/trading-executor/broker"
	"github.com/rustyeddy/trading-executor/id"
)

type OpenPendingRequest struct {
	OpenRequest
	DesirePrice float64
}

type CancelPendingRequest struct {
	TraderID   string
	AccountID  string
	PositionID string
	ProcessID  string
}

// OpenPending places a limit order. It runs the same reference checks as
// OpenPosition but reserves no funds: there is no debit, delay or bridge.
func (x *Executor) OpenPending(ctx context.Context, req OpenPendingRequest) (pos broker.PendingPosition, err error) {
	start := x.now()
	log := x.opLogger(opOpenPending, req.ProcessID, req.TraderID, req.AccountID).With("asset_pair", req.AssetPair)
	defer func() {
		x.observe(opOpenPending, start, err)
		logResult(log, err)
	}()

	inst, err := x.instrument(ctx, req.AssetPair)
	if err != nil {
		return pos, err
	}
	acct, err := x.account(ctx, req.TraderID, req.AccountID)
	if err != nil {
		return pos, err
	}
	profile, err := x.profile(ctx, acct)
	if err != nil {
		return pos, err
	}
	policy, err := leveragePolicy(profile, req.AssetPair, req.Leverage)
	if err != nil {
		return pos, err
	}

	pending, err := x.positions.OpenPending(ctx, broker.OpenPendingRequest{
		OpenPositionRequest: broker.OpenPositionRequest{
			ID:               id.NewPosition(),
			TraderID:         req.TraderID,
			AccountID:        req.AccountID,
			AssetPair:        req.AssetPair,
			Side:             req.Side,
			InvestAmount:     req.InvestAmount,
			Leverage:         float64(req.Leverage),
			StopOutPercent:   profile.StopOutPercent,
			ProcessID:        req.ProcessID,
			Base:             inst.Base,
			Quote:            inst.Quote,
			Collateral:       x.collateral(acct),
			ToppingUpPercent: policy.ToppingUpPercent,
			SlTp:             req.SlTp,
		},
		DesirePrice: req.DesirePrice,
	})
	if err != nil {
		return pos, positionStatusError("open pending", err)
	}
	return pending, nil
}

// CancelPending is a pass-through to the position ledger.
func (x *Executor) CancelPending(ctx context.Context, req CancelPendingRequest) (pos broker.PendingPosition, err error) {
	start := x.now()
	log := x.opLogger(opCancel, req.ProcessID, req.TraderID, req.AccountID).With("position_id", req.PositionID)
	defer func() {
		x.observe(opCancel, start, err)
		logResult(log, err)
	}()

	pending, err := x.positions.CancelPending(ctx, broker.CancelPendingRequest{
		TraderID:   req.TraderID,
		AccountID:  req.AccountID,
		PositionID: req.PositionID,
		ProcessID:  req.ProcessID,
	})
	if err != nil {
		return pos, positionStatusError("cancel pending", err)
	}
	return pending, nil
}
