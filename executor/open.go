package executor

import (
	"context"
	"errors"
	"time"

	"github.com/rustyeddy/trading-executor/broker"
	"github.com/rustyeddy/trading-executor/id"
	"github.com/shopspring/decimal"
)

const (
	opOpen        = "open"
	opClose       = "close"
	opOpenPending = "open_pending"
	opCancel      = "cancel_pending"
	opUpdateSlTp  = "update_sl_tp"
	opListActive  = "list_active"
	opListPending = "list_pending"

	compensationBackoff = 100 * time.Millisecond
)

type OpenRequest struct {
	TraderID     string
	AccountID    string
	ProcessID    string
	AssetPair    string
	Side         broker.Side
	InvestAmount decimal.Decimal
	Leverage     int32
	broker.SlTp
}

// OpenPosition validates the request against reference data, optionally
// routes it to the liquidity bridge, then debits the account and creates
// the position. A failed create is compensated by crediting the debit back.
func (x *Executor) OpenPosition(ctx context.Context, req OpenRequest) (pos broker.ActivePosition, err error) {
	start := x.now()
	log := x.opLogger(opOpen, req.ProcessID, req.TraderID, req.AccountID).With("asset_pair", req.AssetPair)
	defer func() {
		x.observe(opOpen, start, err)
		logResult(log, err)
	}()

	positionID := id.NewPosition()

	inst, err := x.instrument(ctx, req.AssetPair)
	if err != nil {
		return pos, err
	}
	if err := ValidateInstrumentDayOff(inst, x.now()); err != nil {
		return pos, err
	}

	acct, err := x.account(ctx, req.TraderID, req.AccountID)
	if err != nil {
		return pos, err
	}
	collateral := x.collateral(acct)
	if err := x.ValidateTimeout(ctx, collateral, inst); err != nil {
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
	if !req.InvestAmount.IsPositive() {
		return pos, failf(StatusOperationIsTooLow, "invest amount %s", req.InvestAmount)
	}

	delay := x.openDelay(policy)
	log.Debug("open delay", "delay", delay)
	if err := x.sleep(ctx, delay); err != nil {
		return pos, failf(StatusTechError, "open delay: %w", err)
	}

	// The bridge is called before the debit, so a venue reject never
	// needs compensation.
	if profile.IsABook {
		if err := x.routeABook(ctx, req, positionID); err != nil {
			return pos, err
		}
	}

	saga := x.newOpenSaga(req, positionID, log)
	return saga.run(ctx, broker.OpenPositionRequest{
		ID:               positionID,
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
		Collateral:       collateral,
		ToppingUpPercent: policy.ToppingUpPercent,
		SlTp:             req.SlTp,
	})
}

func (x *Executor) routeABook(ctx context.Context, req OpenRequest, positionID string) error {
	if x.bridge == nil {
		return failf(StatusABookReject, "a-book profile but no liquidity bridge configured")
	}
	bp, err := x.bridge.OpenPosition(ctx, broker.BridgeOpenRequest{
		InstrumentID: req.AssetPair,
		PositionID:   positionID,
		AccountID:    req.AccountID,
		Leverage:     float64(req.Leverage),
		InvestAmount: req.InvestAmount,
		Side:         req.Side,
	})
	if errors.Is(err, broker.ErrBridgeRejected) {
		return fail(StatusABookReject, err)
	}
	if err != nil {
		return failf(StatusTechError, "liquidity bridge: %w", err)
	}
	x.logger.Debug("a-book position placed", "process_id", req.ProcessID, "position_id", positionID, "venue_id", bp.ID, "price", bp.OpenPrice)
	return nil
}
