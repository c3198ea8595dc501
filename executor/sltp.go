package executor

import (
	"context"

	"github.com/rustyeddy/trading-executor/broker"
)

type UpdateSlTpRequest struct {
	TraderID   string
	AccountID  string
	PositionID string
	ProcessID  string
	broker.SlTp
}

// UpdateSlTp amends the stop-loss and take-profit of an active position.
// The account must belong to a resolvable trading group and profile.
func (x *Executor) UpdateSlTp(ctx context.Context, req UpdateSlTpRequest) (pos broker.ActivePosition, err error) {
	start := x.now()
	log := x.opLogger(opUpdateSlTp, req.ProcessID, req.TraderID, req.AccountID).With("position_id", req.PositionID)
	defer func() {
		x.observe(opUpdateSlTp, start, err)
		logResult(log, err)
	}()

	acct, err := x.account(ctx, req.TraderID, req.AccountID)
	if err != nil {
		return pos, err
	}
	if _, err := x.profile(ctx, acct); err != nil {
		return pos, err
	}

	updated, err := x.positions.UpdateSlTp(ctx, broker.UpdateSlTpRequest{
		TraderID:   req.TraderID,
		AccountID:  req.AccountID,
		PositionID: req.PositionID,
		ProcessID:  req.ProcessID,
		SlTp:       req.SlTp,
	})
	if err != nil {
		return pos, positionStatusError("update sl/tp", err)
	}
	return updated, nil
}
