package sim

import (
	"context"
	"slices"

	"github.com/rustyeddy/trading-executor/broker"
)

// Bridge is a liquidity bridge that shares the engine's call log, so tests
// can assert the order of bridge and ledger calls.
type Bridge struct {
	e *Engine
}

var _ broker.LiquidityBridge = (*Bridge)(nil)

func (e *Engine) Bridge() *Bridge {
	return &Bridge{e: e}
}

func (b *Bridge) OpenPosition(ctx context.Context, req broker.BridgeOpenRequest) (broker.BridgePosition, error) {
	e := b.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enterLocked(OpBridgeOpen); err != nil {
		return broker.BridgePosition{}, err
	}
	if err := ctx.Err(); err != nil {
		return broker.BridgePosition{}, err
	}
	e.bridged = append(e.bridged, req)

	q, ok := e.quotes[req.InstrumentID]
	if !ok {
		return broker.BridgePosition{}, &broker.BridgeRejectError{StatusCode: 1, Message: "no liquidity"}
	}
	price := q.ask
	if req.Side == broker.SideSell {
		price = q.bid
	}
	return broker.BridgePosition{
		ID:           req.PositionID,
		InstrumentID: req.InstrumentID,
		OpenPrice:    price,
		Volume:       req.InvestAmount.InexactFloat64() * req.Leverage,
	}, nil
}

// Bridged returns every request that reached the bridge.
func (b *Bridge) Bridged() []broker.BridgeOpenRequest {
	b.e.mu.Lock()
	defer b.e.mu.Unlock()
	return slices.Clone(b.e.bridged)
}
