// Package sim is an in-memory account and position ledger. It backs the
// ledger-sim command and the demo, and is the main test double for the
// executor: every call is recorded and any operation can be made to fail.
package sim

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rustyeddy/trading-executor/broker"
)

// Operation names as recorded by Calls and accepted by Fail.
const (
	OpGetAccount       = "GetAccount"
	OpUpdateBalance    = "UpdateBalance"
	OpOpenPosition     = "OpenPosition"
	OpClosePosition    = "ClosePosition"
	OpActivePosition   = "ActivePosition"
	OpOpenPending      = "OpenPending"
	OpCancelPending    = "CancelPending"
	OpUpdateSlTp       = "UpdateSlTp"
	OpActivePositions  = "ActivePositions"
	OpPendingPositions = "PendingPositions"
	OpBridgeOpen       = "BridgeOpen"
)

type quote struct {
	bid, ask float64
	at       time.Time
}

type fault struct {
	err       error
	remaining int // < 0 means until cleared
}

type Engine struct {
	mu       sync.Mutex
	accounts map[string]*broker.Account
	active   map[string]broker.ActivePosition
	pending  map[string]broker.PendingPosition
	quotes   map[string]quote
	faults   map[string]*fault
	calls    []string
	updates  []broker.BalanceUpdate
	applied  map[string]struct{}
	bridged  []broker.BridgeOpenRequest

	Now func() time.Time
}

var (
	_ broker.AccountLedger  = (*Engine)(nil)
	_ broker.PositionLedger = (*Engine)(nil)
)

func NewEngine() *Engine {
	return &Engine{
		accounts: make(map[string]*broker.Account),
		active:   make(map[string]broker.ActivePosition),
		pending:  make(map[string]broker.PendingPosition),
		quotes:   make(map[string]quote),
		faults:   make(map[string]*fault),
		applied:  make(map[string]struct{}),
		Now:      time.Now,
	}
}

func accountKey(traderID, accountID string) string {
	return traderID + "|" + accountID
}

// AddAccount creates or replaces an account.
func (e *Engine) AddAccount(acct broker.Account) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a := acct
	e.accounts[accountKey(acct.TraderID, acct.AccountID)] = &a
}

// SetQuote sets the price used to fill and close positions on assetPair.
func (e *Engine) SetQuote(assetPair string, bid, ask float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.quotes[assetPair] = quote{bid: bid, ask: ask, at: e.Now()}
}

// Fail makes op return err. times < 0 keeps failing until Clear.
func (e *Engine) Fail(op string, err error, times int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faults[op] = &fault{err: err, remaining: times}
}

func (e *Engine) Clear(op string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.faults, op)
}

// Calls returns the operation names in the order they were invoked.
func (e *Engine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.calls)
}

// BalanceUpdates returns every balance update received, including rejected ones.
func (e *Engine) BalanceUpdates() []broker.BalanceUpdate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.updates)
}

func (e *Engine) Account(traderID, accountID string) (broker.Account, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.accounts[accountKey(traderID, accountID)]
	if !ok {
		return broker.Account{}, false
	}
	return *a, true
}

// enterLocked records the call and returns the injected fault, if any.
func (e *Engine) enterLocked(op string) error {
	e.calls = append(e.calls, op)
	f, ok := e.faults[op]
	if !ok {
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
		if f.remaining == 0 {
			delete(e.faults, op)
		}
	}
	return f.err
}

func (e *Engine) GetAccount(ctx context.Context, traderID, accountID string) (broker.Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enterLocked(OpGetAccount); err != nil {
		return broker.Account{}, err
	}
	if err := ctx.Err(); err != nil {
		return broker.Account{}, err
	}

	a, ok := e.accounts[accountKey(traderID, accountID)]
	if !ok {
		return broker.Account{}, fmt.Errorf("get account %s/%s: %w", traderID, accountID, broker.ErrAccountNotFound)
	}
	return *a, nil
}

func (e *Engine) UpdateBalance(ctx context.Context, upd broker.BalanceUpdate) (broker.OperationResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enterLocked(OpUpdateBalance); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e.updates = append(e.updates, upd)
	if _, dup := e.applied[upd.ReferenceTxID]; dup {
		return broker.OperationOk, nil
	}

	a, ok := e.accounts[accountKey(upd.TraderID, upd.AccountID)]
	if !ok {
		return broker.OperationAccountNotFound, nil
	}
	next := a.Balance.Add(upd.Delta)
	if next.IsNegative() && !upd.AllowNegativeBalance {
		return broker.OperationNotEnoughBalance, nil
	}
	a.Balance = next
	if upd.ReferenceTxID != "" {
		e.applied[upd.ReferenceTxID] = struct{}{}
	}
	return broker.OperationOk, nil
}

func (e *Engine) OpenPosition(ctx context.Context, req broker.OpenPositionRequest) (broker.ActivePosition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enterLocked(OpOpenPosition); err != nil {
		return broker.ActivePosition{}, err
	}
	if err := ctx.Err(); err != nil {
		return broker.ActivePosition{}, err
	}

	q, ok := e.quotes[req.AssetPair]
	if !ok {
		return broker.ActivePosition{}, &broker.StatusError{Op: OpOpenPosition, Status: broker.PositionNoLiquidity}
	}

	now := e.Now().UnixMilli()
	price := q.ask
	if req.Side == broker.SideSell {
		price = q.bid
	}

	pos := broker.ActivePosition{
		PositionBase: baseFromRequest(req, now),
		OpenPrice:    price,
		OpenBidAsk: broker.BidAsk{
			AssetPair:          req.AssetPair,
			Bid:                q.bid,
			Ask:                q.ask,
			DateTimeUnixMillis: q.at.UnixMilli(),
		},
		OpenProcessID:           req.ProcessID,
		OpenDateUnixMillis:      now,
		Base:                    req.Base,
		Quote:                   req.Quote,
		Collateral:              req.Collateral,
		BaseCollateralOpenPrice: 1,
	}
	e.active[pos.ID] = pos
	return pos, nil
}

func (e *Engine) ClosePosition(ctx context.Context, req broker.ClosePositionRequest) (broker.ClosedPosition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enterLocked(OpClosePosition); err != nil {
		return broker.ClosedPosition{}, err
	}
	if err := ctx.Err(); err != nil {
		return broker.ClosedPosition{}, err
	}

	pos, ok := e.active[req.PositionID]
	if !ok || pos.TraderID != req.TraderID || pos.AccountID != req.AccountID {
		return broker.ClosedPosition{}, &broker.StatusError{Op: OpClosePosition, Status: broker.PositionStatusNotFound}
	}
	q, ok := e.quotes[pos.AssetPair]
	if !ok {
		return broker.ClosedPosition{}, &broker.StatusError{Op: OpClosePosition, Status: broker.PositionNoLiquidity}
	}

	// Longs close on bid, shorts on ask.
	closePrice := q.bid
	if pos.Side == broker.SideSell {
		closePrice = q.ask
	}

	now := e.Now().UnixMilli()
	closed := broker.ClosedPosition{
		ActivePosition: pos,
		ClosePrice:     closePrice,
		CloseBidAsk: broker.BidAsk{
			AssetPair:          pos.AssetPair,
			Bid:                q.bid,
			Ask:                q.ask,
			DateTimeUnixMillis: q.at.UnixMilli(),
		},
		CloseProcessID:      req.ProcessID,
		CloseDateUnixMillis: now,
		CloseReason:         broker.CloseReasonClientCommand,
	}
	delete(e.active, pos.ID)

	// Release the invested amount. Profit stays 0: no P&L is computed here.
	if a, ok := e.accounts[accountKey(pos.TraderID, pos.AccountID)]; ok {
		a.Balance = a.Balance.Add(pos.InvestAmount)
	}
	return closed, nil
}

func (e *Engine) ActivePosition(ctx context.Context, traderID, accountID, positionID string) (broker.ActivePosition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enterLocked(OpActivePosition); err != nil {
		return broker.ActivePosition{}, err
	}
	if err := ctx.Err(); err != nil {
		return broker.ActivePosition{}, err
	}

	pos, ok := e.active[positionID]
	if !ok || pos.TraderID != traderID || pos.AccountID != accountID {
		return broker.ActivePosition{}, fmt.Errorf("active position %q: %w", positionID, broker.ErrPositionNotFound)
	}
	return pos, nil
}

func (e *Engine) OpenPending(ctx context.Context, req broker.OpenPendingRequest) (broker.PendingPosition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enterLocked(OpOpenPending); err != nil {
		return broker.PendingPosition{}, err
	}
	if err := ctx.Err(); err != nil {
		return broker.PendingPosition{}, err
	}

	p := broker.PendingPosition{
		PositionBase: baseFromRequest(req.OpenPositionRequest, e.Now().UnixMilli()),
		DesirePrice:  req.DesirePrice,
	}
	e.pending[p.ID] = p
	return p, nil
}

func (e *Engine) CancelPending(ctx context.Context, req broker.CancelPendingRequest) (broker.PendingPosition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enterLocked(OpCancelPending); err != nil {
		return broker.PendingPosition{}, err
	}
	if err := ctx.Err(); err != nil {
		return broker.PendingPosition{}, err
	}

	p, ok := e.pending[req.PositionID]
	if !ok || p.TraderID != req.TraderID || p.AccountID != req.AccountID {
		return broker.PendingPosition{}, &broker.StatusError{Op: OpCancelPending, Status: broker.PositionStatusNotFound}
	}
	delete(e.pending, p.ID)
	p.LastUpdateProcessID = req.ProcessID
	p.LastUpdateDateUnixMillis = e.Now().UnixMilli()
	return p, nil
}

func (e *Engine) UpdateSlTp(ctx context.Context, req broker.UpdateSlTpRequest) (broker.ActivePosition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enterLocked(OpUpdateSlTp); err != nil {
		return broker.ActivePosition{}, err
	}
	if err := ctx.Err(); err != nil {
		return broker.ActivePosition{}, err
	}

	pos, ok := e.active[req.PositionID]
	if !ok || pos.TraderID != req.TraderID || pos.AccountID != req.AccountID {
		return broker.ActivePosition{}, &broker.StatusError{Op: OpUpdateSlTp, Status: broker.PositionStatusNotFound}
	}
	pos.SlTp = req.SlTp
	pos.LastUpdateProcessID = req.ProcessID
	pos.LastUpdateDateUnixMillis = e.Now().UnixMilli()
	e.active[pos.ID] = pos
	return pos, nil
}

func (e *Engine) ActivePositions(ctx context.Context, traderID, accountID string) ([]broker.ActivePosition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enterLocked(OpActivePositions); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []broker.ActivePosition
	for _, p := range e.active {
		if p.TraderID == traderID && p.AccountID == accountID {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b broker.ActivePosition) int {
		return compareBase(a.PositionBase, b.PositionBase)
	})
	return out, nil
}

func (e *Engine) PendingPositions(ctx context.Context, traderID, accountID string) ([]broker.PendingPosition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enterLocked(OpPendingPositions); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []broker.PendingPosition
	for _, p := range e.pending {
		if p.TraderID == traderID && p.AccountID == accountID {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b broker.PendingPosition) int {
		return compareBase(a.PositionBase, b.PositionBase)
	})
	return out, nil
}

func baseFromRequest(req broker.OpenPositionRequest, now int64) broker.PositionBase {
	return broker.PositionBase{
		ID:                       req.ID,
		TraderID:                 req.TraderID,
		AccountID:                req.AccountID,
		AssetPair:                req.AssetPair,
		Side:                     req.Side,
		InvestAmount:             req.InvestAmount,
		Leverage:                 req.Leverage,
		StopOutPercent:           req.StopOutPercent,
		CreateProcessID:          req.ProcessID,
		CreateDateUnixMillis:     now,
		LastUpdateProcessID:      req.ProcessID,
		LastUpdateDateUnixMillis: now,
		ToppingUpPercent:         req.ToppingUpPercent,
		SlTp:                     req.SlTp,
	}
}

func compareBase(a, b broker.PositionBase) int {
	if a.CreateDateUnixMillis != b.CreateDateUnixMillis {
		if a.CreateDateUnixMillis < b.CreateDateUnixMillis {
			return -1
		}
		return 1
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}
