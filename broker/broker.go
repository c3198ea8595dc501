// Package broker defines the remote collaborators of the trading executor:
// the account ledger, the position ledger and the optional liquidity bridge.
package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrPositionNotFound = errors.New("position not found")
	ErrNoLiquidity      = errors.New("no liquidity")
	ErrBridgeRejected   = errors.New("bridge rejected position")
)

type Account struct {
	TraderID     string          `json:"trader_id"`
	AccountID    string          `json:"account_id"`
	Balance      decimal.Decimal `json:"balance"`
	Currency     string          `json:"currency"`
	TradingGroup string          `json:"trading_group"`
}

type BalanceReason int32

const (
	ReasonTradingResult BalanceReason = iota
	ReasonDeposit
	ReasonWithdrawal
	ReasonBalanceCorrection
)

// OperationResult is the account ledger's answer to a balance update.
type OperationResult int32

const (
	OperationOk OperationResult = iota
	OperationAccountNotFound
	OperationNotEnoughBalance
)

func (r OperationResult) String() string {
	switch r {
	case OperationOk:
		return "Ok"
	case OperationAccountNotFound:
		return "AccountNotFound"
	case OperationNotEnoughBalance:
		return "NotEnoughBalance"
	default:
		return fmt.Sprintf("OperationResult(%d)", int32(r))
	}
}

type BalanceUpdate struct {
	TraderID             string          `json:"trader_id"`
	AccountID            string          `json:"account_id"`
	Delta                decimal.Decimal `json:"delta"`
	Comment              string          `json:"comment"`
	ProcessID            string          `json:"process_id"`
	AllowNegativeBalance bool            `json:"allow_negative_balance"`
	Reason               BalanceReason   `json:"reason"`
	ReferenceTxID        string          `json:"reference_transaction_id,omitempty"`
}

// AccountLedger owns balances. GetAccount returns ErrAccountNotFound when
// the account does not exist; any other error is a transport failure.
// UpdateBalance applies an update carrying a ReferenceTxID it has already
// applied at most once, and reports it as Ok.
type AccountLedger interface {
	GetAccount(ctx context.Context, traderID, accountID string) (Account, error)
	UpdateBalance(ctx context.Context, upd BalanceUpdate) (OperationResult, error)
}

// PositionLedger owns position state. Rejections are returned as
// *StatusError; anything else is a transport failure.
type PositionLedger interface {
	OpenPosition(ctx context.Context, req OpenPositionRequest) (ActivePosition, error)
	ClosePosition(ctx context.Context, req ClosePositionRequest) (ClosedPosition, error)
	ActivePosition(ctx context.Context, traderID, accountID, positionID string) (ActivePosition, error)
	OpenPending(ctx context.Context, req OpenPendingRequest) (PendingPosition, error)
	CancelPending(ctx context.Context, req CancelPendingRequest) (PendingPosition, error)
	UpdateSlTp(ctx context.Context, req UpdateSlTpRequest) (ActivePosition, error)
	ActivePositions(ctx context.Context, traderID, accountID string) ([]ActivePosition, error)
	PendingPositions(ctx context.Context, traderID, accountID string) ([]PendingPosition, error)
}

// LiquidityBridge routes A-Book positions to an external venue.
type LiquidityBridge interface {
	OpenPosition(ctx context.Context, req BridgeOpenRequest) (BridgePosition, error)
}

// PositionStatus is the position ledger's status vocabulary.
type PositionStatus int32

const (
	PositionOk PositionStatus = iota
	PositionNoLiquidity
	PositionStatusNotFound
)

// StatusError carries a non-Ok status returned by the position ledger.
type StatusError struct {
	Op     string
	Status PositionStatus
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("position ledger %s: status %d", e.Op, e.Status)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNoLiquidity:
		return e.Status == PositionNoLiquidity
	case ErrPositionNotFound:
		return e.Status == PositionStatusNotFound
	}
	return false
}

type BridgeOpenRequest struct {
	InstrumentID string          `json:"instrument_id"`
	PositionID   string          `json:"position_id"`
	AccountID    string          `json:"account_id"`
	Leverage     float64         `json:"leverage"`
	InvestAmount decimal.Decimal `json:"invest_amount"`
	Side         Side            `json:"side"`
}

type BridgePosition struct {
	ID           string  `json:"id"`
	InstrumentID string  `json:"instrument_id"`
	OpenPrice    float64 `json:"open_price"`
	Volume       float64 `json:"volume"`
}

// BridgeRejectError is returned when the venue answers with a non-zero status.
type BridgeRejectError struct {
	StatusCode int32
	Message    string
}

func (e *BridgeRejectError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("bridge rejected: status %d", e.StatusCode)
	}
	return fmt.Sprintf("bridge rejected: status %d: %s", e.StatusCode, e.Message)
}

func (e *BridgeRejectError) Is(target error) bool {
	return target == ErrBridgeRejected
}
