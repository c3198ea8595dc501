package broker

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Side int32

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "Buy"
	case SideSell:
		return "Sell"
	default:
		return fmt.Sprintf("Side(%d)", int32(s))
	}
}

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

type CloseReason int32

const (
	CloseReasonClientCommand CloseReason = iota
	CloseReasonStopOut
	CloseReasonTakeProfit
	CloseReasonStopLoss
)

type BidAsk struct {
	AssetPair          string  `json:"asset_pair"`
	Bid                float64 `json:"bid"`
	Ask                float64 `json:"ask"`
	DateTimeUnixMillis int64   `json:"date_time_unix_timestamp_milliseconds"`
}

type Swap struct {
	Amount               float64 `json:"amount"`
	ChargeDateUnixMillis int64   `json:"swap_charge_date"`
}

// SlTp is a take-profit / stop-loss pair. Each side may be set as a
// profit amount or as an absolute asset price.
type SlTp struct {
	TpInProfit     *float64 `json:"tp_in_profit,omitempty"`
	SlInProfit     *float64 `json:"sl_in_profit,omitempty"`
	TpInAssetPrice *float64 `json:"tp_in_asset_price,omitempty"`
	SlInAssetPrice *float64 `json:"sl_in_asset_price,omitempty"`
}

type PositionBase struct {
	ID                       string          `json:"id"`
	TraderID                 string          `json:"trader_id"`
	AccountID                string          `json:"account_id"`
	AssetPair                string          `json:"asset_pair"`
	Side                     Side            `json:"side"`
	InvestAmount             decimal.Decimal `json:"invest_amount"`
	Leverage                 float64         `json:"leverage"`
	StopOutPercent           float64         `json:"stop_out_percent"`
	CreateProcessID          string          `json:"create_process_id"`
	CreateDateUnixMillis     int64           `json:"create_date_unix_timestamp_milliseconds"`
	LastUpdateProcessID      string          `json:"last_update_process_id"`
	LastUpdateDateUnixMillis int64           `json:"last_update_date"`
	ToppingUpPercent         float64         `json:"topping_up_percent"`
	SlTp
}

type PendingPosition struct {
	PositionBase
	DesirePrice float64 `json:"desire_price"`
}

type ActivePosition struct {
	PositionBase
	OpenPrice                 float64 `json:"open_price"`
	OpenBidAsk                BidAsk  `json:"open_bid_ask"`
	OpenProcessID             string  `json:"open_process_id"`
	OpenDateUnixMillis        int64   `json:"open_date"`
	Profit                    float64 `json:"profit"`
	Base                      string  `json:"base"`
	Quote                     string  `json:"quote"`
	Collateral                string  `json:"collateral"`
	BaseCollateralOpenPrice   float64 `json:"base_collateral_open_price"`
	Swaps                     []Swap  `json:"swaps"`
	ReservedFundsForToppingUp float64 `json:"reserved_funds_for_topping_up"`
}

type ClosedPosition struct {
	ActivePosition
	ClosePrice          float64     `json:"close_price"`
	CloseBidAsk         BidAsk      `json:"close_bid_ask"`
	CloseProcessID      string      `json:"close_process_id"`
	CloseDateUnixMillis int64       `json:"close_date"`
	CloseReason         CloseReason `json:"close_reason"`
}

type OpenPositionRequest struct {
	ID               string          `json:"id"`
	TraderID         string          `json:"trader_id"`
	AccountID        string          `json:"account_id"`
	AssetPair        string          `json:"asset_pair"`
	Side             Side            `json:"side"`
	InvestAmount     decimal.Decimal `json:"invest_amount"`
	Leverage         float64         `json:"leverage"`
	StopOutPercent   float64         `json:"stop_out_percent"`
	ProcessID        string          `json:"process_id"`
	Base             string          `json:"base"`
	Quote            string          `json:"quote"`
	Collateral       string          `json:"collateral_currency"`
	ToppingUpPercent float64         `json:"topping_up_percent"`
	SlTp
}

type OpenPendingRequest struct {
	OpenPositionRequest
	DesirePrice float64 `json:"desire_price"`
}

type ClosePositionRequest struct {
	TraderID   string `json:"trader_id"`
	AccountID  string `json:"account_id"`
	PositionID string `json:"position_id"`
	ProcessID  string `json:"process_id"`
}

type CancelPendingRequest struct {
	TraderID   string `json:"trader_id"`
	AccountID  string `json:"account_id"`
	PositionID string `json:"id"`
	ProcessID  string `json:"process_id"`
}

type UpdateSlTpRequest struct {
	TraderID   string `json:"trader_id"`
	AccountID  string `json:"account_id"`
	PositionID string `json:"position_id"`
	ProcessID  string `json:"process_id"`
	SlTp
}
