package executor

import (
	"errors"
	"fmt"
)

// StatusCode is the result code surfaced to callers. The numbering is part
// of the wire contract and must not change.
type StatusCode int32

const (
	StatusOk StatusCode = iota
	StatusDayOff
	StatusOperationIsTooLow
	StatusOperationIsTooHigh
	StatusMinOperationsByInstrumentViolated
	StatusMaxOperationsByInstrumentViolated
	StatusNotEnoughBalance
	StatusNoLiquidity
	StatusPositionNotFound
	StatusTpIsTooClose
	StatusSlIsTooClose
	StatusAccountNotFound
	StatusInstrumentNotFound
	StatusInstrumentIsNotTradable
	StatusHitMaxAmountOfPendingOrders
	StatusTechError
	StatusMultiplierIsNotFound
	StatusTradingDisabled
	StatusMaxPositionsAmount
	StatusTradingGroupNotFound
	StatusTradingProfileNotFound
	StatusTradingProfileInstrumentNotFound
	StatusABookReject
)

var statusNames = [...]string{
	"Ok",
	"DayOff",
	"OperationIsTooLow",
	"OperationIsTooHigh",
	"MinOperationsByInstrumentViolated",
	"MaxOperationsByInstrumentViolated",
	"NotEnoughBalance",
	"NoLiquidity",
	"PositionNotFound",
	"TpIsTooClose",
	"SlIsTooClose",
	"AccountNotFound",
	"InstrumentNotFound",
	"InstrumentIsNotTradable",
	"HitMaxAmountOfPendingOrders",
	"TechError",
	"MultiplierIsNotFound",
	"TradingDisabled",
	"MaxPositionsAmount",
	"TradingGroupNotFound",
	"TradingProfileNotFound",
	"TradingProfileInstrumentNotFound",
	"ABookReject",
}

func (c StatusCode) String() string {
	if c >= 0 && int(c) < len(statusNames) {
		return statusNames[c]
	}
	return fmt.Sprintf("StatusCode(%d)", int32(c))
}

// Error is a failed operation. Code is what the caller sees; Err keeps the
// underlying cause for logs and errors.Is.
type Error struct {
	Code StatusCode
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so the sentinels below work
// with errors.Is regardless of the wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrDayOff                           = &Error{Code: StatusDayOff}
	ErrOperationIsTooLow                = &Error{Code: StatusOperationIsTooLow}
	ErrNotEnoughBalance                 = &Error{Code: StatusNotEnoughBalance}
	ErrNoLiquidity                      = &Error{Code: StatusNoLiquidity}
	ErrPositionNotFound                 = &Error{Code: StatusPositionNotFound}
	ErrAccountNotFound                  = &Error{Code: StatusAccountNotFound}
	ErrInstrumentNotFound               = &Error{Code: StatusInstrumentNotFound}
	ErrInstrumentIsNotTradable          = &Error{Code: StatusInstrumentIsNotTradable}
	ErrTechError                        = &Error{Code: StatusTechError}
	ErrMultiplierIsNotFound             = &Error{Code: StatusMultiplierIsNotFound}
	ErrTradingGroupNotFound             = &Error{Code: StatusTradingGroupNotFound}
	ErrTradingProfileNotFound           = &Error{Code: StatusTradingProfileNotFound}
	ErrTradingProfileInstrumentNotFound = &Error{Code: StatusTradingProfileInstrumentNotFound}
	ErrABookReject                      = &Error{Code: StatusABookReject}
)

// ErrCompensationFailed marks an open-position saga that debited the
// account, failed to create the position, and could not credit it back.
var ErrCompensationFailed = errors.New("compensation failed")

func fail(code StatusCode, err error) error {
	return &Error{Code: code, Err: err}
}

func failf(code StatusCode, format string, args ...any) error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

// CodeOf maps err to the status code reported to callers. Errors that did
// not come from the executor, including context cancellation, are TechError.
func CodeOf(err error) StatusCode {
	if err == nil {
		return StatusOk
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return StatusTechError
}
