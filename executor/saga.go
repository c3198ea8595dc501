package executor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/rustyeddy/trading-executor/broker"
	"github.com/rustyeddy/trading-executor/id"
	"github.com/rustyeddy/trading-executor/journal"
	"github.com/shopspring/decimal"
)

// SagaState is a step of the open-position saga. The saga moves from
// NotStarted to Debited, then to Created on success or through
// CompensationPending to CompensationDone or CompensationFailed.
type SagaState int

const (
	SagaNotStarted SagaState = iota
	SagaDebited
	SagaCreated
	SagaCompensationPending
	SagaCompensationDone
	SagaCompensationFailed
)

var sagaStateNames = [...]string{
	"NotStarted",
	"Debited",
	"Created",
	"CompensationPending",
	"CompensationDone",
	"CompensationFailed",
}

func (s SagaState) String() string {
	if s >= 0 && int(s) < len(sagaStateNames) {
		return sagaStateNames[s]
	}
	return fmt.Sprintf("SagaState(%d)", int(s))
}

var sagaTransitions = map[SagaState][]SagaState{
	SagaNotStarted:          {SagaDebited},
	SagaDebited:             {SagaCreated, SagaCompensationPending},
	SagaCompensationPending: {SagaCompensationDone, SagaCompensationFailed},
}

// Terminal reports whether no further transition is possible.
func (s SagaState) Terminal() bool {
	return len(sagaTransitions[s]) == 0
}

func (s SagaState) canMove(to SagaState) bool {
	return slices.Contains(sagaTransitions[s], to)
}

// openSaga is the debit, create, compensate sequence of one open request.
type openSaga struct {
	x          *Executor
	id         string
	req        OpenRequest
	positionID string
	state      SagaState
	log        *slog.Logger
}

func (x *Executor) newOpenSaga(req OpenRequest, positionID string, log *slog.Logger) *openSaga {
	sagaID := id.New()
	return &openSaga{
		x:          x,
		id:         sagaID,
		req:        req,
		positionID: positionID,
		state:      SagaNotStarted,
		log:        log.With("saga_id", sagaID, "position_id", positionID),
	}
}

// advance moves the saga to the next state and records the transition.
// cause is the error that triggered it, if any.
func (s *openSaga) advance(ctx context.Context, to SagaState, cause error) error {
	if !s.state.canMove(to) {
		return fmt.Errorf("saga %s: illegal transition %s -> %s", s.id, s.state, to)
	}
	from := s.state
	s.state = to

	rec := journal.SagaRecord{
		ID:         id.New(),
		SagaID:     s.id,
		Operation:  opOpen,
		State:      to.String(),
		ProcessID:  s.req.ProcessID,
		TraderID:   s.req.TraderID,
		AccountID:  s.req.AccountID,
		PositionID: s.positionID,
		AssetPair:  s.req.AssetPair,
		Amount:     s.req.InvestAmount,
		Time:       s.x.now(),
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	// The journal write must happen even if the caller has gone away.
	if err := s.x.journal.RecordSaga(context.WithoutCancel(ctx), rec); err != nil {
		s.log.Error("saga journal write failed", "state", rec.State, "error", err)
	}
	s.x.metrics.SagaTransition(opOpen, rec.State)
	s.log.Debug("saga transition", "from", from.String(), "to", rec.State)
	return nil
}

// balanceUpdate builds a balance change keyed by the saga id and step, so
// the ledger applies a retried update once.
func (s *openSaga) balanceUpdate(step string, delta decimal.Decimal, comment string, allowNegative bool) broker.BalanceUpdate {
	return broker.BalanceUpdate{
		TraderID:             s.req.TraderID,
		AccountID:            s.req.AccountID,
		Delta:                delta,
		Comment:              comment,
		ProcessID:            s.req.ProcessID,
		AllowNegativeBalance: allowNegative,
		Reason:               broker.ReasonTradingResult,
		ReferenceTxID:        s.id + ":" + step,
	}
}

// run debits the account and creates the position, compensating the debit
// if the create fails.
func (s *openSaga) run(ctx context.Context, create broker.OpenPositionRequest) (broker.ActivePosition, error) {
	x := s.x

	res, err := x.accounts.UpdateBalance(ctx, s.balanceUpdate("debit", s.req.InvestAmount.Neg(), "Open position balance charge", false))
	if err != nil {
		return broker.ActivePosition{}, failf(StatusTechError, "debit: %w", err)
	}
	if res != broker.OperationOk {
		return broker.ActivePosition{}, failf(StatusNotEnoughBalance, "debit %s: %s", s.req.InvestAmount, res)
	}
	if err := s.advance(ctx, SagaDebited, nil); err != nil {
		return broker.ActivePosition{}, fail(StatusTechError, err)
	}

	pos, createErr := x.positions.OpenPosition(ctx, create)
	if createErr == nil {
		if err := s.advance(ctx, SagaCreated, nil); err != nil {
			return broker.ActivePosition{}, fail(StatusTechError, err)
		}
		return pos, nil
	}

	s.log.Warn("position create failed after debit, compensating", "error", createErr)
	if err := s.advance(ctx, SagaCompensationPending, createErr); err != nil {
		return broker.ActivePosition{}, fail(StatusTechError, err)
	}

	if compErr := s.compensate(ctx); compErr != nil {
		_ = s.advance(ctx, SagaCompensationFailed, compErr)
		s.escalate(ctx, createErr, compErr)
		return broker.ActivePosition{}, failf(StatusTechError, "%w: create: %w; credit: %w", ErrCompensationFailed, createErr, compErr)
	}

	_ = s.advance(ctx, SagaCompensationDone, createErr)
	s.log.Warn("debit reversed", "amount", s.req.InvestAmount.String())
	return broker.ActivePosition{}, failf(StatusTechError, "open position: %w", createErr)
}

// compensate credits the debit back. It runs detached from the caller's
// cancellation, each attempt under its own timeout, with doubling backoff.
func (s *openSaga) compensate(ctx context.Context) error {
	x := s.x
	cctx := context.WithoutCancel(ctx)
	credit := s.balanceUpdate("credit", s.req.InvestAmount, "Open position compensation", true)

	var err error
	delay := compensationBackoff
	for attempt := 1; attempt <= x.compensationAttempts; attempt++ {
		actx, cancel := context.WithTimeout(cctx, x.compensationTimeout)
		res, cerr := x.accounts.UpdateBalance(actx, credit)
		cancel()

		if cerr == nil && res == broker.OperationOk {
			return nil
		}
		if cerr == nil {
			cerr = fmt.Errorf("credit rejected: %s", res)
		}
		err = cerr
		s.log.Warn("compensation attempt failed", "attempt", attempt, "of", x.compensationAttempts, "error", cerr)

		if attempt < x.compensationAttempts {
			_ = x.sleep(cctx, delay)
			delay *= 2
		}
	}
	return err
}

func (s *openSaga) escalate(ctx context.Context, createErr, compErr error) {
	x := s.x
	x.metrics.CompensationFailure(opOpen)
	s.log.Error("compensation failed, account debited with no position",
		"alert", true,
		"amount", s.req.InvestAmount.String(),
		"create_error", createErr,
		"compensation_error", compErr,
	)

	if x.escalator == nil {
		return
	}
	e := Escalation{
		SagaID:          s.id,
		ProcessID:       s.req.ProcessID,
		TraderID:        s.req.TraderID,
		AccountID:       s.req.AccountID,
		PositionID:      s.positionID,
		AssetPair:       s.req.AssetPair,
		Amount:          s.req.InvestAmount,
		CreateError:     createErr.Error(),
		CompensationErr: compErr.Error(),
		Time:            x.now(),
	}
	ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), x.compensationTimeout)
	defer cancel()
	if err := x.escalator.Escalate(ectx, e); err != nil {
		s.log.Error("escalation publish failed", "alert", true, "error", err)
	}
}
