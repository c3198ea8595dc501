package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/rustyeddy/trading-executor/broker"
	"google.golang.org/grpc"
)

const PositionsService = "position_manager.PositionManagerGrpcService"

type PositionRequest struct {
	TraderID   string `json:"trader_id"`
	AccountID  string `json:"account_id"`
	PositionID string `json:"position_id"`
}

type AccountRequest struct {
	TraderID  string `json:"trader_id"`
	AccountID string `json:"account_id"`
}

type ActivePositionResponse struct {
	Status   broker.PositionStatus  `json:"status"`
	Position *broker.ActivePosition `json:"position,omitempty"`
}

type ClosedPositionResponse struct {
	Status   broker.PositionStatus  `json:"status"`
	Position *broker.ClosedPosition `json:"position,omitempty"`
}

type PendingPositionResponse struct {
	Status   broker.PositionStatus   `json:"status"`
	Position *broker.PendingPosition `json:"position,omitempty"`
}

type positionsHandler interface {
	OpenPosition(context.Context, *broker.OpenPositionRequest) (*ActivePositionResponse, error)
	ClosePosition(context.Context, *broker.ClosePositionRequest) (*ClosedPositionResponse, error)
	GetActivePosition(context.Context, *PositionRequest) (*ActivePositionResponse, error)
	OpenPending(context.Context, *broker.OpenPendingRequest) (*PendingPositionResponse, error)
	CancelPending(context.Context, *broker.CancelPendingRequest) (*PendingPositionResponse, error)
	UpdateSlTp(context.Context, *broker.UpdateSlTpRequest) (*ActivePositionResponse, error)
	GetAccountActivePositions(*AccountRequest, grpc.ServerStream) error
	GetAccountPendingPositions(*AccountRequest, grpc.ServerStream) error
}

var positionsDesc = grpc.ServiceDesc{
	ServiceName: PositionsService,
	HandlerType: (*positionsHandler)(nil),
	Methods: []grpc.MethodDesc{
		unary(PositionsService, "OpenPosition", positionsHandler.OpenPosition),
		unary(PositionsService, "ClosePosition", positionsHandler.ClosePosition),
		unary(PositionsService, "GetActivePosition", positionsHandler.GetActivePosition),
		unary(PositionsService, "OpenPending", positionsHandler.OpenPending),
		unary(PositionsService, "CancelPending", positionsHandler.CancelPending),
		unary(PositionsService, "UpdateSlTp", positionsHandler.UpdateSlTp),
	},
	Streams: []grpc.StreamDesc{
		serverStream("GetAccountActivePositions", positionsHandler.GetAccountActivePositions),
		serverStream("GetAccountPendingPositions", positionsHandler.GetAccountPendingPositions),
	},
}

// ledgerStatus splits a position ledger error into a wire status or a
// transport failure.
func ledgerStatus(err error) (broker.PositionStatus, error) {
	var se *broker.StatusError
	switch {
	case errors.As(err, &se):
		return se.Status, nil
	case errors.Is(err, broker.ErrNoLiquidity):
		return broker.PositionNoLiquidity, nil
	case errors.Is(err, broker.ErrPositionNotFound):
		return broker.PositionStatusNotFound, nil
	default:
		return 0, toStatus(err)
	}
}

// PositionsServer serves a PositionLedger as the position manager service.
type PositionsServer struct {
	ledger broker.PositionLedger
}

func RegisterPositionsServer(s grpc.ServiceRegistrar, ledger broker.PositionLedger) {
	s.RegisterService(&positionsDesc, &PositionsServer{ledger: ledger})
}

func (s *PositionsServer) OpenPosition(ctx context.Context, req *broker.OpenPositionRequest) (*ActivePositionResponse, error) {
	pos, err := s.ledger.OpenPosition(ctx, *req)
	if err != nil {
		st, err := ledgerStatus(err)
		return &ActivePositionResponse{Status: st}, err
	}
	return &ActivePositionResponse{Position: &pos}, nil
}

func (s *PositionsServer) ClosePosition(ctx context.Context, req *broker.ClosePositionRequest) (*ClosedPositionResponse, error) {
	pos, err := s.ledger.ClosePosition(ctx, *req)
	if err != nil {
		st, err := ledgerStatus(err)
		return &ClosedPositionResponse{Status: st}, err
	}
	return &ClosedPositionResponse{Position: &pos}, nil
}

func (s *PositionsServer) GetActivePosition(ctx context.Context, req *PositionRequest) (*ActivePositionResponse, error) {
	pos, err := s.ledger.ActivePosition(ctx, req.TraderID, req.AccountID, req.PositionID)
	if err != nil {
		st, err := ledgerStatus(err)
		return &ActivePositionResponse{Status: st}, err
	}
	return &ActivePositionResponse{Position: &pos}, nil
}

func (s *PositionsServer) OpenPending(ctx context.Context, req *broker.OpenPendingRequest) (*PendingPositionResponse, error) {
	pos, err := s.ledger.OpenPending(ctx, *req)
	if err != nil {
		st, err := ledgerStatus(err)
		return &PendingPositionResponse{Status: st}, err
	}
	return &PendingPositionResponse{Position: &pos}, nil
}

func (s *PositionsServer) CancelPending(ctx context.Context, req *broker.CancelPendingRequest) (*PendingPositionResponse, error) {
	pos, err := s.ledger.CancelPending(ctx, *req)
	if err != nil {
		st, err := ledgerStatus(err)
		return &PendingPositionResponse{Status: st}, err
	}
	return &PendingPositionResponse{Position: &pos}, nil
}

func (s *PositionsServer) UpdateSlTp(ctx context.Context, req *broker.UpdateSlTpRequest) (*ActivePositionResponse, error) {
	pos, err := s.ledger.UpdateSlTp(ctx, *req)
	if err != nil {
		st, err := ledgerStatus(err)
		return &ActivePositionResponse{Status: st}, err
	}
	return &ActivePositionResponse{Position: &pos}, nil
}

func (s *PositionsServer) GetAccountActivePositions(req *AccountRequest, stream grpc.ServerStream) error {
	list, err := s.ledger.ActivePositions(stream.Context(), req.TraderID, req.AccountID)
	if err != nil {
		return toStatus(err)
	}
	for i := range list {
		if err := stream.SendMsg(&list[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *PositionsServer) GetAccountPendingPositions(req *AccountRequest, stream grpc.ServerStream) error {
	list, err := s.ledger.PendingPositions(stream.Context(), req.TraderID, req.AccountID)
	if err != nil {
		return toStatus(err)
	}
	for i := range list {
		if err := stream.SendMsg(&list[i]); err != nil {
			return err
		}
	}
	return nil
}

// PositionsClient is the executor's PositionLedger over gRPC. A non-Ok
// status in a response becomes a *broker.StatusError.
type PositionsClient struct {
	cc grpc.ClientConnInterface
}

var _ broker.PositionLedger = (*PositionsClient)(nil)

func NewPositionsClient(cc grpc.ClientConnInterface) *PositionsClient {
	return &PositionsClient{cc: cc}
}

func (c *PositionsClient) invoke(ctx context.Context, method string, req, out any) error {
	if err := c.cc.Invoke(ctx, fullMethod(PositionsService, method), req, out, grpc.CallContentSubtype(CodecName)); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

func checkStatus[T any](method string, st broker.PositionStatus, pos *T) (T, error) {
	var zero T
	if st != broker.PositionOk {
		return zero, &broker.StatusError{Op: method, Status: st}
	}
	if pos == nil {
		return zero, fmt.Errorf("%s: ok status with no position", method)
	}
	return *pos, nil
}

func (c *PositionsClient) OpenPosition(ctx context.Context, req broker.OpenPositionRequest) (broker.ActivePosition, error) {
	out := new(ActivePositionResponse)
	if err := c.invoke(ctx, "OpenPosition", &req, out); err != nil {
		return broker.ActivePosition{}, err
	}
	return checkStatus("OpenPosition", out.Status, out.Position)
}

func (c *PositionsClient) ClosePosition(ctx context.Context, req broker.ClosePositionRequest) (broker.ClosedPosition, error) {
	out := new(ClosedPositionResponse)
	if err := c.invoke(ctx, "ClosePosition", &req, out); err != nil {
		return broker.ClosedPosition{}, err
	}
	return checkStatus("ClosePosition", out.Status, out.Position)
}

func (c *PositionsClient) ActivePosition(ctx context.Context, traderID, accountID, positionID string) (broker.ActivePosition, error) {
	out := new(ActivePositionResponse)
	req := &PositionRequest{TraderID: traderID, AccountID: accountID, PositionID: positionID}
	if err := c.invoke(ctx, "GetActivePosition", req, out); err != nil {
		return broker.ActivePosition{}, err
	}
	if out.Status == broker.PositionStatusNotFound || (out.Status == broker.PositionOk && out.Position == nil) {
		return broker.ActivePosition{}, fmt.Errorf("active position %q: %w", positionID, broker.ErrPositionNotFound)
	}
	return checkStatus("GetActivePosition", out.Status, out.Position)
}

func (c *PositionsClient) OpenPending(ctx context.Context, req broker.OpenPendingRequest) (broker.PendingPosition, error) {
	out := new(PendingPositionResponse)
	if err := c.invoke(ctx, "OpenPending", &req, out); err != nil {
		return broker.PendingPosition{}, err
	}
	return checkStatus("OpenPending", out.Status, out.Position)
}

func (c *PositionsClient) CancelPending(ctx context.Context, req broker.CancelPendingRequest) (broker.PendingPosition, error) {
	out := new(PendingPositionResponse)
	if err := c.invoke(ctx, "CancelPending", &req, out); err != nil {
		return broker.PendingPosition{}, err
	}
	return checkStatus("CancelPending", out.Status, out.Position)
}

func (c *PositionsClient) UpdateSlTp(ctx context.Context, req broker.UpdateSlTpRequest) (broker.ActivePosition, error) {
	out := new(ActivePositionResponse)
	if err := c.invoke(ctx, "UpdateSlTp", &req, out); err != nil {
		return broker.ActivePosition{}, err
	}
	return checkStatus("UpdateSlTp", out.Status, out.Position)
}

func (c *PositionsClient) ActivePositions(ctx context.Context, traderID, accountID string) ([]broker.ActivePosition, error) {
	list, err := invokeStream[broker.ActivePosition](ctx, c.cc, &positionsDesc.Streams[0],
		fullMethod(PositionsService, "GetAccountActivePositions"), &AccountRequest{TraderID: traderID, AccountID: accountID})
	if err != nil {
		return nil, fmt.Errorf("GetAccountActivePositions: %w", err)
	}
	return list, nil
}

func (c *PositionsClient) PendingPositions(ctx context.Context, traderID, accountID string) ([]broker.PendingPosition, error) {
	list, err := invokeStream[broker.PendingPosition](ctx, c.cc, &positionsDesc.Streams[1],
		fullMethod(PositionsService, "GetAccountPendingPositions"), &AccountRequest{TraderID: traderID, AccountID: accountID})
	if err != nil {
		return nil, fmt.Errorf("GetAccountPendingPositions: %w", err)
	}
	return list, nil
}
