package rpc

import (
	"context"
	"log/slog"

	"github.com/rustyeddy/trading-executor/broker"
	"github.com/rustyeddy/trading-executor/executor"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
)

const ExecutorService = "trading_executor.TradingExecutorGrpcService"

type OpenPositionGrpcRequest struct {
	ProcessID    string          `json:"process_id"`
	TraderID     string          `json:"trader_id"`
	AccountID    string          `json:"account_id"`
	AssetPair    string          `json:"asset_pair"`
	Side         broker.Side     `json:"side"`
	InvestAmount decimal.Decimal `json:"invest_amount"`
	Leverage     int32           `json:"leverage"`
	broker.SlTp
}

type OpenPositionGrpcResponse struct {
	Status   executor.StatusCode    `json:"status"`
	Position *broker.ActivePosition `json:"position,omitempty"`
}

type ClosePositionGrpcRequest struct {
	ProcessID  string `json:"process_id"`
	TraderID   string `json:"trader_id"`
	AccountID  string `json:"account_id"`
	PositionID string `json:"position_id"`
}

type ClosePositionGrpcResponse struct {
	Status   executor.StatusCode    `json:"status"`
	Position *broker.ClosedPosition `json:"position,omitempty"`
}

type SetPendingPositionGrpcRequest struct {
	OpenPositionGrpcRequest
	DesirePrice float64 `json:"desire_price"`
}

type CancelPendingPositionGrpcRequest struct {
	ProcessID  string `json:"process_id"`
	TraderID   string `json:"trader_id"`
	AccountID  string `json:"account_id"`
	PositionID string `json:"position_id"`
}

type PendingPositionGrpcResponse struct {
	Status   executor.StatusCode     `json:"status"`
	Position *broker.PendingPosition `json:"position,omitempty"`
}

type UpdateSlTpGrpcRequest struct {
	ProcessID  string `json:"process_id"`
	TraderID   string `json:"trader_id"`
	AccountID  string `json:"account_id"`
	PositionID string `json:"position_id"`
	broker.SlTp
}

type UpdateSlTpGrpcResponse struct {
	Status   executor.StatusCode    `json:"status"`
	Position *broker.ActivePosition `json:"position,omitempty"`
}

type Empty struct{}

// Executor is the orchestrator behind the service.
type Executor interface {
	OpenPosition(context.Context, executor.OpenRequest) (broker.ActivePosition, error)
	ClosePosition(context.Context, executor.CloseRequest) (broker.ClosedPosition, error)
	OpenPending(context.Context, executor.OpenPendingRequest) (broker.PendingPosition, error)
	CancelPending(context.Context, executor.CancelPendingRequest) (broker.PendingPosition, error)
	UpdateSlTp(context.Context, executor.UpdateSlTpRequest) (broker.ActivePosition, error)
	ActivePositions(ctx context.Context, traderID, accountID string) ([]broker.ActivePosition, error)
	PendingPositions(ctx context.Context, traderID, accountID string) ([]broker.PendingPosition, error)
}

var _ Executor = (*executor.Executor)(nil)

type executorHandler interface {
	OpenPosition(context.Context, *OpenPositionGrpcRequest) (*OpenPositionGrpcResponse, error)
	ClosePosition(context.Context, *ClosePositionGrpcRequest) (*ClosePositionGrpcResponse, error)
	SetPendingPosition(context.Context, *SetPendingPositionGrpcRequest) (*PendingPositionGrpcResponse, error)
	CancelPendingPosition(context.Context, *CancelPendingPositionGrpcRequest) (*PendingPositionGrpcResponse, error)
	UpdateSlTp(context.Context, *UpdateSlTpGrpcRequest) (*UpdateSlTpGrpcResponse, error)
	Ping(context.Context, *Empty) (*Empty, error)
	GetAccountActivePositions(*AccountRequest, grpc.ServerStream) error
	GetAccountPendingPositions(*AccountRequest, grpc.ServerStream) error
}

var executorDesc = grpc.ServiceDesc{
	ServiceName: ExecutorService,
	HandlerType: (*executorHandler)(nil),
	Methods: []grpc.MethodDesc{
		unary(ExecutorService, "OpenPosition", executorHandler.OpenPosition),
		unary(ExecutorService, "ClosePosition", executorHandler.ClosePosition),
		unary(ExecutorService, "SetPendingPosition", executorHandler.SetPendingPosition),
		unary(ExecutorService, "CancelPendingPosition", executorHandler.CancelPendingPosition),
		unary(ExecutorService, "UpdateSlTp", executorHandler.UpdateSlTp),
		unary(ExecutorService, "Ping", executorHandler.Ping),
	},
	Streams: []grpc.StreamDesc{
		serverStream("GetAccountActivePositions", executorHandler.GetAccountActivePositions),
		serverStream("GetAccountPendingPositions", executorHandler.GetAccountPendingPositions),
	},
}

// ExecutorServer is the inbound service boundary. Every outcome of a
// position operation, including technical failures, is a status in the
// response body; gRPC errors are reserved for the listing streams.
type ExecutorServer struct {
	x   Executor
	log *slog.Logger
}

func RegisterExecutorServer(s grpc.ServiceRegistrar, x Executor, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	s.RegisterService(&executorDesc, &ExecutorServer{x: x, log: log})
}

func openRequest(req *OpenPositionGrpcRequest) executor.OpenRequest {
	return executor.OpenRequest{
		TraderID:     req.TraderID,
		AccountID:    req.AccountID,
		ProcessID:    req.ProcessID,
		AssetPair:    req.AssetPair,
		Side:         req.Side,
		InvestAmount: req.InvestAmount,
		Leverage:     req.Leverage,
		SlTp:         req.SlTp,
	}
}

func (s *ExecutorServer) OpenPosition(ctx context.Context, req *OpenPositionGrpcRequest) (*OpenPositionGrpcResponse, error) {
	pos, err := s.x.OpenPosition(ctx, openRequest(req))
	if err != nil {
		return &OpenPositionGrpcResponse{Status: executor.CodeOf(err)}, nil
	}
	return &OpenPositionGrpcResponse{Position: &pos}, nil
}

func (s *ExecutorServer) ClosePosition(ctx context.Context, req *ClosePositionGrpcRequest) (*ClosePositionGrpcResponse, error) {
	pos, err := s.x.ClosePosition(ctx, executor.CloseRequest{
		TraderID:   req.TraderID,
		AccountID:  req.AccountID,
		PositionID: req.PositionID,
		ProcessID:  req.ProcessID,
	})
	if err != nil {
		return &ClosePositionGrpcResponse{Status: executor.CodeOf(err)}, nil
	}
	return &ClosePositionGrpcResponse{Position: &pos}, nil
}

func (s *ExecutorServer) SetPendingPosition(ctx context.Context, req *SetPendingPositionGrpcRequest) (*PendingPositionGrpcResponse, error) {
	pos, err := s.x.OpenPending(ctx, executor.OpenPendingRequest{
		OpenRequest: openRequest(&req.OpenPositionGrpcRequest),
		DesirePrice: req.DesirePrice,
	})
	if err != nil {
		return &PendingPositionGrpcResponse{Status: executor.CodeOf(err)}, nil
	}
	return &PendingPositionGrpcResponse{Position: &pos}, nil
}

func (s *ExecutorServer) CancelPendingPosition(ctx context.Context, req *CancelPendingPositionGrpcRequest) (*PendingPositionGrpcResponse, error) {
	pos, err := s.x.CancelPending(ctx, executor.CancelPendingRequest{
		TraderID:   req.TraderID,
		AccountID:  req.AccountID,
		PositionID: req.PositionID,
		ProcessID:  req.ProcessID,
	})
	if err != nil {
		return &PendingPositionGrpcResponse{Status: executor.CodeOf(err)}, nil
	}
	return &PendingPositionGrpcResponse{Position: &pos}, nil
}

func (s *ExecutorServer) UpdateSlTp(ctx context.Context, req *UpdateSlTpGrpcRequest) (*UpdateSlTpGrpcResponse, error) {
	pos, err := s.x.UpdateSlTp(ctx, executor.UpdateSlTpRequest{
		TraderID:   req.TraderID,
		AccountID:  req.AccountID,
		PositionID: req.PositionID,
		ProcessID:  req.ProcessID,
		SlTp:       req.SlTp,
	})
	if err != nil {
		return &UpdateSlTpGrpcResponse{Status: executor.CodeOf(err)}, nil
	}
	return &UpdateSlTpGrpcResponse{Position: &pos}, nil
}

func (s *ExecutorServer) Ping(context.Context, *Empty) (*Empty, error) {
	return &Empty{}, nil
}

func (s *ExecutorServer) GetAccountActivePositions(req *AccountRequest, stream grpc.ServerStream) error {
	list, err := s.x.ActivePositions(stream.Context(), req.TraderID, req.AccountID)
	if err != nil {
		s.log.Error("active positions listing failed", "trader_id", req.TraderID, "account_id", req.AccountID, "error", err)
		return toStatus(err)
	}
	for i := range list {
		if err := stream.SendMsg(&list[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *ExecutorServer) GetAccountPendingPositions(req *AccountRequest, stream grpc.ServerStream) error {
	list, err := s.x.PendingPositions(stream.Context(), req.TraderID, req.AccountID)
	if err != nil {
		s.log.Error("pending positions listing failed", "trader_id", req.TraderID, "account_id", req.AccountID, "error", err)
		return toStatus(err)
	}
	for i := range list {
		if err := stream.SendMsg(&list[i]); err != nil {
			return err
		}
	}
	return nil
}

// ExecutorClient calls the executor service. It is used by the demo
// command and by tests.
type ExecutorClient struct {
	cc grpc.ClientConnInterface
}

func NewExecutorClient(cc grpc.ClientConnInterface) *ExecutorClient {
	return &ExecutorClient{cc: cc}
}

func (c *ExecutorClient) invoke(ctx context.Context, method string, req, out any) error {
	return c.cc.Invoke(ctx, fullMethod(ExecutorService, method), req, out, grpc.CallContentSubtype(CodecName))
}

func (c *ExecutorClient) OpenPosition(ctx context.Context, req *OpenPositionGrpcRequest) (*OpenPositionGrpcResponse, error) {
	out := new(OpenPositionGrpcResponse)
	return out, c.invoke(ctx, "OpenPosition", req, out)
}

func (c *ExecutorClient) ClosePosition(ctx context.Context, req *ClosePositionGrpcRequest) (*ClosePositionGrpcResponse, error) {
	out := new(ClosePositionGrpcResponse)
	return out, c.invoke(ctx, "ClosePosition", req, out)
}

func (c *ExecutorClient) SetPendingPosition(ctx context.Context, req *SetPendingPositionGrpcRequest) (*PendingPositionGrpcResponse, error) {
	out := new(PendingPositionGrpcResponse)
	return out, c.invoke(ctx, "SetPendingPosition", req, out)
}

func (c *ExecutorClient) CancelPendingPosition(ctx context.Context, req *CancelPendingPositionGrpcRequest) (*PendingPositionGrpcResponse, error) {
	out := new(PendingPositionGrpcResponse)
	return out, c.invoke(ctx, "CancelPendingPosition", req, out)
}

func (c *ExecutorClient) UpdateSlTp(ctx context.Context, req *UpdateSlTpGrpcRequest) (*UpdateSlTpGrpcResponse, error) {
	out := new(UpdateSlTpGrpcResponse)
	return out, c.invoke(ctx, "UpdateSlTp", req, out)
}

func (c *ExecutorClient) Ping(ctx context.Context) error {
	return c.invoke(ctx, "Ping", &Empty{}, &Empty{})
}

func (c *ExecutorClient) ActivePositions(ctx context.Context, traderID, accountID string) ([]broker.ActivePosition, error) {
	return invokeStream[broker.ActivePosition](ctx, c.cc, &executorDesc.Streams[0],
		fullMethod(ExecutorService, "GetAccountActivePositions"), &AccountRequest{TraderID: traderID, AccountID: accountID})
}

func (c *ExecutorClient) PendingPositions(ctx context.Context, traderID, accountID string) ([]broker.PendingPosition, error) {
	return invokeStream[broker.PendingPosition](ctx, c.cc, &executorDesc.Streams[1],
		fullMethod(ExecutorService, "GetAccountPendingPositions"), &AccountRequest{TraderID: traderID, AccountID: accountID})
}
