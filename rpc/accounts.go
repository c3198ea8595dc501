package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/rustyeddy/trading-executor/broker"
	"google.golang.org/grpc"
)

const AccountsService = "accounts_manager.AccountsManagerGrpcService"

type GetClientAccountRequest struct {
	TraderID  string `json:"trader_id"`
	AccountID string `json:"account_id"`
}

// GetClientAccountResponse has a nil Account when the account does not exist.
type GetClientAccountResponse struct {
	Account *broker.Account `json:"account,omitempty"`
}

type UpdateBalanceResponse struct {
	Result  broker.OperationResult `json:"result"`
	Account *broker.Account        `json:"account,omitempty"`
}

type accountsHandler interface {
	GetClientAccount(context.Context, *GetClientAccountRequest) (*GetClientAccountResponse, error)
	UpdateClientAccountBalance(context.Context, *broker.BalanceUpdate) (*UpdateBalanceResponse, error)
}

var accountsDesc = grpc.ServiceDesc{
	ServiceName: AccountsService,
	HandlerType: (*accountsHandler)(nil),
	Methods: []grpc.MethodDesc{
		unary(AccountsService, "GetClientAccount", accountsHandler.GetClientAccount),
		unary(AccountsService, "UpdateClientAccountBalance", accountsHandler.UpdateClientAccountBalance),
	},
}

// AccountsServer serves an AccountLedger as the accounts manager service.
type AccountsServer struct {
	ledger broker.AccountLedger
}

func RegisterAccountsServer(s grpc.ServiceRegistrar, ledger broker.AccountLedger) {
	s.RegisterService(&accountsDesc, &AccountsServer{ledger: ledger})
}

func (s *AccountsServer) GetClientAccount(ctx context.Context, req *GetClientAccountRequest) (*GetClientAccountResponse, error) {
	acct, err := s.ledger.GetAccount(ctx, req.TraderID, req.AccountID)
	if errors.Is(err, broker.ErrAccountNotFound) {
		return &GetClientAccountResponse{}, nil
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetClientAccountResponse{Account: &acct}, nil
}

func (s *AccountsServer) UpdateClientAccountBalance(ctx context.Context, req *broker.BalanceUpdate) (*UpdateBalanceResponse, error) {
	res, err := s.ledger.UpdateBalance(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &UpdateBalanceResponse{Result: res}
	if res == broker.OperationOk {
		if acct, err := s.ledger.GetAccount(ctx, req.TraderID, req.AccountID); err == nil {
			resp.Account = &acct
		}
	}
	return resp, nil
}

// AccountsClient is the executor's AccountLedger over gRPC.
type AccountsClient struct {
	cc grpc.ClientConnInterface
}

var _ broker.AccountLedger = (*AccountsClient)(nil)

func NewAccountsClient(cc grpc.ClientConnInterface) *AccountsClient {
	return &AccountsClient{cc: cc}
}

func (c *AccountsClient) GetAccount(ctx context.Context, traderID, accountID string) (broker.Account, error) {
	out := new(GetClientAccountResponse)
	err := c.cc.Invoke(ctx, fullMethod(AccountsService, "GetClientAccount"),
		&GetClientAccountRequest{TraderID: traderID, AccountID: accountID}, out,
		grpc.CallContentSubtype(CodecName))
	if err != nil {
		return broker.Account{}, fmt.Errorf("get client account: %w", err)
	}
	if out.Account == nil {
		return broker.Account{}, fmt.Errorf("account %s/%s: %w", traderID, accountID, broker.ErrAccountNotFound)
	}
	return *out.Account, nil
}

func (c *AccountsClient) UpdateBalance(ctx context.Context, upd broker.BalanceUpdate) (broker.OperationResult, error) {
	out := new(UpdateBalanceResponse)
	err := c.cc.Invoke(ctx, fullMethod(AccountsService, "UpdateClientAccountBalance"), &upd, out,
		grpc.CallContentSubtype(CodecName))
	if err != nil {
		return 0, fmt.Errorf("update client account balance: %w", err)
	}
	return out.Result, nil
}
