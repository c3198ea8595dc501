package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/rustyeddy/trading-executor/broker"
	"github.com/rustyeddy/trading-executor/broker/sim"
	"github.com/rustyeddy/trading-executor/executor"
	"github.com/rustyeddy/trading-executor/internal/alert"
	"github.com/rustyeddy/trading-executor/internal/logging"
	"github.com/rustyeddy/trading-executor/market"
	"github.com/rustyeddy/trading-executor/refdata"
	"github.com/rustyeddy/trading-executor/rpc"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Walk a position through its lifecycle against in-memory ledgers",
	Long: `Start simulated ledgers and an executor in-process, then drive them
through the executor's gRPC API:

  1. Open a market position (debit, then create)
  2. Amend its stop-loss and close it
  3. Place and cancel a pending order
  4. Open a position while the position manager is failing, and watch the
     debit being credited back`,
	RunE: runDemo,
}

var demoVerbose bool

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.Flags().BoolVarP(&demoVerbose, "verbose", "v", false, "show executor logs")
}

func demoSeed(now time.Time) *refdata.Seed {
	at := now.UnixMilli()
	return &refdata.Seed{
		Instruments: []market.Instrument{
			{ID: "EURUSD", Base: "EUR", Quote: "USD", Digits: 5, DayTimeout: market.Seconds(3600)},
		},
		TradingGroups: []market.TradingGroup{{ID: "tg-demo", TradingProfileID: "tp-demo"}},
		TradingProfiles: []market.TradingProfile{{
			ID:             "tp-demo",
			StopOutPercent: 50,
			Instruments: []market.ProfileInstrument{
				{ID: "EURUSD", Leverages: []int32{10, 50, 100}},
			},
		}},
		BidAsks: []market.BidAsk{
			{ID: "EURUSD", Base: "EUR", Quote: "USD", Bid: 1.0998, Ask: 1.1000, UnixTimestampMillis: at},
		},
	}
}

// serveOn starts srv on a loopback port and returns its address.
func serveOn(srv *grpc.Server) (string, error) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	go func() { _ = srv.Serve(lis) }()
	return lis.Addr().String(), nil
}

func runDemo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	var logOut io.Writer = io.Discard
	if demoVerbose {
		logOut = os.Stderr
	}
	log, _, err := logging.New(logging.Config{Level: "debug", Format: "text"}, logOut)
	if err != nil {
		return err
	}

	engine := sim.NewEngine()
	engine.SetQuote("EURUSD", 1.0998, 1.1000)
	engine.AddAccount(broker.Account{
		TraderID:     "trader-demo",
		AccountID:    "acct-demo",
		Balance:      decimal.NewFromInt(10000),
		Currency:     "USD",
		TradingGroup: "tg-demo",
	})

	ledgerSrv := grpc.NewServer()
	rpc.RegisterAccountsServer(ledgerSrv, engine)
	rpc.RegisterPositionsServer(ledgerSrv, engine)
	ledgerAddr, err := serveOn(ledgerSrv)
	if err != nil {
		return err
	}
	defer ledgerSrv.Stop()

	ledgerConn, err := rpc.Dial(ledgerAddr, 2*time.Second, 0)
	if err != nil {
		return err
	}
	defer ledgerConn.Close()

	snap := refdata.NewSnapshot()
	snap.Apply(demoSeed(time.Now()))
	x := executor.New(snap, rpc.NewAccountsClient(ledgerConn), rpc.NewPositionsClient(ledgerConn),
		executor.WithLogger(log),
		executor.WithEscalator(alert.Log{Logger: log}),
		executor.WithCompensation(time.Second, 3),
	)

	execSrv := grpc.NewServer(rpc.ServerOptions(log)...)
	rpc.RegisterExecutorServer(execSrv, x, log)
	execAddr, err := serveOn(execSrv)
	if err != nil {
		return err
	}
	defer execSrv.Stop()

	execConn, err := rpc.Dial(execAddr, 5*time.Second, 0)
	if err != nil {
		return err
	}
	defer execConn.Close()
	client := rpc.NewExecutorClient(execConn)

	balance := func() string {
		acct, _ := engine.Account("trader-demo", "acct-demo")
		return acct.Balance.StringFixed(2)
	}
	openReq := func(processID string) *rpc.OpenPositionGrpcRequest {
		return &rpc.OpenPositionGrpcRequest{
			ProcessID:    processID,
			TraderID:     "trader-demo",
			AccountID:    "acct-demo",
			AssetPair:    "EURUSD",
			Side:         broker.SideBuy,
			InvestAmount: decimal.NewFromInt(500),
			Leverage:     50,
		}
	}

	fmt.Fprintf(out, "Starting balance: %s USD\n\n", balance())

	fmt.Fprintln(out, "1. Open EURUSD buy, 500 USD x50")
	opened, err := client.OpenPosition(ctx, openReq("demo-open"))
	if err != nil {
		return err
	}
	if opened.Status != executor.StatusOk {
		return fmt.Errorf("open: %s", opened.Status)
	}
	pos := opened.Position
	fmt.Fprintf(out, "   position %s opened at %.5f, balance %s\n\n", pos.ID, pos.OpenPrice, balance())

	fmt.Fprintln(out, "2. Set stop-loss at 1.0950 and close")
	sl := 1.0950
	upd, err := client.UpdateSlTp(ctx, &rpc.UpdateSlTpGrpcRequest{
		ProcessID:  "demo-sltp",
		TraderID:   "trader-demo",
		AccountID:  "acct-demo",
		PositionID: pos.ID,
		SlTp:       broker.SlTp{SlInAssetPrice: &sl},
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "   update status: %s\n", upd.Status)
	closed, err := client.ClosePosition(ctx, &rpc.ClosePositionGrpcRequest{
		ProcessID:  "demo-close",
		TraderID:   "trader-demo",
		AccountID:  "acct-demo",
		PositionID: pos.ID,
	})
	if err != nil {
		return err
	}
	if closed.Status != executor.StatusOk {
		return fmt.Errorf("close: %s", closed.Status)
	}
	fmt.Fprintf(out, "   closed at %.5f, balance %s\n\n", closed.Position.ClosePrice, balance())

	fmt.Fprintln(out, "3. Place a buy limit at 1.0900 and cancel it")
	placed, err := client.SetPendingPosition(ctx, &rpc.SetPendingPositionGrpcRequest{
		OpenPositionGrpcRequest: *openReq("demo-pending"),
		DesirePrice:             1.0900,
	})
	if err != nil {
		return err
	}
	if placed.Status != executor.StatusOk {
		return fmt.Errorf("pending: %s", placed.Status)
	}
	pending, err := client.PendingPositions(ctx, "trader-demo", "acct-demo")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "   %d pending order(s), balance %s (nothing reserved)\n", len(pending), balance())
	cancelled, err := client.CancelPendingPosition(ctx, &rpc.CancelPendingPositionGrpcRequest{
		ProcessID:  "demo-cancel",
		TraderID:   "trader-demo",
		AccountID:  "acct-demo",
		PositionID: placed.Position.ID,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "   cancel status: %s\n\n", cancelled.Status)

	fmt.Fprintln(out, "4. Open while the position manager is failing")
	engine.Fail(sim.OpOpenPosition, errors.New("position manager unavailable"), 1)
	failed, err := client.OpenPosition(ctx, openReq("demo-compensate"))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "   open status: %s\n", failed.Status)
	for _, u := range engine.BalanceUpdates() {
		if u.ProcessID == "demo-compensate" {
			fmt.Fprintf(out, "   balance update %s: %s\n", u.Delta.StringFixed(2), u.Comment)
		}
	}
	fmt.Fprintf(out, "   balance %s (debit credited back)\n", balance())
	return nil
}
