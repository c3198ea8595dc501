package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rustyeddy/trading-executor/broker"
	"github.com/rustyeddy/trading-executor/broker/abook"
	"github.com/rustyeddy/trading-executor/broker/sim"
	"github.com/rustyeddy/trading-executor/internal/logging"
	"github.com/rustyeddy/trading-executor/rpc"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

var ledgerSimCmd = &cobra.Command{
	Use:   "ledger-sim",
	Short: "Serve in-memory account and position ledgers",
	Long: `Run the simulated accounts manager and position manager on one gRPC
address, and optionally a simulated liquidity bridge over HTTP. Useful for
local development against the serve command.

Accounts are given as trader/account:currency:balance:group and quotes as
PAIR=bid:ask.

Example:
  trading-executor ledger-sim --addr :9090 \
    --account trader-1/acct-1:USD:10000:tg-1 \
    --quote EURUSD=1.0998:1.1000 --bridge-addr :9091`,
	RunE: runLedgerSim,
}

var (
	simAddr       string
	simBridgeAddr string
	simAccounts   []string
	simQuotes     []string
)

func init() {
	rootCmd.AddCommand(ledgerSimCmd)

	f := ledgerSimCmd.Flags()
	f.StringVar(&simAddr, "addr", ":9090", "gRPC listen address")
	f.StringVar(&simBridgeAddr, "bridge-addr", "", "serve a simulated liquidity bridge on this HTTP address")
	f.StringArrayVar(&simAccounts, "account", nil, "account as trader/account:currency:balance:group (repeatable)")
	f.StringArrayVar(&simQuotes, "quote", nil, "quote as PAIR=bid:ask (repeatable)")
}

func runLedgerSim(cmd *cobra.Command, args []string) error {
	log, _, err := logging.New(logging.Config{Level: "info", Format: "text"}, os.Stderr)
	if err != nil {
		return err
	}

	engine := sim.NewEngine()
	for _, s := range simAccounts {
		acct, err := parseAccount(s)
		if err != nil {
			return err
		}
		engine.AddAccount(acct)
	}
	for _, s := range simQuotes {
		pair, bid, ask, err := parseQuote(s)
		if err != nil {
			return err
		}
		engine.SetQuote(pair, bid, ask)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", simAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", simAddr, err)
	}
	srv := grpc.NewServer(rpc.ServerOptions(log)...)
	rpc.RegisterAccountsServer(srv, engine)
	rpc.RegisterPositionsServer(srv, engine)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("ledger sim listening", "addr", lis.Addr().String(), "accounts", len(simAccounts), "quotes", len(simQuotes))
		return srv.Serve(lis)
	})

	var bridge *http.Server
	if simBridgeAddr != "" {
		bridge = &http.Server{
			Addr:              simBridgeAddr,
			Handler:           abook.NewHandler(engine.Bridge(), "", log),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("bridge sim listening", "addr", simBridgeAddr)
			if err := bridge.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		srv.GracefulStop()
		if bridge != nil {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return bridge.Shutdown(shutCtx)
		}
		return nil
	})
	return g.Wait()
}

// parseAccount reads trader/account:currency:balance:group.
func parseAccount(s string) (broker.Account, error) {
	ids, rest, ok := strings.Cut(s, ":")
	trader, account, ok2 := strings.Cut(ids, "/")
	parts := strings.Split(rest, ":")
	if !ok || !ok2 || trader == "" || account == "" || len(parts) != 3 {
		return broker.Account{}, fmt.Errorf("account %q: want trader/account:currency:balance:group", s)
	}
	balance, err := decimal.NewFromString(parts[1])
	if err != nil {
		return broker.Account{}, fmt.Errorf("account %q: balance: %w", s, err)
	}
	return broker.Account{
		TraderID:     trader,
		AccountID:    account,
		Currency:     parts[0],
		Balance:      balance,
		TradingGroup: parts[2],
	}, nil
}

// parseQuote reads PAIR=bid:ask.
func parseQuote(s string) (pair string, bid, ask float64, err error) {
	pair, prices, ok := strings.Cut(s, "=")
	b, a, ok2 := strings.Cut(prices, ":")
	if !ok || !ok2 || pair == "" {
		return "", 0, 0, fmt.Errorf("quote %q: want PAIR=bid:ask", s)
	}
	if bid, err = strconv.ParseFloat(b, 64); err != nil {
		return "", 0, 0, fmt.Errorf("quote %q: bid: %w", s, err)
	}
	if ask, err = strconv.ParseFloat(a, 64); err != nil {
		return "", 0, 0, fmt.Errorf("quote %q: ask: %w", s, err)
	}
	if bid <= 0 || ask < bid {
		return "", 0, 0, fmt.Errorf("quote %q: need 0 < bid <= ask", s)
	}
	return pair, bid, ask, nil
}
