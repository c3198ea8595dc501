package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rustyeddy/trading-executor/broker/abook"
	"github.com/rustyeddy/trading-executor/config"
	"github.com/rustyeddy/trading-executor/executor"
	"github.com/rustyeddy/trading-executor/internal/alert"
	"github.com/rustyeddy/trading-executor/internal/httpapi"
	"github.com/rustyeddy/trading-executor/internal/logging"
	"github.com/rustyeddy/trading-executor/internal/metrics"
	"github.com/rustyeddy/trading-executor/journal"
	"github.com/rustyeddy/trading-executor/refdata"
	"github.com/rustyeddy/trading-executor/rpc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the executor gRPC service",
	Long: `Start the trading executor.

The gRPC service listens on server.grpc_addr; health, readiness, metrics and
saga lookups are served over HTTP on server.http_addr. Reference data is
loaded from the seed file and kept current by the replication feed and the
price stream when their URLs are configured.

Example:
  trading-executor serve -c executor.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}

	log, logCloser, err := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}, os.Stderr)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := newService(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	return svc.Run(ctx)
}

// service owns every long-lived component of a running executor.
type service struct {
	cfg  *config.Config
	log  *slog.Logger
	reg  *prometheus.Registry
	snap *refdata.Snapshot

	grpc    *grpc.Server
	health  *health.Server
	http    *http.Server
	feed    *refdata.Feed
	prices  *refdata.PriceStream
	closers []io.Closer
}

func newService(ctx context.Context, cfg *config.Config, log *slog.Logger) (svc *service, err error) {
	svc = &service{cfg: cfg, log: log, snap: refdata.NewSnapshot()}
	defer func() {
		if err != nil {
			svc.Close()
		}
	}()

	svc.reg = prometheus.NewRegistry()
	svc.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(svc.reg)

	if cfg.RefData.SeedFile != "" {
		seed, err := refdata.LoadSeed(cfg.RefData.SeedFile)
		if err != nil {
			return svc, err
		}
		svc.snap.Apply(seed)
		log.Info("reference seed loaded", "file", cfg.RefData.SeedFile, "stats", svc.snap.Stats())
	}
	if cfg.RefData.FeedURL != "" {
		svc.feed = refdata.NewFeed(cfg.RefData.FeedURL, svc.snap, log.With("component", "refdata_feed"))
		if cfg.RefData.FeedToken != "" {
			svc.feed.Header = http.Header{"X-Feed-Token": []string{cfg.RefData.FeedToken}}
		}
	}
	if cfg.RefData.PriceStreamURL != "" {
		svc.prices = refdata.NewPriceStream(cfg.RefData.PriceStreamURL, cfg.RefData.PriceStreamToken, svc.snap, log.With("component", "price_stream"))
	}

	j, err := journal.Open(ctx, journal.Options{Type: cfg.Journal.Type, Path: cfg.Journal.Path(), DSN: cfg.Journal.DSN})
	if err != nil {
		return svc, fmt.Errorf("open journal: %w", err)
	}
	svc.closers = append(svc.closers, j)
	reader, _ := j.(journal.Reader)

	var esc alert.Multi
	esc = append(esc, alert.Log{Logger: log.With("component", "alert")})
	if cfg.Alert.Enabled() {
		k := alert.NewKafka(cfg.Alert.KafkaBrokers, cfg.Alert.KafkaTopic)
		svc.closers = append(svc.closers, k)
		esc = append(esc, k)
	}

	accounts, err := rpc.Dial(cfg.AccountsManager.Addr, cfg.AccountsManager.Timeout(), cfg.AccountsManager.Retries)
	if err != nil {
		return svc, err
	}
	svc.closers = append(svc.closers, accounts)
	positions, err := rpc.Dial(cfg.PositionManager.Addr, cfg.PositionManager.Timeout(), cfg.PositionManager.Retries)
	if err != nil {
		return svc, err
	}
	svc.closers = append(svc.closers, positions)

	opts := []executor.Option{
		executor.WithLogger(log),
		executor.WithJournal(j),
		executor.WithMetrics(m),
		executor.WithEscalator(esc),
		executor.WithDefaultCollateral(cfg.Executor.DefaultCollateral),
		executor.WithCompensation(cfg.Executor.CompensationTimeoutDuration(), cfg.Executor.CompensationAttempts),
	}
	if cfg.ABookBridge.Enabled() {
		opts = append(opts, executor.WithBridge(abook.NewClient(cfg.ABookBridge.URL, cfg.ABookBridge.Token, cfg.ABookBridge.TimeoutDuration())))
	}
	x := executor.New(svc.snap, rpc.NewAccountsClient(accounts), rpc.NewPositionsClient(positions), opts...)

	svc.grpc = grpc.NewServer(rpc.ServerOptions(log)...)
	rpc.RegisterExecutorServer(svc.grpc, x, log)
	svc.health = health.NewServer()
	healthpb.RegisterHealthServer(svc.grpc, svc.health)

	svc.http = &http.Server{
		Addr: cfg.Server.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Snapshot: svc.snap,
			Gatherer: svc.reg,
			Journal:  reader,
			Logger:   log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return svc, nil
}

// Run serves until ctx is cancelled, then drains the gRPC server and the
// HTTP server.
func (s *service) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.GRPCAddr, err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("grpc listening", "addr", lis.Addr().String())
		return s.grpc.Serve(lis)
	})
	g.Go(func() error {
		s.log.Info("http listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if s.feed != nil {
		g.Go(func() error { return ignoreCanceled(s.feed.Run(ctx)) })
	}
	if s.prices != nil {
		g.Go(func() error { return ignoreCanceled(s.prices.Run(ctx)) })
	}
	g.Go(func() error {
		s.watchReady(ctx)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		s.log.Info("shutting down")
		s.health.Shutdown()

		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		stopped := make(chan struct{})
		go func() {
			s.grpc.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutCtx.Done():
			s.grpc.Stop()
		}
		return s.http.Shutdown(shutCtx)
	})

	return g.Wait()
}

// watchReady flips the gRPC health status once the reference snapshot has
// every table.
func (s *service) watchReady(ctx context.Context) {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		if s.snap.Ready() {
			s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
			s.log.Info("reference data ready", "stats", s.snap.Stats())
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (s *service) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.log.Warn("close failed", "error", err)
		}
	}
	s.closers = nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
