// Command gatewayd runs the market data / order gateway engine.
//
// Subcommands are built with github.com/spf13/cobra; graceful shutdown is
// adapted from the teacher's cmd/server/main.go SIGINT/SIGTERM handler
// (context-with-timeout cancellation, ordered component shutdown), stripped
// of the HTTP/JSON boundary the original server exposed.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rishavpaul/marketgw/internal/config"
	"github.com/rishavpaul/marketgw/internal/demo"
	"github.com/rishavpaul/marketgw/internal/engine"
	"github.com/rishavpaul/marketgw/internal/loggerworker"
	"github.com/rishavpaul/marketgw/internal/metrics"
	"github.com/rishavpaul/marketgw/internal/oems"
	"github.com/rishavpaul/marketgw/internal/riskcheck"
	"github.com/rishavpaul/marketgw/internal/strategy"
)

var (
	configPath string
	version    = "dev"
)

func main() {
	root := &cobra.Command{
		Use:   "gatewayd",
		Short: "Multi-exchange market data and order gateway",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(runCmd(), demoCmd(), versionCmd())

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the gateway with configured strategies and connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(cmd.Context(), nil, false)
		},
	}
}

func demoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run the gateway with the built-in top-of-book strategy and a logging connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(cmd.Context(), demoWiring, true)
		},
	}
}

// wiringFunc customizes the engine config beyond what config.Load produces,
// e.g. to install the demo strategy/connection.
type wiringFunc func(cfg config.Config, log *zap.Logger) engine.Config

func runEngine(ctx context.Context, wiring wiringFunc, runDemoFeed bool) error {
	loader, err := config.Load(configPath, configPath != "")
	if err != nil {
		return fmt.Errorf("gatewayd: %w", err)
	}
	cfg := loader.Current()

	log, err := buildLogger(cfg)
	if err != nil {
		return fmt.Errorf("gatewayd: building logger: %w", err)
	}
	defer log.Sync()

	runID := uuid.New().String()
	log = log.With(zap.String("run_id", runID))

	var engCfg engine.Config
	if wiring != nil {
		engCfg = wiring(cfg, log)
	} else {
		engCfg = engine.Config{
			MarketBusCapacity:  cfg.MarketBusCapacity,
			OrderQueueCapacity: cfg.OrderQueueCapacity,
			Connections:        map[uint8]oems.ITradeConnection{},
			RiskConfig:         toRiskConfig(cfg),
			Logger:             log,
		}
	}
	engCfg.LoggerConfig = loggerConfigFrom(cfg)
	engCfg.Logger = log
	applyCPUPinning(&engCfg, cfg)

	stopMetrics, err := startMetricsServer(cfg, &engCfg, log)
	if err != nil {
		return fmt.Errorf("gatewayd: starting metrics server: %w", err)
	}
	defer stopMetrics()

	eng, err := engine.New(engCfg)
	if err != nil {
		return fmt.Errorf("gatewayd: building engine: %w", err)
	}

	loader.OnReload(func(config.Config) {
		log.Info("gatewayd: configuration reloaded")
	})

	eng.Start()
	log.Info("gatewayd: engine started", zap.String("state", eng.State().String()))

	feedCtx, stopFeed := context.WithCancel(context.Background())
	defer stopFeed()
	if runDemoFeed {
		feed := demo.NewFeed(eng, 0, 1, 50000.0, time.Millisecond, log)
		go feed.Run(feedCtx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-ctx.Done():
	case sig := <-sigCh:
		log.Info("gatewayd: received shutdown signal", zap.String("signal", sig.String()))
	}

	stopFeed()
	eng.Stop()
	log.Info("gatewayd: engine stopped", zap.String("state", eng.State().String()))
	return nil
}

func demoWiring(cfg config.Config, log *zap.Logger) engine.Config {
	strat := demo.NewTopOfBook(1, 0.5, log)
	conn := demo.NewLoggingConnection(log)

	return engine.Config{
		MarketBusCapacity:  cfg.MarketBusCapacity,
		OrderQueueCapacity: cfg.OrderQueueCapacity,
		Strategies:         []strategy.IStrategy{strat},
		Connections:        map[uint8]oems.ITradeConnection{0: conn},
		RiskConfig:         toRiskConfig(cfg),
		Logger:             log,
	}
}

// applyCPUPinning copies spec §6's CPU pin map from the loaded config into
// the engine config. strategy_group_a_cpu/strategy_group_b_cpu map to the
// first two configured strategies, matching the spec's two named groups;
// the engine itself generalizes to as many strategies as are configured.
func applyCPUPinning(engCfg *engine.Config, cfg config.Config) {
	engCfg.EnableCPUPinning = cfg.EnableCPUPinning
	engCfg.EnableRealtimePriority = cfg.EnableRealtimePriority
	engCfg.IngestorCPU = cfg.MDThreadCPU
	engCfg.OEMSCPU = cfg.OEMSThreadCPU
	engCfg.LoggerCPU = cfg.LoggerThreadCPU
	engCfg.StrategyCPUs = []int{cfg.StrategyGroupACPU, cfg.StrategyGroupBCPU}
}

// startMetricsServer builds the gateway's Prometheus collectors, wires them
// into engCfg.Metrics, and serves them at cfg.MetricsAddr's /metrics
// endpoint. An empty MetricsAddr disables metrics entirely (spec §8's
// collectors are strictly additive — the engine runs the same without
// them). The returned func shuts the HTTP server down; it is always safe to
// call even when metrics were disabled.
func startMetricsServer(cfg config.Config, engCfg *engine.Config, log *zap.Logger) (func(), error) {
	if cfg.MetricsAddr == "" {
		return func() {}, nil
	}

	m := metrics.New("marketgw")
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		return nil, err
	}
	engCfg.Metrics = m

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("gatewayd: metrics server stopped", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func toRiskConfig(cfg config.Config) riskcheck.Config {
	return riskcheck.Config{
		MaxOrderQuantity: cfg.RiskLimits.MaxOrderQuantity,
		MaxOrderValue:    cfg.RiskLimits.MaxOrderValue,
		MaxPositionSize:  cfg.RiskLimits.MaxPositionSize,
		PriceBandPercent: cfg.RiskLimits.PriceBandPercent,
		CustomRule:       cfg.RiskLimits.CustomRule,
	}
}

func loggerConfigFrom(cfg config.Config) *loggerworker.Config {
	if cfg.Logger.Rotate {
		return &loggerworker.Config{
			Rotate: &lumberjack.Logger{
				Filename:   cfg.Logger.Path,
				MaxSize:    cfg.Logger.MaxSizeMB,
				MaxBackups: cfg.Logger.MaxBackups,
				MaxAge:     cfg.Logger.MaxAgeDays,
			},
		}
	}
	return &loggerworker.Config{Path: cfg.Logger.Path}
}

func buildLogger(cfg config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zcfg.Level = level
	return zcfg.Build()
}
