// Package engine is the composition root: it owns the market data bus, the
// order queue, and every worker, and drives the CREATED -> STARTED ->
// STOPPING -> JOINED lifecycle spec §4.8 describes.
//
// Grounded on the teacher's cmd/server/main.go Server/Start/Shutdown shape
// (ordered component construction, idempotent shutdown, signal-driven
// cancellation), generalized from one hardcoded matching-engine pipeline to
// a configurable set of strategies and exchange connections.
package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rishavpaul/marketgw/internal/affinity"
	"github.com/rishavpaul/marketgw/internal/loggerworker"
	"github.com/rishavpaul/marketgw/internal/marketbus"
	"github.com/rishavpaul/marketgw/internal/metrics"
	"github.com/rishavpaul/marketgw/internal/mpsc"
	"github.com/rishavpaul/marketgw/internal/oems"
	"github.com/rishavpaul/marketgw/internal/riskcheck"
	"github.com/rishavpaul/marketgw/internal/strategy"
	"github.com/rishavpaul/marketgw/internal/wireevent"
)

// State is a lifecycle phase of the engine (spec §4.8).
type State int32

const (
	Created State = iota
	Started
	Stopping
	Joined
)

func (s State) String() string {
	switch s {
	case Created:
		return "CREATED"
	case Started:
		return "STARTED"
	case Stopping:
		return "STOPPING"
	case Joined:
		return "JOINED"
	default:
		return "UNKNOWN"
	}
}

// Config wires the components the engine composes. Strategies and
// connections are supplied by the caller (spec §6: IStrategy and
// ITradeConnection are pluggable boundaries).
type Config struct {
	MarketBusCapacity  int
	OrderQueueCapacity int

	Strategies  []strategy.IStrategy
	Connections map[uint8]oems.ITradeConnection

	RiskConfig riskcheck.Config

	LoggerConfig *loggerworker.Config // nil disables the logger worker

	Metrics *metrics.Metrics // nil disables metrics updates

	Logger *zap.Logger

	// CPU pinning (spec §6 configuration: md_thread_cpu,
	// strategy_group_a_cpu, strategy_group_b_cpu, oems_thread_cpu,
	// logger_thread_cpu, enable_cpu_pinning, enable_realtime_priority).
	// A -1 (or missing) entry means "don't pin this worker"; EnableCPUPinning
	// false ignores every CPU field and runs every worker unpinned.
	EnableCPUPinning       bool
	EnableRealtimePriority bool

	// IngestorCPU is md_thread_cpu: the core the external ingestor goroutine
	// should pin itself to via Engine.PinIngestorThread. The engine does not
	// own the ingestor goroutine (spec §1: exchange feed adapters are
	// external collaborators), so this is advisory only.
	IngestorCPU int

	// StrategyCPUs pins strategyWorkers[i] to StrategyCPUs[i], if present
	// and >= 0. The spec's two named groups (strategy_group_a_cpu,
	// strategy_group_b_cpu) are the first two entries; additional
	// strategies beyond index 1 are a generalization the spec's two-group
	// example doesn't anticipate.
	StrategyCPUs []int

	OEMSCPU   int
	LoggerCPU int
}

// Engine owns the bus, the order queue, and every worker built over them.
type Engine struct {
	cfg Config
	log *zap.Logger

	bus    *marketbus.MarketDataBus
	orders *mpsc.Queue[wireevent.OrderRequest]

	risk *riskcheck.Checker

	strategyWorkers []*strategy.Worker
	strategyByID    map[uint32]*strategy.Worker
	oemsWorker      *oems.Worker
	logWorker       *loggerworker.Worker

	state atomic.Int32

	mu sync.Mutex

	sampleDone chan struct{}
}

// New validates cfg and wires every component, but starts nothing.
func New(cfg Config) (*Engine, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MarketBusCapacity == 0 {
		cfg.MarketBusCapacity = 8192
	}
	if cfg.OrderQueueCapacity == 0 {
		cfg.OrderQueueCapacity = 4096
	}
	// A zero-value CPU field is treated as "no pin" rather than "pin to
	// core 0": spec §5 reserves core 0 for the OS, so no worker should ever
	// be pinned there and the zero value doubles safely as the sentinel.
	if cfg.IngestorCPU == 0 {
		cfg.IngestorCPU = -1
	}
	if cfg.OEMSCPU == 0 {
		cfg.OEMSCPU = -1
	}
	if cfg.LoggerCPU == 0 {
		cfg.LoggerCPU = -1
	}
	for i, c := range cfg.StrategyCPUs {
		if c == 0 {
			cfg.StrategyCPUs[i] = -1
		}
	}

	risk, err := riskcheck.New(cfg.RiskConfig)
	if err != nil {
		return nil, fmt.Errorf("engine: building risk checker: %w", err)
	}

	var busOpts []marketbus.Option
	if cfg.Metrics != nil {
		busOpts = append(busOpts, marketbus.WithMetrics(cfg.Metrics))
	}

	e := &Engine{
		cfg:          cfg,
		log:          cfg.Logger,
		bus:          marketbus.New(cfg.MarketBusCapacity, cfg.Logger, busOpts...),
		orders:       mpsc.New[wireevent.OrderRequest](cfg.OrderQueueCapacity),
		risk:         risk,
		strategyByID: make(map[uint32]*strategy.Worker),
	}

	for _, impl := range cfg.Strategies {
		w := strategy.New(e.bus, impl, e.orders, e.log)
		e.strategyWorkers = append(e.strategyWorkers, w)
		e.strategyByID[impl.StrategyID()] = w
	}

	oemsCPU := -1
	if cfg.EnableCPUPinning {
		oemsCPU = cfg.OEMSCPU
	}
	oemsOpts := []oems.Option{oems.WithCPUPin(oemsCPU, cfg.EnableRealtimePriority)}
	if cfg.Metrics != nil {
		oemsOpts = append(oemsOpts, oems.WithMetrics(cfg.Metrics))
	}
	e.oemsWorker = oems.New(e.orders, cfg.Connections, e.risk.Allow, e.routeResponse, e.log, oemsOpts...)

	if cfg.LoggerConfig != nil {
		var loggerOpts []loggerworker.Option
		if cfg.Metrics != nil {
			loggerOpts = append(loggerOpts, loggerworker.WithMetrics(cfg.Metrics))
		}
		// A logger that cannot open its destination is disabled on its own;
		// the rest of the engine is still built.
		lw, err := loggerworker.New(e.bus, *cfg.LoggerConfig, e.log, loggerOpts...)
		if err != nil {
			e.log.Error("engine: logger worker disabled", zap.Error(err))
		} else {
			e.logWorker = lw
		}
	}

	e.bus.MarkStarted()

	return e, nil
}

func (e *Engine) routeResponse(strategyID uint32, resp *wireevent.OrderResponse) {
	e.mu.Lock()
	w, ok := e.strategyByID[strategyID]
	e.mu.Unlock()
	if !ok {
		e.log.Warn("engine: response for unknown strategy", zap.Uint32("strategy_id", strategyID))
		return
	}
	w.DeliverResponse(resp)
}

// Start transitions CREATED -> STARTED, launching workers leaves-first:
// the logger and every strategy (consumers with nothing upstream of them
// besides the bus) before the OEMS worker, matching spec §4.8's ordering
// requirement. Idempotent.
func (e *Engine) Start() {
	if !e.state.CompareAndSwap(int32(Created), int32(Started)) {
		return
	}
	if e.logWorker != nil {
		if e.cfg.EnableCPUPinning {
			e.logWorker.StartPinned(e.cfg.LoggerCPU, e.cfg.EnableRealtimePriority)
		} else {
			e.logWorker.Start()
		}
	}
	for i, w := range e.strategyWorkers {
		if e.cfg.EnableCPUPinning && i < len(e.cfg.StrategyCPUs) && e.cfg.StrategyCPUs[i] >= 0 {
			w.StartPinned(e.cfg.StrategyCPUs[i], e.cfg.EnableRealtimePriority)
		} else {
			w.Start()
		}
	}
	e.oemsWorker.Start()

	if e.cfg.Metrics != nil {
		e.sampleDone = make(chan struct{})
		go e.sampleQueueDepth()
	}
}

// sampleQueueDepth periodically samples the order queue's depth into the
// OrderQueueDepth gauge. A background sampler, rather than a sample on every
// enqueue/dequeue, keeps the gauge update off the hot path (spec §8: metrics
// updates at batch boundaries only).
func (e *Engine) sampleQueueDepth() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-e.sampleDone:
			return
		case <-ticker.C:
			e.cfg.Metrics.OrderQueueDepth.Set(float64(e.orders.Len()))
		}
	}
}

// Stop transitions STARTED -> STOPPING -> JOINED, stopping and joining
// components in reverse start order: OEMS first (so no new orders are
// routed), then each strategy's consumer goroutine, then the logger's poll
// loop, then the bus itself (a safety net covering any consumer not already
// joined above), and only then the logger's file handle — closing it any
// earlier could race the logger goroutine's own in-flight write. Every step
// here blocks until its goroutine has actually returned (spec §4.8 stop():
// "alert barriers; join threads"; spec §8 property 5: "no threads remain
// joined-but-running"). Idempotent; safe to call from any goroutine,
// including a signal handler.
func (e *Engine) Stop() {
	if !e.state.CompareAndSwap(int32(Started), int32(Stopping)) {
		return
	}

	if e.sampleDone != nil {
		close(e.sampleDone)
	}

	e.oemsWorker.Stop()

	for _, w := range e.strategyWorkers {
		w.Stop()
	}

	if e.logWorker != nil {
		e.logWorker.Stop()
	}

	e.bus.Stop()

	if e.logWorker != nil {
		if err := e.logWorker.Close(); err != nil {
			e.log.Error("engine: closing logger worker", zap.Error(err))
		}
	}

	e.state.Store(int32(Joined))
}

// State reports the current lifecycle phase.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// PublishTicker is the ingestion entry point: a single producer goroutine
// (owned by the caller, e.g. an exchange market-data feed handler) calls
// this for every tick.
func (e *Engine) PublishTicker(exchangeID uint8, symbolID uint16, lastPrice, bidPrice, askPrice, volume, bidSize float64, timestampNs int64) int64 {
	return e.bus.PublishTicker(exchangeID, symbolID, lastPrice, bidPrice, askPrice, volume, bidSize, timestampNs)
}

// PinIngestorThread pins the calling goroutine to md_thread_cpu (spec §6),
// requesting real-time priority too if configured. The engine does not own
// an ingestor goroutine itself (spec §1: exchange feed adapters are
// external collaborators), so the caller's own feed-handling goroutine must
// call this once, before its first PublishTicker call. A no-op if CPU
// pinning is disabled or no ingestor CPU was configured.
func (e *Engine) PinIngestorThread() error {
	if !e.cfg.EnableCPUPinning || e.cfg.IngestorCPU < 0 {
		return nil
	}
	if err := affinity.Pin(e.cfg.IngestorCPU); err != nil {
		return err
	}
	if e.cfg.EnableRealtimePriority {
		_ = affinity.SetRealtimeFIFO(1)
	}
	return nil
}

// OrderQueueDepth reports the order queue's current approximate depth, for
// metrics.
func (e *Engine) OrderQueueDepth() int64 {
	return e.orders.Len()
}
