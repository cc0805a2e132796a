// Package config loads gateway configuration from file/env via
// github.com/spf13/viper and optionally hot-reloads the non-hot-path
// fields (log level, risk limits, rotation settings) via
// github.com/fsnotify/fsnotify. Ring/queue capacities, CPU pinning, and
// anything read on the dispatch path are deliberately excluded from reload
// — those require a fresh engine (spec §9: "no restart after join").
package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the full set of gateway settings.
type Config struct {
	// Hot-path, fixed at engine construction, never hot-reloaded.
	MarketBusCapacity  int      `mapstructure:"market_bus_capacity"`
	OrderQueueCapacity int      `mapstructure:"order_queue_capacity"`
	Symbols            []string `mapstructure:"symbols"`
	Exchanges          []string `mapstructure:"exchanges"`

	// CPU pin map, spec §6's literal configuration fields.
	EnableCPUPinning       bool `mapstructure:"enable_cpu_pinning"`
	EnableRealtimePriority bool `mapstructure:"enable_realtime_priority"`
	MDThreadCPU            int  `mapstructure:"md_thread_cpu"`
	StrategyGroupACPU      int  `mapstructure:"strategy_group_a_cpu"`
	StrategyGroupBCPU      int  `mapstructure:"strategy_group_b_cpu"`
	OEMSThreadCPU          int  `mapstructure:"oems_thread_cpu"`
	LoggerThreadCPU        int  `mapstructure:"logger_thread_cpu"`

	// Reloadable.
	LogLevel    string  `mapstructure:"log_level"`
	LogPath     string  `mapstructure:"log_path"`
	RiskLimits  Risk    `mapstructure:"risk_limits"`
	Logger      Logger  `mapstructure:"logger"`
	MetricsAddr string  `mapstructure:"metrics_addr"`
}

// Risk mirrors riskcheck.Config's serializable fields.
type Risk struct {
	MaxOrderQuantity float64 `mapstructure:"max_order_quantity"`
	MaxOrderValue    float64 `mapstructure:"max_order_value"`
	MaxPositionSize  float64 `mapstructure:"max_position_size"`
	PriceBandPercent float64 `mapstructure:"price_band_percent"`
	CustomRule       string  `mapstructure:"custom_rule"`
}

// Logger mirrors loggerworker's rotation knobs.
type Logger struct {
	Path       string `mapstructure:"path"`
	Rotate     bool   `mapstructure:"rotate"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Default returns a conservative configuration suitable for local/demo use.
func Default() Config {
	return Config{
		MarketBusCapacity:  8192,
		OrderQueueCapacity: 4096,
		Symbols:            []string{"BTC-USD", "ETH-USD"},
		Exchanges:          []string{"SIM"},
		LogLevel:           "info",
		LogPath:            "gateway.log",
		RiskLimits: Risk{
			MaxOrderQuantity: 100000,
			MaxOrderValue:    1_000_000,
			MaxPositionSize:  1_000_000,
			PriceBandPercent: 0.10,
		},
		Logger: Logger{
			Path: "market_events.bin",
		},
		MetricsAddr: ":9090",
	}
}

// Loader owns the viper instance and notifies subscribers of reloadable
// changes.
type Loader struct {
	v *viper.Viper

	mu          sync.RWMutex
	current     Config
	subscribers []func(Config)
}

// Load reads path (if non-empty) and environment variables prefixed
// MARKETGW_, merging over Default(), and starts watching path for changes
// if watch is true.
func Load(path string, watch bool) (*Loader, error) {
	v := viper.New()
	v.SetEnvPrefix("MARKETGW")
	v.AutomaticEnv()

	def := Default()
	v.SetConfigType("yaml")
	v.SetDefault("market_bus_capacity", def.MarketBusCapacity)
	v.SetDefault("order_queue_capacity", def.OrderQueueCapacity)
	v.SetDefault("symbols", def.Symbols)
	v.SetDefault("exchanges", def.Exchanges)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_path", def.LogPath)
	v.SetDefault("metrics_addr", def.MetricsAddr)
	v.SetDefault("risk_limits.max_order_quantity", def.RiskLimits.MaxOrderQuantity)
	v.SetDefault("risk_limits.max_order_value", def.RiskLimits.MaxOrderValue)
	v.SetDefault("risk_limits.max_position_size", def.RiskLimits.MaxPositionSize)
	v.SetDefault("risk_limits.price_band_percent", def.RiskLimits.PriceBandPercent)
	v.SetDefault("logger.path", def.Logger.Path)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	l := &Loader{v: v, current: cfg}

	if watch && path != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			l.reload()
		})
		v.WatchConfig()
	}

	return l, nil
}

func (l *Loader) reload() {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return // keep serving the last good config
	}

	l.mu.Lock()
	prev := l.current
	// Hot-path fields are pinned to their original values: a config file
	// edit cannot silently resize a running ring buffer or move CPU
	// pinning out from under a live worker.
	cfg.MarketBusCapacity = prev.MarketBusCapacity
	cfg.OrderQueueCapacity = prev.OrderQueueCapacity
	cfg.EnableCPUPinning = prev.EnableCPUPinning
	cfg.EnableRealtimePriority = prev.EnableRealtimePriority
	cfg.MDThreadCPU = prev.MDThreadCPU
	cfg.StrategyGroupACPU = prev.StrategyGroupACPU
	cfg.StrategyGroupBCPU = prev.StrategyGroupBCPU
	cfg.OEMSThreadCPU = prev.OEMSThreadCPU
	cfg.LoggerThreadCPU = prev.LoggerThreadCPU
	cfg.Symbols = prev.Symbols
	cfg.Exchanges = prev.Exchanges
	l.current = cfg
	subs := append([]func(Config){}, l.subscribers...)
	l.mu.Unlock()

	for _, sub := range subs {
		sub(cfg)
	}
}

// Current returns the most recently loaded configuration.
func (l *Loader) Current() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnReload registers fn to be called with the new config whenever the
// watched file changes. fn is invoked on the fsnotify goroutine and must
// not block.
func (l *Loader) OnReload(fn func(Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribers = append(l.subscribers, fn)
}
