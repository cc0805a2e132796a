package demo

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Ticker is the minimal ingestor-facing surface of engine.Engine that Feed
// needs: a typed publish call and an optional CPU-pin hook for the
// goroutine driving it (spec §6 md_thread_cpu — the ingestor is an
// external collaborator, not an engine-owned worker, so pinning it is the
// caller's responsibility).
type Ticker interface {
	PublishTicker(exchangeID uint8, symbolID uint16, lastPrice, bidPrice, askPrice, volume, bidSize float64, timestampNs int64) int64
	PinIngestorThread() error
}

// Feed is a synthetic market-data ingestor: it walks a random log-price for
// one symbol on one exchange and publishes a ticker at a fixed rate. It
// exists so cmd/gatewayd demo has something to actually feed the bus with —
// a real ingestor would instead decode ticks off an exchange websocket, the
// out-of-scope external collaborator spec §1 names.
type Feed struct {
	eng        Ticker
	exchangeID uint8
	symbolID   uint16
	interval   time.Duration
	log        *zap.Logger

	rng       *rand.Rand
	lastPrice float64
}

// NewFeed creates a feed that publishes synthetic ticks for (exchangeID,
// symbolID) starting at startPrice.
func NewFeed(eng Ticker, exchangeID uint8, symbolID uint16, startPrice float64, interval time.Duration, log *zap.Logger) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{
		eng:        eng,
		exchangeID: exchangeID,
		symbolID:   symbolID,
		interval:   interval,
		log:        log,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		lastPrice:  startPrice,
	}
}

// Run pins the calling goroutine per spec §6's md_thread_cpu (best-effort)
// and publishes ticks until ctx is cancelled. Intended to be launched as
// its own goroutine by the caller.
func (f *Feed) Run(ctx context.Context) {
	if err := f.eng.PinIngestorThread(); err != nil {
		f.log.Debug("demo feed: cpu pin unavailable", zap.Error(err))
	}

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.tick()
		}
	}
}

func (f *Feed) tick() {
	// A small zero-drift random walk in log-price (multiplicative steps, so
	// the price stays positive) — good enough to exercise strategies, not a
	// market model.
	drift := f.rng.NormFloat64() * 0.0005
	f.lastPrice *= math.Exp(drift)

	spread := f.lastPrice * 0.0005
	bid := f.lastPrice - spread/2
	ask := f.lastPrice + spread/2

	f.eng.PublishTicker(f.exchangeID, f.symbolID, f.lastPrice, bid, ask, 1.0, 1.0, time.Now().UnixNano())
}
