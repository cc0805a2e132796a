// Package demo provides a sample IStrategy and ITradeConnection so
// cmd/gatewayd has something runnable out of the box. Neither is a
// production trading strategy or a real exchange client — TopOfBook only
// tracks best bid/ask per symbol and fires one order the first time a
// symbol crosses a configured threshold; LoggingConnection just logs and
// acks.
//
// TopOfBook intentionally tracks top-of-book with a plain map rather than
// adapting the teacher's red-black-tree order book (internal/orderbook):
// a full price-level tree is built for matching against resting orders,
// which this strategy never does — it only ever needs the single best
// bid/ask per symbol, so the simpler structure is the honest fit.
package demo

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rishavpaul/marketgw/internal/wireevent"
)

// TopOfBook is a minimal IStrategy: it remembers the best bid/ask it has
// seen per symbol and submits one limit order per symbol the first time
// the spread observed is positive and at least SpreadThreshold.
type TopOfBook struct {
	id              uint32
	spreadThreshold float64
	log             *zap.Logger

	mu      sync.Mutex
	best    map[uint16]quote
	fired   map[uint16]bool
	nextOID int64
	pending *wireevent.OrderRequest
}

type quote struct {
	bid, ask float64
}

// NewTopOfBook creates a strategy identified by strategyID.
func NewTopOfBook(strategyID uint32, spreadThreshold float64, log *zap.Logger) *TopOfBook {
	if log == nil {
		log = zap.NewNop()
	}
	return &TopOfBook{
		id:              strategyID,
		spreadThreshold: spreadThreshold,
		log:             log,
		best:            make(map[uint16]quote),
		fired:           make(map[uint16]bool),
	}
}

// StrategyID implements strategy.IStrategy.
func (s *TopOfBook) StrategyID() uint32 { return s.id }

// OnMarketEvent implements strategy.IStrategy.
func (s *TopOfBook) OnMarketEvent(ev *wireevent.MarketEvent) bool {
	if ev.Type != wireevent.EventTicker {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.best[ev.SymbolID] = quote{bid: ev.BidPrice, ask: ev.AskPrice}

	if s.fired[ev.SymbolID] {
		return false
	}
	spread := ev.AskPrice - ev.BidPrice
	if spread <= 0 || spread < s.spreadThreshold {
		return false
	}

	s.fired[ev.SymbolID] = true
	s.nextOID++
	s.pending = &wireevent.OrderRequest{
		OrderID:     s.nextOID,
		StrategyID:  s.id,
		ExchangeID:  ev.ExchangeID,
		SymbolID:    ev.SymbolID,
		Side:        wireevent.SideBuy,
		Type:        wireevent.OrderLimit,
		TIF:         wireevent.TIFGoodTilCancel,
		Price:       ev.BidPrice,
		Quantity:    1,
		TimestampNs: time.Now().UnixNano(),
	}
	return true
}

// GetPendingOrder implements strategy.IStrategy.
func (s *TopOfBook) GetPendingOrder(req *wireevent.OrderRequest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return false
	}
	*req = *s.pending
	s.pending = nil
	return true
}

// OnOrderResponse implements strategy.IStrategy.
func (s *TopOfBook) OnOrderResponse(resp *wireevent.OrderResponse) {
	s.log.Info("demo: order response",
		zap.Int64("order_id", resp.OrderID),
		zap.String("status", resp.Status.String()),
		zap.Uint16("error_code", resp.ErrorCode),
	)
}

// LoggingConnection is a sample ITradeConnection: it acks every order
// immediately and never produces fills, for use with cmd/gatewayd's demo
// subcommand.
type LoggingConnection struct {
	log *zap.Logger

	mu       sync.Mutex
	nextExID int64
	pending  []wireevent.OrderResponse
}

// NewLoggingConnection creates a connection that only ever logs and acks.
func NewLoggingConnection(log *zap.Logger) *LoggingConnection {
	if log == nil {
		log = zap.NewNop()
	}
	return &LoggingConnection{log: log}
}

// SendOrder implements oems.ITradeConnection.
func (c *LoggingConnection) SendOrder(req *wireevent.OrderRequest) (int64, error) {
	c.log.Info("demo connection: order received",
		zap.Int64("order_id", req.OrderID),
		zap.String("side", req.Side.String()),
		zap.Float64("price", req.Price),
		zap.Float64("quantity", req.Quantity),
	)
	c.mu.Lock()
	c.nextExID++
	id := c.nextExID
	c.mu.Unlock()
	return id, nil
}

// CancelOrder implements oems.ITradeConnection.
func (c *LoggingConnection) CancelOrder(exchangeOrderID int64) error {
	c.log.Info("demo connection: cancel received", zap.Int64("exchange_order_id", exchangeOrderID))
	return nil
}

// PollResponses implements oems.ITradeConnection. The demo connection never
// produces unsolicited responses beyond the ack SendOrder already returned
// synchronously, so this always returns nil.
func (c *LoggingConnection) PollResponses() []wireevent.OrderResponse {
	return nil
}
