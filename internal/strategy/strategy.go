// Package strategy defines the IStrategy boundary and the pinned worker
// loop that drives it from the market data bus into the order queue.
//
// Grounded on the teacher's internal/disruptor/processor.go consumer-loop
// shape (spin-wait, single dispatch goroutine, defer/recover around user
// code) adapted to consume from internal/marketbus instead of a raw ring
// slot, and to produce into internal/mpsc instead of returning an HTTP
// response.
package strategy

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rishavpaul/marketgw/internal/marketbus"
	"github.com/rishavpaul/marketgw/internal/mpsc"
	"github.com/rishavpaul/marketgw/internal/wireevent"
)

// IStrategy is the trading-logic boundary. Implementations must not block —
// every call happens on the single StrategyWorker goroutine driving it.
type IStrategy interface {
	// StrategyID identifies this strategy in OrderRequest.StrategyID.
	StrategyID() uint32

	// OnMarketEvent is called once per dispatched event. It returns true if
	// an order should be submitted, in which case GetPendingOrder is called
	// immediately after to retrieve it.
	OnMarketEvent(ev *wireevent.MarketEvent) bool

	// OnOrderResponse is called once per execution report routed back to
	// this strategy.
	OnOrderResponse(resp *wireevent.OrderResponse)

	// GetPendingOrder fills req with the order to submit and returns true,
	// or returns false to submit nothing after all (a strategy that changed
	// its mind between OnMarketEvent and this call).
	GetPendingOrder(req *wireevent.OrderRequest) bool
}

// Worker drains market events for one strategy and forwards resulting
// orders into the shared order queue.
type Worker struct {
	bus        *marketbus.MarketDataBus
	consumerID marketbus.ConsumerID
	impl       IStrategy
	orders     *mpsc.Queue[wireevent.OrderRequest]
	log        *zap.Logger

	// Written only by onEvent's goroutine, via atomic.Add; read from any
	// goroutine as a diagnostic snapshot via the accessors below.
	eventCount uint64
	orderCount uint64
	dropCount  uint64
}

// New registers impl as a market data consumer and returns the worker that
// will drive it once Start is called on the owning engine.
func New(bus *marketbus.MarketDataBus, impl IStrategy, orders *mpsc.Queue[wireevent.OrderRequest], log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	w := &Worker{impl: impl, orders: orders, log: log, bus: bus}
	w.consumerID = bus.RegisterConsumer(w.onEvent)
	return w
}

// Start launches the dedicated consumer goroutine for this strategy,
// unpinned.
func (w *Worker) Start() {
	w.bus.StartConsumerThread(w.consumerID)
}

// StartPinned is Start plus spec §6's per-strategy-group CPU pin
// (strategy_group_a_cpu/strategy_group_b_cpu) and optional real-time
// priority.
func (w *Worker) StartPinned(cpuIdx int, realtime bool) {
	w.bus.StartConsumerThreadPinned(w.consumerID, cpuIdx, realtime)
}

// Stop alerts this strategy's consumer barrier and joins its dedicated
// goroutine, mirroring oems.Worker.Stop (spec §4.8 stop(): "alert barriers;
// join threads"). Safe to call even if Start/StartPinned was never called.
func (w *Worker) Stop() {
	w.bus.StopConsumer(w.consumerID)
}

func (w *Worker) onEvent(ev *wireevent.MarketEvent) {
	atomic.AddUint64(&w.eventCount, 1)

	if !w.impl.OnMarketEvent(ev) {
		return
	}

	var req wireevent.OrderRequest
	if !w.impl.GetPendingOrder(&req) {
		return
	}
	req.StrategyID = w.impl.StrategyID()

	if !w.orders.TryPush(req) {
		atomic.AddUint64(&w.dropCount, 1)
		w.log.Warn("strategy: order queue full, order dropped",
			zap.Uint32("strategy_id", req.StrategyID),
			zap.Int64("order_id", req.OrderID),
		)
		return
	}
	atomic.AddUint64(&w.orderCount, 1)
}

// DeliverResponse routes an execution report to the strategy. Called by the
// OEMS worker, from the OEMS's own goroutine — OnOrderResponse must
// therefore tolerate being invoked from a goroutine other than the one
// running onEvent, and IStrategy implementations that touch shared state
// must guard it themselves (spec §5: "each strategy owns its own state",
// so in practice only single-strategy same-state ownership is assumed and
// no locking is done here).
func (w *Worker) DeliverResponse(resp *wireevent.OrderResponse) {
	w.impl.OnOrderResponse(resp)
}

// EventCount returns the number of market events processed so far. Safe to
// call from any goroutine as a diagnostic snapshot (may be stale).
func (w *Worker) EventCount() uint64 { return atomic.LoadUint64(&w.eventCount) }

// OrderCount returns the number of orders successfully enqueued so far.
func (w *Worker) OrderCount() uint64 { return atomic.LoadUint64(&w.orderCount) }

// DropCount returns the number of orders dropped because the queue was full.
func (w *Worker) DropCount() uint64 { return atomic.LoadUint64(&w.dropCount) }
