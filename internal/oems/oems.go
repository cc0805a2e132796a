// Package oems implements the order-execution-management-system worker: the
// single consumer of the shared order queue, routing each request to the
// exchange connection named by its exchange_id and pushing back whatever
// execution reports that connection produces.
//
// Grounded on the teacher's internal/disruptor/processor.go dispatch loop
// (single goroutine, panic-to-response recovery) generalized from one
// in-process matching engine to a registry of pluggable ITradeConnection
// implementations, per spec §4.6/§6.
package oems

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rishavpaul/marketgw/internal/affinity"
	"github.com/rishavpaul/marketgw/internal/metrics"
	"github.com/rishavpaul/marketgw/internal/mpsc"
	"github.com/rishavpaul/marketgw/internal/wireevent"
)

// ITradeConnection is the boundary to one exchange. Implementations own
// their own transport and must not block the OEMS loop for long — spec §6
// treats each call as a synchronous hand-off to the exchange's own client
// library.
type ITradeConnection interface {
	// SendOrder submits req and returns the exchange-assigned order id, or
	// an error if the submission itself failed (not a business rejection —
	// those come back later via PollResponses).
	SendOrder(req *wireevent.OrderRequest) (exchangeOrderID int64, err error)

	// CancelOrder requests cancellation of a previously sent order.
	CancelOrder(exchangeOrderID int64) error

	// PollResponses returns any execution reports available since the last
	// call, without blocking.
	PollResponses() []wireevent.OrderResponse
}

// RiskCheck evaluates an order before it is routed to a connection. It must
// not block.
type RiskCheck func(req *wireevent.OrderRequest) bool

// ResponseHandler is notified once per execution report, keyed by the
// strategy that owns the originating order (resolved by the caller, since
// the OEMS itself does not track strategy ownership beyond what travels on
// OrderRequest.StrategyID).
type ResponseHandler func(strategyID uint32, resp *wireevent.OrderResponse)

// Worker is the single-goroutine consumer of the shared order queue.
type Worker struct {
	orders      *mpsc.Queue[wireevent.OrderRequest]
	connections map[uint8]ITradeConnection
	riskCheck   RiskCheck
	onResponse  ResponseHandler
	log         *zap.Logger

	running atomic.Bool
	done    chan struct{}

	orderCount  uint64
	rejectCount uint64

	pollInterval time.Duration

	cpuIdx   int
	realtime bool

	metrics *metrics.Metrics
}

// Option configures a Worker at construction time.
type Option func(*Worker)

// WithPollInterval overrides the default idle-poll sleep between empty
// order-queue drains and response polls.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) { w.pollInterval = d }
}

// WithCPUPin requests that the OEMS goroutine lock its OS thread to cpuIdx
// (spec §6 oems_thread_cpu) and, if realtime is set, request SCHED_FIFO
// scheduling. Both degrade to a log-and-continue no-op on platforms or
// environments that deny the syscalls (spec §9 "degrade cleanly").
func WithCPUPin(cpuIdx int, realtime bool) Option {
	return func(w *Worker) {
		w.cpuIdx = cpuIdx
		w.realtime = realtime
	}
}

// WithMetrics wires Prometheus counters for submitted and rejected orders,
// labeled by rejection reason (spec §6's three reject paths: risk check,
// unknown exchange, submission error).
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// New creates an OEMS worker over orders, routing to connections keyed by
// exchange id. riskCheck runs once per order before routing; onResponse is
// called once per execution report (including synthesized rejections).
func New(orders *mpsc.Queue[wireevent.OrderRequest], connections map[uint8]ITradeConnection, riskCheck RiskCheck, onResponse ResponseHandler, log *zap.Logger, opts ...Option) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	w := &Worker{
		orders:       orders,
		connections:  connections,
		riskCheck:    riskCheck,
		onResponse:   onResponse,
		log:          log,
		done:         make(chan struct{}),
		pollInterval: 200 * time.Microsecond,
		cpuIdx:       -1,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the dedicated OEMS goroutine.
func (w *Worker) Start() {
	if !w.running.CompareAndSwap(false, true) {
		return
	}
	go w.loop()
}

// Stop signals the loop to exit and waits for it to finish.
func (w *Worker) Stop() {
	if !w.running.CompareAndSwap(true, false) {
		return
	}
	<-w.done
}

func (w *Worker) loop() {
	defer close(w.done)
	if w.cpuIdx >= 0 {
		if err := affinity.Pin(w.cpuIdx); err != nil {
			w.log.Warn("oems: cpu pin failed", zap.Int("cpu", w.cpuIdx), zap.Error(err))
		} else {
			defer affinity.Unpin()
		}
		if w.realtime {
			if err := affinity.SetRealtimeFIFO(1); err != nil {
				w.log.Debug("oems: realtime priority unavailable", zap.Error(err))
			}
		}
	}
	for w.running.Load() {
		processed := w.drainOrders()
		w.pollAllConnections()
		if !processed {
			time.Sleep(w.pollInterval)
		}
	}
	// Final drain so nothing submitted just before Stop is silently lost.
	w.drainOrders()
	w.pollAllConnections()
}

func (w *Worker) drainOrders() bool {
	any := false
	for {
		req, ok := w.orders.TryPop()
		if !ok {
			return any
		}
		any = true
		w.handleOrder(&req)
	}
}

func (w *Worker) handleOrder(req *wireevent.OrderRequest) {
	if w.riskCheck != nil && !w.riskCheck(req) {
		atomic.AddUint64(&w.rejectCount, 1)
		w.countReject("risk")
		resp := wireevent.OrderResponse{
			OrderID:     req.OrderID,
			Status:      wireevent.StatusRejected,
			ErrorCode:   wireevent.RejectRiskCheckFailed,
			TimestampNs: req.TimestampNs,
		}
		resp.SetErrorMsg("risk check failed")
		w.deliver(req.StrategyID, &resp)
		return
	}

	conn, ok := w.connections[req.ExchangeID]
	if !ok {
		atomic.AddUint64(&w.rejectCount, 1)
		w.countReject("unknown_exchange")
		resp := wireevent.OrderResponse{
			OrderID:     req.OrderID,
			Status:      wireevent.StatusRejected,
			ErrorCode:   wireevent.RejectUnknownExchange,
			TimestampNs: req.TimestampNs,
		}
		resp.SetErrorMsg("unknown exchange")
		w.deliver(req.StrategyID, &resp)
		return
	}

	exchangeOrderID, err := conn.SendOrder(req)
	if err != nil {
		atomic.AddUint64(&w.rejectCount, 1)
		w.countReject("submission_error")
		resp := wireevent.OrderResponse{
			OrderID:     req.OrderID,
			Status:      wireevent.StatusRejected,
			TimestampNs: req.TimestampNs,
		}
		resp.SetErrorMsg(err.Error())
		w.deliver(req.StrategyID, &resp)
		return
	}

	atomic.AddUint64(&w.orderCount, 1)
	if w.metrics != nil {
		w.metrics.OrdersSubmitted.Inc()
	}
	ack := wireevent.OrderResponse{
		OrderID:         req.OrderID,
		ExchangeOrderID: exchangeOrderID,
		Status:          wireevent.StatusAck,
		TimestampNs:     req.TimestampNs,
	}
	w.deliver(req.StrategyID, &ack)
}

func (w *Worker) countReject(reason string) {
	if w.metrics != nil {
		w.metrics.OrdersRejected.WithLabelValues(reason).Inc()
	}
}

func (w *Worker) pollAllConnections() {
	for _, conn := range w.connections {
		for _, resp := range conn.PollResponses() {
			resp := resp
			w.deliverUnattributed(&resp)
		}
	}
}

// deliver routes a response the OEMS itself attributed to a strategy
// (synthesized rejections and order acks, where req.StrategyID is known).
func (w *Worker) deliver(strategyID uint32, resp *wireevent.OrderResponse) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("oems: response handler panic", zap.Any("panic", r))
		}
	}()
	w.onResponse(strategyID, resp)
}

// deliverUnattributed handles a response coming back from PollResponses,
// where the connection has no notion of strategy id; callers needing
// per-strategy routing of fills must correlate OrderResponse.OrderID
// themselves in onResponse (spec §6: OrderResponse carries order_id, not
// strategy_id).
func (w *Worker) deliverUnattributed(resp *wireevent.OrderResponse) {
	w.deliver(0, resp)
}

// OrderCount returns the number of orders successfully routed to a
// connection.
func (w *Worker) OrderCount() uint64 { return atomic.LoadUint64(&w.orderCount) }

// RejectCount returns the number of orders rejected (risk, unknown
// exchange, or submission error).
func (w *Worker) RejectCount() uint64 { return atomic.LoadUint64(&w.rejectCount) }
