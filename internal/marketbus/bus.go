// Package marketbus is the SPMC façade over internal/ringbuf: a typed
// publish API for the ingestor and a consumer-registration API for
// strategies, the logger, and any manual poller.
//
// Grounded on the publish/consume shape of internal/disruptor (ring_buffer
// + sequencer) and on the per-subscriber registration idiom of
// internal/marketdata.Publisher, unified into one lock-free bus instead of
// the teacher's two separate mechanisms (spec §9 Open Question: the logger
// must be a proper registered consumer, not a raw pointer into ring
// storage).
package marketbus

import (
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rishavpaul/marketgw/internal/affinity"
	"github.com/rishavpaul/marketgw/internal/metrics"
	"github.com/rishavpaul/marketgw/internal/ringbuf"
	"github.com/rishavpaul/marketgw/internal/wireevent"
)

// Handler processes one market event. It must not block or panic across the
// call boundary — MarketDataBus recovers and logs any panic at the edge of
// each dispatch (spec §7 "Handler exception").
type Handler func(ev *wireevent.MarketEvent)

// ConsumerID identifies a registered consumer slot.
type ConsumerID int

// consumer holds one registration's state: its own progress sequence, the
// handler, and (for dedicated-thread mode) its running flag.
type consumer struct {
	id      ConsumerID
	handler Handler
	local   atomic.Int64 // last sequence fully processed
	barrier *ringbuf.SequenceBarrier[wireevent.MarketEvent]
	running atomic.Bool
	started bool
	done    chan struct{} // closed when the dedicated-thread goroutine returns
}

// MarketDataBus is the single-producer/multi-consumer market data
// distribution point.
type MarketDataBus struct {
	ring *ringbuf.RingBuffer[wireevent.MarketEvent]

	mu        sync.Mutex // protects registration bookkeeping, not the hot path
	consumers []*consumer
	started   bool

	producerSeq atomic.Int64 // bookkeeping only, relaxed reads (spec §5)

	log     *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a MarketDataBus at construction time.
type Option func(*MarketDataBus)

// WithMetrics wires Prometheus collectors for the publish count and each
// consumer's lag (spec §7 "Slow-consumer data loss": "observable only via
// external monitoring"). Updated once per Publish call and once per
// consumer batch, never per dispatched handler invocation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *MarketDataBus) { b.metrics = m }
}

// New creates a bus over a ring of the given power-of-two capacity.
func New(capacity int, log *zap.Logger, opts ...Option) *MarketDataBus {
	if log == nil {
		log = zap.NewNop()
	}
	b := &MarketDataBus{
		ring: ringbuf.New[wireevent.MarketEvent](capacity),
		log:  log,
	}
	b.producerSeq.Store(ringbuf.NoSequence)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Capacity returns the ring's fixed capacity.
func (b *MarketDataBus) Capacity() int64 {
	return b.ring.Capacity()
}

// Cursor returns the highest published sequence.
func (b *MarketDataBus) Cursor() int64 {
	return b.ring.Cursor()
}

// Next returns the next slot for the producer (ingestor) to fill in place.
// Single-producer contract.
func (b *MarketDataBus) Next() (seq int64, slot *wireevent.MarketEvent) {
	seq = b.ring.Next()
	return seq, b.ring.Get(seq)
}

// Publish releases seq, making it visible to all registered consumers.
func (b *MarketDataBus) Publish(seq int64) {
	b.ring.Publish(seq)
	b.producerSeq.Store(seq)
	if b.metrics != nil {
		b.metrics.MarketEventsPublished.Inc()
	}
}

// PublishTicker is the typed convenience publish form for spec §6's
// publish_ticker.
func (b *MarketDataBus) PublishTicker(exchangeID uint8, symbolID uint16, lastPrice, bidPrice, askPrice, volume, bidSize float64, timestampNs int64) int64 {
	seq, ev := b.Next()
	ev.TimestampNs = timestampNs
	ev.Type = wireevent.EventTicker
	ev.ExchangeID = exchangeID
	ev.SymbolID = symbolID
	ev.Sequence = uint32(seq)
	ev.LastPrice = lastPrice
	ev.BidPrice = bidPrice
	ev.AskPrice = askPrice
	ev.Volume = volume
	ev.BidSize = bidSize
	b.Publish(seq)
	return seq
}

// RegisterConsumer assigns a new consumer id bound to handler. Valid only
// before Start (spec §4.4: "Registration is only valid before start()").
func (b *MarketDataBus) RegisterConsumer(handler Handler) ConsumerID {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		panic("marketbus: cannot register a consumer after Start")
	}
	id := ConsumerID(len(b.consumers))
	c := &consumer{
		id:      id,
		handler: handler,
		barrier: ringbuf.NewSequenceBarrier(b.ring),
	}
	c.local.Store(ringbuf.NoSequence)
	b.consumers = append(b.consumers, c)
	return id
}

func (b *MarketDataBus) consumerByID(id ConsumerID) *consumer {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(id) < 0 || int(id) >= len(b.consumers) {
		return nil
	}
	return b.consumers[id]
}

// StartConsumerThread launches a dedicated goroutine driving the consumer
// registered as id (spec §4.4 drive mode (a)). The goroutine waits on the
// barrier, drains every event from its local+1 through the available
// cursor, and repeats until alerted.
func (b *MarketDataBus) StartConsumerThread(id ConsumerID) {
	b.StartConsumerThreadPinned(id, -1, false)
}

// StartConsumerThreadPinned is StartConsumerThread plus spec §6's CPU-pin
// configuration: when cpuIdx >= 0 the goroutine locks its OS thread to that
// core (and, if realtime is set, requests SCHED_FIFO) before entering the
// dispatch loop, degrading to an ordinary unpinned goroutine on pin failure
// or on platforms affinity doesn't support (spec §9 "degrade cleanly").
func (b *MarketDataBus) StartConsumerThreadPinned(id ConsumerID, cpuIdx int, realtime bool) {
	c := b.consumerByID(id)
	if c == nil {
		return
	}
	c.running.Store(true)
	c.started = true
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		if cpuIdx >= 0 {
			if err := affinity.Pin(cpuIdx); err != nil {
				b.log.Warn("marketbus: cpu pin failed", zap.Int("cpu", cpuIdx), zap.Int("consumer", int(c.id)), zap.Error(err))
			} else {
				defer affinity.Unpin()
			}
			if realtime {
				if err := affinity.SetRealtimeFIFO(1); err != nil {
					b.log.Debug("marketbus: realtime priority unavailable", zap.Int("consumer", int(c.id)), zap.Error(err))
				}
			}
		}
		b.consumerLoop(c)
	}()
}

func (b *MarketDataBus) consumerLoop(c *consumer) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("marketbus: consumer loop panic", zap.Any("panic", r), zap.Int("consumer", int(c.id)))
		}
	}()

	for c.running.Load() {
		local := c.local.Load()
		available := c.barrier.WaitFor(local + 1)
		if available < 0 {
			return // alerted
		}
		b.reportBatchMetrics(c, local, available)
		b.drain(c, local, available)
	}
}

// reportBatchMetrics samples lag and slow-consumer loss once per batch
// (never per event), per spec §7 "observable only via external
// monitoring": if the producer has advanced more than the ring's capacity
// past this consumer's last-processed sequence, the consumer's next reads
// will observe already-overwritten slots for the unreachable range.
func (b *MarketDataBus) reportBatchMetrics(c *consumer, local, available int64) {
	if b.metrics == nil {
		return
	}
	lag := available - local
	b.metrics.ConsumerLag.WithLabelValues(consumerLabel(c.id)).Set(float64(lag))
	if overrun := lag - b.ring.Capacity(); overrun > 0 {
		b.metrics.MarketEventsDropped.Add(float64(overrun))
	}
}

func consumerLabel(id ConsumerID) string {
	return "consumer-" + strconv.Itoa(int(id))
}

func (b *MarketDataBus) drain(c *consumer, from, to int64) {
	for seq := from + 1; seq <= to; seq++ {
		b.dispatch(c, seq)
		c.local.Store(seq)
	}
}

func (b *MarketDataBus) dispatch(c *consumer, seq int64) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("marketbus: handler panic", zap.Any("panic", r), zap.Int64("sequence", seq), zap.Int("consumer", int(c.id)))
		}
	}()
	ev := b.ring.Get(seq)
	if ev.Type == wireevent.EventNone {
		return // sentinel, filtered before dispatch (spec §4.4 shutdown)
	}
	c.handler(ev)
}

// StopConsumer alerts and joins a single dedicated-thread consumer's
// goroutine (spec §4.8 stop(): "alert barriers; join threads"), independent
// of the bus's own Stop. A no-op for a consumer that was never started via
// StartConsumerThread(Pinned).
func (b *MarketDataBus) StopConsumer(id ConsumerID) {
	c := b.consumerByID(id)
	if c == nil {
		return
	}
	c.running.Store(false)
	c.barrier.Alert()
	if c.started {
		<-c.done
	}
}

// Poll drains every new event for consumer id non-blockingly (spec §4.4
// drive mode (b), "manual poll"). The passed handler is used for this call
// only, overriding (but not replacing) the registered one, which lets a
// caller reuse the same registration across different call sites.
func (b *MarketDataBus) Poll(id ConsumerID, handler Handler) {
	c := b.consumerByID(id)
	if c == nil {
		return
	}
	local := c.local.Load()
	target := local + 1
	available, ready := c.barrier.TryWaitFor(target)
	if !ready || available < 0 {
		return
	}
	saved := c.handler
	c.handler = handler
	b.drain(c, local, available)
	c.handler = saved
}

// Stop marks the bus as shut down, alerts every registered consumer's
// barrier (waking any busy-spinning dedicated-thread consumer), and then
// joins each dedicated-thread consumer's goroutine before returning (spec
// §4.8 stop(): "alert barriers; join threads" — the only blocking calls in
// shutdown are these joins). It also publishes a sentinel EventNone so a
// consumer parked on WaitFor(local+1) observes a cursor advance even if no
// real event was ever going to arrive again.
func (b *MarketDataBus) Stop() {
	b.mu.Lock()
	consumers := append([]*consumer(nil), b.consumers...)
	b.mu.Unlock()

	for _, c := range consumers {
		c.running.Store(false)
		c.barrier.Alert()
	}

	seq, ev := b.Next()
	*ev = wireevent.MarketEvent{Type: wireevent.EventNone}
	b.Publish(seq)

	for _, c := range consumers {
		if c.started {
			<-c.done
		}
	}
}

// MarkStarted freezes registration; called by the owning engine once all
// consumers are registered (spec §4.4: registration only valid pre-start).
func (b *MarketDataBus) MarkStarted() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = true
}
