package strategy

import (
	"testing"
	"time"

	"github.com/rishavpaul/marketgw/internal/marketbus"
	"github.com/rishavpaul/marketgw/internal/mpsc"
	"github.com/rishavpaul/marketgw/internal/wireevent"
)

// fixedStrategy submits exactly one order the first time it sees an event,
// then stays silent.
type fixedStrategy struct {
	id    uint32
	fired bool
	resp  chan *wireevent.OrderResponse
}

func newFixedStrategy(id uint32) *fixedStrategy {
	return &fixedStrategy{id: id, resp: make(chan *wireevent.OrderResponse, 1)}
}

func (s *fixedStrategy) StrategyID() uint32 { return s.id }

func (s *fixedStrategy) OnMarketEvent(ev *wireevent.MarketEvent) bool {
	if s.fired {
		return false
	}
	s.fired = true
	return true
}

func (s *fixedStrategy) GetPendingOrder(req *wireevent.OrderRequest) bool {
	req.OrderID = 1
	req.SymbolID = 5
	req.Quantity = 10
	req.Price = 100
	return true
}

func (s *fixedStrategy) OnOrderResponse(resp *wireevent.OrderResponse) {
	r := *resp
	s.resp <- &r
}

func TestWorker_SubmitsOrderOnEvent(t *testing.T) {
	bus := marketbus.New(8, nil)
	orders := mpsc.New[wireevent.OrderRequest](8)
	impl := newFixedStrategy(42)

	w := New(bus, impl, orders, nil)
	bus.MarkStarted()
	w.Start()

	bus.PublishTicker(0, 5, 100, 99, 101, 1, 1, 0)

	deadline := time.After(time.Second)
	for orders.Len() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for order to be enqueued")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	req, ok := orders.TryPop()
	if !ok {
		t.Fatal("expected an order on the queue")
	}
	if req.StrategyID != 42 || req.OrderID != 1 {
		t.Fatalf("unexpected order: %+v", req)
	}
	if w.OrderCount() != 1 {
		t.Fatalf("expected OrderCount 1, got %d", w.OrderCount())
	}

	bus.Stop()
}

func TestWorker_DeliverResponseRoutesToStrategy(t *testing.T) {
	bus := marketbus.New(8, nil)
	orders := mpsc.New[wireevent.OrderRequest](8)
	impl := newFixedStrategy(7)
	w := New(bus, impl, orders, nil)
	bus.MarkStarted()

	resp := &wireevent.OrderResponse{OrderID: 99, Status: wireevent.StatusAck}
	w.DeliverResponse(resp)

	select {
	case got := <-impl.resp:
		if got.OrderID != 99 {
			t.Fatalf("unexpected response: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response delivery")
	}
}

func TestWorker_DropsOrderWhenQueueFull(t *testing.T) {
	bus := marketbus.New(8, nil)
	orders := mpsc.New[wireevent.OrderRequest](1)
	// Pre-fill the queue so the strategy's order cannot fit.
	orders.TryPush(wireevent.OrderRequest{OrderID: -1})

	impl := newFixedStrategy(1)
	w := New(bus, impl, orders, nil)
	bus.MarkStarted()
	w.Start()

	bus.PublishTicker(0, 1, 1, 1, 1, 1, 1, 0)

	deadline := time.After(time.Second)
	for w.EventCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for event to be processed")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	time.Sleep(10 * time.Millisecond)

	if w.DropCount() != 1 {
		t.Fatalf("expected DropCount 1, got %d", w.DropCount())
	}
	if w.OrderCount() != 0 {
		t.Fatalf("expected OrderCount 0, got %d", w.OrderCount())
	}

	bus.Stop()
}

// TestWorker_StopJoinsConsumerGoroutine exercises spec §4.8 stop()'s "alert
// barriers; join threads": Stop must not return until the dedicated
// goroutine StartConsumerThreadPinned launched has actually exited.
func TestWorker_StopJoinsConsumerGoroutine(t *testing.T) {
	bus := marketbus.New(8, nil)
	orders := mpsc.New[wireevent.OrderRequest](8)
	impl := newFixedStrategy(1)

	w := New(bus, impl, orders, nil)
	bus.MarkStarted()
	w.Start()

	bus.PublishTicker(0, 1, 1, 1, 1, 1, 1, 0)

	deadline := time.After(time.Second)
	for w.EventCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for event to be processed")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return: consumer goroutine was not joined")
	}
}
