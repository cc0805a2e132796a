package marketbus

import (
	"sync"
	"testing"
	"time"

	"github.com/rishavpaul/marketgw/internal/wireevent"
)

func TestMarketDataBus_PublishTickerRoundTrip(t *testing.T) {
	bus := New(8, nil)

	received := make(chan wireevent.MarketEvent, 1)
	bus.RegisterConsumer(func(ev *wireevent.MarketEvent) {
		received <- *ev
	})
	bus.MarkStarted()
	bus.StartConsumerThread(0)

	bus.PublishTicker(1, 7, 100.5, 100.0, 101.0, 10, 5, 123)

	select {
	case ev := <-received:
		if ev.SymbolID != 7 || ev.LastPrice != 100.5 {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for consumer to observe published event")
	}

	bus.Stop()
}

func TestMarketDataBus_MultipleConsumersEachSeeEveryEvent(t *testing.T) {
	bus := New(16, nil)

	const consumers = 3
	counts := make([]int, consumers)
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(consumers)

	for i := 0; i < consumers; i++ {
		i := i
		n := 0
		bus.RegisterConsumer(func(ev *wireevent.MarketEvent) {
			n++
			if n == 5 {
				mu.Lock()
				counts[i] = n
				mu.Unlock()
				wg.Done()
			}
		})
	}
	bus.MarkStarted()
	for id := 0; id < consumers; id++ {
		bus.StartConsumerThread(ConsumerID(id))
	}

	for i := 0; i < 5; i++ {
		bus.PublishTicker(0, uint16(i), 1, 1, 1, 1, 1, int64(i))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for all consumers to observe 5 events")
	}

	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	for i, c := range counts {
		if c != 5 {
			t.Fatalf("consumer %d saw %d events, want 5", i, c)
		}
	}
}

func TestMarketDataBus_PollIsManual(t *testing.T) {
	bus := New(8, nil)
	id := bus.RegisterConsumer(func(*wireevent.MarketEvent) {})
	bus.MarkStarted()

	bus.PublishTicker(0, 1, 1, 1, 1, 1, 1, 0)

	var got wireevent.MarketEvent
	bus.Poll(id, func(ev *wireevent.MarketEvent) {
		got = *ev
	})

	if got.SymbolID != 1 {
		t.Fatalf("expected poll to dispatch the published event, got %+v", got)
	}

	// A second poll with nothing new published must not redeliver.
	redelivered := false
	bus.Poll(id, func(*wireevent.MarketEvent) { redelivered = true })
	if redelivered {
		t.Fatal("expected poll to be idempotent when no new event is available")
	}
}

func TestMarketDataBus_RegisterAfterStartPanics(t *testing.T) {
	bus := New(8, nil)
	bus.MarkStarted()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic registering a consumer after start")
		}
	}()
	bus.RegisterConsumer(func(*wireevent.MarketEvent) {})
}
