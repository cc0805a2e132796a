package engine

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rishavpaul/marketgw/internal/loggerworker"
	"github.com/rishavpaul/marketgw/internal/oems"
	"github.com/rishavpaul/marketgw/internal/riskcheck"
	"github.com/rishavpaul/marketgw/internal/strategy"
	"github.com/rishavpaul/marketgw/internal/wireevent"
)

type recordingStrategy struct {
	id        uint32
	responses chan *wireevent.OrderResponse
}

func (s *recordingStrategy) StrategyID() uint32 { return s.id }
func (s *recordingStrategy) OnMarketEvent(ev *wireevent.MarketEvent) bool {
	return ev.Type == wireevent.EventTicker
}
func (s *recordingStrategy) GetPendingOrder(req *wireevent.OrderRequest) bool {
	req.OrderID = 1
	req.ExchangeID = 0
	req.SymbolID = 1
	req.Quantity = 1
	req.Price = 10
	return true
}
func (s *recordingStrategy) OnOrderResponse(resp *wireevent.OrderResponse) {
	r := *resp
	s.responses <- &r
}

type noopConnection struct{}

func (noopConnection) SendOrder(req *wireevent.OrderRequest) (int64, error) { return 1, nil }
func (noopConnection) CancelOrder(int64) error                             { return nil }
func (noopConnection) PollResponses() []wireevent.OrderResponse            { return nil }

func TestEngine_LifecycleStartStop(t *testing.T) {
	strat := &recordingStrategy{id: 1, responses: make(chan *wireevent.OrderResponse, 1)}

	eng, err := New(Config{
		MarketBusCapacity:  8,
		OrderQueueCapacity: 8,
		Strategies:         []strategy.IStrategy{strat},
		Connections:        map[uint8]oems.ITradeConnection{0: noopConnection{}},
		RiskConfig:         riskcheck.DefaultConfig(),
	})
	require.NoError(t, err)

	assert.Equal(t, Created, eng.State())
	eng.Start()
	assert.Equal(t, Started, eng.State())

	eng.PublishTicker(0, 1, 10, 9, 11, 1, 1, 0)

	select {
	case resp := <-strat.responses:
		assert.Equal(t, wireevent.StatusAck, resp.Status)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for order ack to route back to strategy")
	}

	eng.Stop()
	assert.Equal(t, Joined, eng.State())
}

func TestEngine_StartIsIdempotent(t *testing.T) {
	eng, err := New(Config{
		MarketBusCapacity:  8,
		OrderQueueCapacity: 8,
		Connections:        map[uint8]oems.ITradeConnection{},
		RiskConfig:         riskcheck.DefaultConfig(),
	})
	require.NoError(t, err)

	eng.Start()
	eng.Start() // no-op, must not panic or change state
	assert.Equal(t, Started, eng.State())
	eng.Stop()
}

// TestEngine_StopJoinsEveryWorkerGoroutine exercises spec §8 scenario 5:
// once Stop returns, every worker goroutine it launched (strategy, OEMS,
// and logger) has actually exited, not merely been signaled to exit.
// Goroutine-count deltas are inherently approximate, so this allows a short
// settle window rather than asserting an exact return-to-baseline instant.
func TestEngine_StopJoinsEveryWorkerGoroutine(t *testing.T) {
	strat := &recordingStrategy{id: 1, responses: make(chan *wireevent.OrderResponse, 1)}
	dir := t.TempDir()

	before := runtime.NumGoroutine()

	eng, err := New(Config{
		MarketBusCapacity:  8,
		OrderQueueCapacity: 8,
		Strategies:         []strategy.IStrategy{strat},
		Connections:        map[uint8]oems.ITradeConnection{0: noopConnection{}},
		RiskConfig:         riskcheck.DefaultConfig(),
		LoggerConfig:       &loggerworker.Config{Path: dir + "/events.bin"},
	})
	require.NoError(t, err)

	eng.Start()
	eng.PublishTicker(0, 1, 10, 9, 11, 1, 1, 0)

	select {
	case <-strat.responses:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for order ack to route back to strategy")
	}

	eng.Stop()
	require.Equal(t, Joined, eng.State())

	deadline := time.Now().Add(time.Second)
	for runtime.NumGoroutine() > before && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.LessOrEqual(t, runtime.NumGoroutine(), before,
		"goroutine count did not return to baseline after Stop: a worker goroutine was not joined")
}

func TestEngine_StopBeforeStartIsNoop(t *testing.T) {
	eng, err := New(Config{
		MarketBusCapacity:  8,
		OrderQueueCapacity: 8,
		Connections:        map[uint8]oems.ITradeConnection{},
		RiskConfig:         riskcheck.DefaultConfig(),
	})
	require.NoError(t, err)

	eng.Stop()
	assert.Equal(t, Created, eng.State())
}
