package oems

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rishavpaul/marketgw/internal/mpsc"
	"github.com/rishavpaul/marketgw/internal/wireevent"
)

type fakeConnection struct {
	mu        sync.Mutex
	sent      []wireevent.OrderRequest
	failNext  bool
	responses []wireevent.OrderResponse
}

func (c *fakeConnection) SendOrder(req *wireevent.OrderRequest) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext {
		c.failNext = false
		return 0, errors.New("submission rejected by venue")
	}
	c.sent = append(c.sent, *req)
	return int64(len(c.sent)), nil
}

func (c *fakeConnection) CancelOrder(int64) error { return nil }

func (c *fakeConnection) PollResponses() []wireevent.OrderResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.responses
	c.responses = nil
	return out
}

func newTestWorker(t *testing.T, conns map[uint8]ITradeConnection, risk RiskCheck) (*Worker, *mpsc.Queue[wireevent.OrderRequest], chan struct {
	strategyID uint32
	resp       wireevent.OrderResponse
}) {
	t.Helper()
	orders := mpsc.New[wireevent.OrderRequest](16)
	received := make(chan struct {
		strategyID uint32
		resp       wireevent.OrderResponse
	}, 16)

	onResponse := func(strategyID uint32, resp *wireevent.OrderResponse) {
		received <- struct {
			strategyID uint32
			resp       wireevent.OrderResponse
		}{strategyID, *resp}
	}

	w := New(orders, conns, risk, onResponse, nil, WithPollInterval(time.Millisecond))
	return w, orders, received
}

func TestWorker_RoutesOrderToConnection(t *testing.T) {
	conn := &fakeConnection{}
	w, orders, received := newTestWorker(t, map[uint8]ITradeConnection{0: conn}, nil)

	orders.TryPush(wireevent.OrderRequest{OrderID: 1, ExchangeID: 0, StrategyID: 9})
	w.Start()
	defer w.Stop()

	select {
	case got := <-received:
		assert.Equal(t, uint32(9), got.strategyID)
		assert.Equal(t, wireevent.StatusAck, got.resp.Status)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ack")
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.Len(t, conn.sent, 1)
	assert.Equal(t, int64(1), conn.sent[0].OrderID)
}

func TestWorker_RejectsOnRiskCheckFailure(t *testing.T) {
	conn := &fakeConnection{}
	alwaysReject := func(*wireevent.OrderRequest) bool { return false }
	w, orders, received := newTestWorker(t, map[uint8]ITradeConnection{0: conn}, alwaysReject)

	orders.TryPush(wireevent.OrderRequest{OrderID: 2, ExchangeID: 0})
	w.Start()
	defer w.Stop()

	select {
	case got := <-received:
		assert.Equal(t, wireevent.StatusRejected, got.resp.Status)
		assert.Equal(t, wireevent.RejectRiskCheckFailed, got.resp.ErrorCode)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for rejection")
	}
	assert.Equal(t, uint64(1), w.RejectCount())
}

func TestWorker_RejectsUnknownExchange(t *testing.T) {
	w, orders, received := newTestWorker(t, map[uint8]ITradeConnection{}, nil)

	orders.TryPush(wireevent.OrderRequest{OrderID: 3, ExchangeID: 5})
	w.Start()
	defer w.Stop()

	select {
	case got := <-received:
		assert.Equal(t, wireevent.RejectUnknownExchange, got.resp.ErrorCode)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for rejection")
	}
}

func TestWorker_SubmissionErrorBecomesRejection(t *testing.T) {
	conn := &fakeConnection{failNext: true}
	w, orders, received := newTestWorker(t, map[uint8]ITradeConnection{0: conn}, nil)

	orders.TryPush(wireevent.OrderRequest{OrderID: 4, ExchangeID: 0})
	w.Start()
	defer w.Stop()

	select {
	case got := <-received:
		assert.Equal(t, wireevent.StatusRejected, got.resp.Status)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for rejection")
	}
}

func TestWorker_StopIsIdempotent(t *testing.T) {
	w, _, _ := newTestWorker(t, map[uint8]ITradeConnection{}, nil)
	w.Start()
	w.Stop()
	assert.NotPanics(t, func() { w.Stop() })
}
