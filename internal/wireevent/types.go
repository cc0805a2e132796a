// Package wireevent defines the fixed-size, cache-aligned payload structs
// that travel across the ring buffer and the order queue.
//
// These are plain data: no owning pointers, no slices, no interfaces. Their
// lifetime is the lifetime of the ring/queue slot that holds them, never
// longer. Apart from ErrorMsgString, which builds a new string, nothing in
// this package allocates.
package wireevent

// EventType identifies the kind of payload carried by a MarketEvent.
type EventType uint8

const (
	EventNone EventType = iota
	EventTicker
	EventTrade
	EventDepth
	EventKline
	EventFunding
)

func (t EventType) String() string {
	switch t {
	case EventNone:
		return "NONE"
	case EventTicker:
		return "TICKER"
	case EventTrade:
		return "TRADE"
	case EventDepth:
		return "DEPTH"
	case EventKline:
		return "KLINE"
	case EventFunding:
		return "FUNDING"
	default:
		return "UNKNOWN"
	}
}

// MarketEvent is a 64-byte (one cache line) market data record. Symbols and
// exchanges are small integer IDs assigned by internal/idmap; the hot path
// never touches strings.
type MarketEvent struct {
	TimestampNs int64
	Type        EventType
	ExchangeID  uint8
	SymbolID    uint16
	Sequence    uint32
	LastPrice   float64
	BidPrice    float64
	AskPrice    float64
	Volume      float64
	BidSize     float64
	_spare      float64
}

// Side is the direction of an order.
type Side uint8

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	if s == SideSell {
		return "SELL"
	}
	return "BUY"
}

// OrderKind is the execution type of an order.
type OrderKind uint8

const (
	OrderMarket OrderKind = iota
	OrderLimit
)

func (k OrderKind) String() string {
	if k == OrderMarket {
		return "MARKET"
	}
	return "LIMIT"
}

// TimeInForce controls how long an order remains eligible to match.
type TimeInForce uint8

const (
	TIFGoodTilCancel TimeInForce = iota
	TIFImmediateOrCancel
	TIFFillOrKill
)

// PositionSide distinguishes which side of a (possibly hedged) position an
// order affects. Single-sided accounts always use PositionBoth.
type PositionSide uint8

const (
	PositionBoth PositionSide = iota
	PositionLong
	PositionShort
)

// OrderRequest is a 128-byte order submission, produced by a strategy and
// consumed by the OEMS worker via the order queue.
type OrderRequest struct {
	OrderID     int64
	StrategyID  uint32
	ExchangeID  uint8
	SymbolID    uint16
	Side        Side
	Type        OrderKind
	PosSide     PositionSide
	TIF         TimeInForce
	Price       float64
	Quantity    float64
	TimestampNs int64
	_reserved   [80]byte
}

// OrderStatus is the lifecycle state reported in an OrderResponse.
type OrderStatus uint8

const (
	StatusNew OrderStatus = iota
	StatusAck
	StatusPartial
	StatusFilled
	StatusCancelled
	StatusRejected
)

func (s OrderStatus) String() string {
	switch s {
	case StatusNew:
		return "NEW"
	case StatusAck:
		return "ACK"
	case StatusPartial:
		return "PARTIAL"
	case StatusFilled:
		return "FILLED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// RejectRiskCheckFailed is the error_code synthesized for a risk rejection
// (spec §7 "Risk rejection").
const RejectRiskCheckFailed uint16 = 1001

// RejectUnknownExchange is the error_code synthesized when an order targets
// an exchange_id with no registered connection (spec §7 "Unknown exchange").
const RejectUnknownExchange uint16 = 1002

// OrderResponse is a 128-byte execution report flowing back from a
// connection (or synthesized by the OEMS) to the response handler.
type OrderResponse struct {
	OrderID         int64
	ExchangeOrderID int64
	Status          OrderStatus
	FilledQty       float64
	AvgPrice        float64
	ErrorCode       uint16
	ErrorMsg        [64]byte
	TimestampNs     int64
	_reserved       [8]byte
}

// SetErrorMsg copies s into the fixed-size ErrorMsg field, truncating if
// necessary. It never allocates beyond the copy itself.
func (r *OrderResponse) SetErrorMsg(s string) {
	n := copy(r.ErrorMsg[:], s)
	for i := n; i < len(r.ErrorMsg); i++ {
		r.ErrorMsg[i] = 0
	}
}

// ErrorMsgString returns the ErrorMsg field as a Go string, trimmed at the
// first NUL byte.
func (r *OrderResponse) ErrorMsgString() string {
	n := 0
	for ; n < len(r.ErrorMsg); n++ {
		if r.ErrorMsg[n] == 0 {
			break
		}
	}
	return string(r.ErrorMsg[:n])
}
