// Package riskcheck implements the pre-trade predicate that the OEMS
// worker runs on every order before it reaches a connection.
//
// Ported from the teacher's internal/risk/checker.go numeric checks
// (order size, order value, price band, position limit; its daily-volume
// check is not ported), adapted from orders.Order's int64-cents fields to wireevent.OrderRequest's
// float64 fields, and from per-symbol/per-account string-keyed maps to the
// small-integer SymbolID keys that spec §3 mandates off the hot path. A
// final operator-configurable rule, compiled once from a string expression
// via github.com/expr-lang/expr, lets the checks be extended without a
// rebuild (spec §6: "a pluggable risk predicate").
package riskcheck

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rishavpaul/marketgw/internal/wireevent"
)

// Config holds the numeric thresholds enforced by the built-in checks.
type Config struct {
	MaxOrderQuantity float64
	MaxOrderValue    float64
	MaxPositionSize  float64
	PriceBandPercent float64 // 0.10 = 10%

	// SymbolLimits overrides MaxPositionSize for specific symbols.
	SymbolLimits map[uint16]float64

	// CustomRule is an expr-lang boolean expression evaluated against a
	// RuleEnv; a false result rejects the order. Empty disables it.
	CustomRule string
}

// DefaultConfig returns conservative limits suitable for a demo gateway.
func DefaultConfig() Config {
	return Config{
		MaxOrderQuantity: 100000,
		MaxOrderValue:    1_000_000,
		MaxPositionSize:  1_000_000,
		PriceBandPercent: 0.10,
	}
}

// RuleEnv is the environment exposed to the compiled CustomRule expression.
type RuleEnv struct {
	Price      float64
	Quantity   float64
	Side       string
	SymbolID   uint16
	ExchangeID uint8
	Position   float64
}

// Checker evaluates OrderRequests against the built-in numeric checks plus
// an optional compiled custom rule. Safe for concurrent use; the OEMS
// worker calls it from a single goroutine, but Update* setters may be
// called from elsewhere (e.g. a fill-reporting path).
type Checker struct {
	cfg Config

	mu              sync.RWMutex
	positions       map[uint16]float64 // symbol -> net position
	referencePrices map[uint16]float64 // symbol -> last traded price

	rule *vm.Program
}

// New compiles cfg.CustomRule (if set) and returns a ready Checker.
func New(cfg Config) (*Checker, error) {
	c := &Checker{
		cfg:             cfg,
		positions:       make(map[uint16]float64),
		referencePrices: make(map[uint16]float64),
	}
	if cfg.CustomRule != "" {
		program, err := expr.Compile(cfg.CustomRule, expr.Env(RuleEnv{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("riskcheck: compiling custom rule: %w", err)
		}
		c.rule = program
	}
	return c, nil
}

// Allow reports whether req passes every configured check. It is the single
// predicate the OEMS worker runs per spec §6.
func (c *Checker) Allow(req *wireevent.OrderRequest) bool {
	if req.Quantity > c.cfg.MaxOrderQuantity {
		return false
	}

	if req.Price > 0 {
		if req.Price*req.Quantity > c.cfg.MaxOrderValue {
			return false
		}
		if !c.checkPriceBand(req) {
			return false
		}
	}

	if !c.checkPositionLimit(req) {
		return false
	}

	if c.rule != nil && !c.checkCustomRule(req) {
		return false
	}

	return true
}

func (c *Checker) checkPriceBand(req *wireevent.OrderRequest) bool {
	if req.Type != wireevent.OrderLimit {
		return true
	}
	c.mu.RLock()
	ref, ok := c.referencePrices[req.SymbolID]
	c.mu.RUnlock()
	if !ok || ref == 0 {
		return true
	}
	band := ref * c.cfg.PriceBandPercent
	return req.Price >= ref-band && req.Price <= ref+band
}

func (c *Checker) checkPositionLimit(req *wireevent.OrderRequest) bool {
	c.mu.RLock()
	current := c.positions[req.SymbolID]
	c.mu.RUnlock()

	projected := current
	if req.Side == wireevent.SideBuy {
		projected += req.Quantity
	} else {
		projected -= req.Quantity
	}
	if projected < 0 {
		projected = -projected
	}

	limit := c.cfg.MaxPositionSize
	if c.cfg.SymbolLimits != nil {
		if sl, ok := c.cfg.SymbolLimits[req.SymbolID]; ok {
			limit = sl
		}
	}
	return projected <= limit
}

func (c *Checker) checkCustomRule(req *wireevent.OrderRequest) bool {
	c.mu.RLock()
	position := c.positions[req.SymbolID]
	c.mu.RUnlock()

	env := RuleEnv{
		Price:      req.Price,
		Quantity:   req.Quantity,
		Side:       req.Side.String(),
		SymbolID:   req.SymbolID,
		ExchangeID: req.ExchangeID,
		Position:   position,
	}
	out, err := expr.Run(c.rule, env)
	if err != nil {
		return false
	}
	allowed, _ := out.(bool)
	return allowed
}

// UpdatePosition applies a fill to the tracked net position for symbolID.
func (c *Checker) UpdatePosition(symbolID uint16, side wireevent.Side, quantity float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if side == wireevent.SideBuy {
		c.positions[symbolID] += quantity
	} else {
		c.positions[symbolID] -= quantity
	}
}

// SetReferencePrice records the latest traded price for symbolID, used by
// the price-band check.
func (c *Checker) SetReferencePrice(symbolID uint16, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.referencePrices[symbolID] = price
}

// Position returns the current tracked net position for symbolID.
func (c *Checker) Position(symbolID uint16) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.positions[symbolID]
}
