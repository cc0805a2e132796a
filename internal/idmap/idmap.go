// Package idmap maintains the bidirectional mapping between human-readable
// symbol/exchange names and the small integer ids that travel on the hot
// path (spec §3: "the hot path never touches strings").
//
// Registration goes through an optional Redis-backed shared cache so
// multiple gateway processes agree on the same id for the same name;
// lookups on the hot path only ever touch the in-memory maps, never Redis.
// Grounded on the token-bucket's use of github.com/redis/go-redis/v9 in the
// teacher repo's rate-limiter/gateway module (same pack, sibling module)
// and its pattern of treating Redis as an out-of-band coordination point
// rather than something read per request.
package idmap

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "marketgw:idmap:"

// Registry assigns and remembers small-integer ids for symbol and exchange
// names within one of two namespaces.
type Registry struct {
	mu sync.RWMutex

	symbolByID   map[uint16]string
	symbolByName map[string]uint16
	nextSymbol   uint16

	exchangeByID   map[uint8]string
	exchangeByName map[string]uint8
	nextExchange   uint8

	redis *redis.Client // optional; nil means in-memory only
}

// New creates an empty registry. redisClient may be nil to disable shared
// cache lookups entirely.
func New(redisClient *redis.Client) *Registry {
	return &Registry{
		symbolByID:     make(map[uint16]string),
		symbolByName:   make(map[string]uint16),
		exchangeByID:   make(map[uint8]string),
		exchangeByName: make(map[string]uint8),
		redis:          redisClient,
	}
}

// RegisterExchange returns the id for name, assigning a new one (and
// publishing it to the shared cache, if configured) if name is unseen.
// Called only during setup/reconnect, never on the hot path.
func (r *Registry) RegisterExchange(ctx context.Context, name string) (uint8, error) {
	r.mu.Lock()
	if id, ok := r.exchangeByName[name]; ok {
		r.mu.Unlock()
		return id, nil
	}
	r.mu.Unlock()

	if id, ok, err := r.lookupShared(ctx, "exchange:"+name); err != nil {
		return 0, err
	} else if ok {
		r.mu.Lock()
		r.exchangeByName[name] = uint8(id)
		r.exchangeByID[uint8(id)] = name
		r.mu.Unlock()
		return uint8(id), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.exchangeByName[name]; ok {
		return id, nil
	}
	id := r.nextExchange
	r.nextExchange++
	r.exchangeByName[name] = id
	r.exchangeByID[id] = name
	r.publishShared(ctx, "exchange:"+name, uint64(id))
	return id, nil
}

// RegisterSymbol returns the id for name, assigning a new one if unseen.
func (r *Registry) RegisterSymbol(ctx context.Context, name string) (uint16, error) {
	r.mu.Lock()
	if id, ok := r.symbolByName[name]; ok {
		r.mu.Unlock()
		return id, nil
	}
	r.mu.Unlock()

	if id, ok, err := r.lookupShared(ctx, "symbol:"+name); err != nil {
		return 0, err
	} else if ok {
		r.mu.Lock()
		r.symbolByName[name] = uint16(id)
		r.symbolByID[uint16(id)] = name
		r.mu.Unlock()
		return uint16(id), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.symbolByName[name]; ok {
		return id, nil
	}
	id := r.nextSymbol
	r.nextSymbol++
	r.symbolByName[name] = id
	r.symbolByID[id] = name
	r.publishShared(ctx, "symbol:"+name, uint64(id))
	return id, nil
}

// SymbolName returns the name registered for id, if any.
func (r *Registry) SymbolName(id uint16) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.symbolByID[id]
	return name, ok
}

// ExchangeName returns the name registered for id, if any.
func (r *Registry) ExchangeName(id uint8) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.exchangeByID[id]
	return name, ok
}

func (r *Registry) lookupShared(ctx context.Context, key string) (uint64, bool, error) {
	if r.redis == nil {
		return 0, false, nil
	}
	val, err := r.redis.Get(ctx, redisKeyPrefix+key).Uint64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("idmap: redis lookup %q: %w", key, err)
	}
	return val, true, nil
}

func (r *Registry) publishShared(ctx context.Context, key string, id uint64) {
	if r.redis == nil {
		return
	}
	// Best-effort: a failed publish only means another process might
	// independently assign a different id for the same name, which is a
	// coordination-quality issue, not a hot-path correctness one.
	r.redis.SetNX(ctx, redisKeyPrefix+key, id, 0)
}
