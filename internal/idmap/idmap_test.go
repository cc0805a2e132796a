package idmap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterSymbolAssignsStableID(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	id1, err := r.RegisterSymbol(ctx, "BTC-USD")
	require.NoError(t, err)

	id2, err := r.RegisterSymbol(ctx, "BTC-USD")
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
}

func TestRegistry_DifferentSymbolsGetDifferentIDs(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	btc, err := r.RegisterSymbol(ctx, "BTC-USD")
	require.NoError(t, err)
	eth, err := r.RegisterSymbol(ctx, "ETH-USD")
	require.NoError(t, err)

	assert.NotEqual(t, btc, eth)
}

func TestRegistry_SymbolNameReverseLookup(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	id, err := r.RegisterSymbol(ctx, "BTC-USD")
	require.NoError(t, err)

	name, ok := r.SymbolName(id)
	require.True(t, ok)
	assert.Equal(t, "BTC-USD", name)

	_, ok = r.SymbolName(id + 100)
	assert.False(t, ok)
}

func TestRegistry_ExchangeRegistration(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	id, err := r.RegisterExchange(ctx, "BINANCE")
	require.NoError(t, err)

	name, ok := r.ExchangeName(id)
	require.True(t, ok)
	assert.Equal(t, "BINANCE", name)
}
