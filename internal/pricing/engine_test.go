package pricing

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/neynartodes/backend/internal/chain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testToken = common.HexToAddress("0x1234567890123456789012345678901234567890")

// sqrtForPrice returns the sqrtPriceX96 encoding of a currency1-per-currency0
// price that is a perfect square of 2^-n terms, avoiding rounding drift.
func sqrtForPrice(sqrtRatio float64) *big.Int {
	scaled := new(big.Float).Mul(big.NewFloat(sqrtRatio), new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96)))
	out, _ := scaled.Int(nil)
	return out
}

func newTestEngine(t *testing.T) (*Engine, *chain.Stub, chain.KnownPool) {
	t.Helper()
	stub := chain.NewStub()
	registry := make(chain.PoolRegistry)
	pool := chain.KnownPool{PoolID: common.HexToHash("0xbeef"), IsToken0: true}
	registry.Register(testToken, pool)
	engine := NewEngine(DefaultConfig(), stub, registry)
	return engine, stub, pool
}

func TestPriceFromSqrt(t *testing.T) {
	// sqrt ratio 0.5 -> price 0.25 (currency1 per currency0).
	price, err := priceFromSqrt(sqrtForPrice(0.5), true)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("0.25")), "got %s", price)

	// Token on the currency1 side inverts: 1/0.25 = 4.
	inverted, err := priceFromSqrt(sqrtForPrice(0.5), false)
	require.NoError(t, err)
	assert.True(t, inverted.Equal(decimal.NewFromInt(4)), "got %s", inverted)

	_, err = priceFromSqrt(big.NewInt(0), true)
	assert.Error(t, err)
	_, err = priceFromSqrt(nil, true)
	assert.Error(t, err)
}

func TestETHUSD_Cached(t *testing.T) {
	engine, stub, _ := newTestEngine(t)
	ctx := context.Background()

	stub.SetETHUSD(decimal.NewFromInt(2500))
	price, err := engine.ETHUSD(ctx)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(2500)))

	// A changed feed reading is masked by the TTL cache.
	stub.SetETHUSD(decimal.NewFromInt(9999))
	price, err = engine.ETHUSD(ctx)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(2500)))
}

func TestTokenPriceETH_HistoricalIsKeyedByBlock(t *testing.T) {
	engine, stub, pool := newTestEngine(t)
	ctx := context.Background()

	stub.SetV4Price(pool.PoolID, 100, sqrtForPrice(0.5))  // price 0.25 at block 100
	stub.SetV4Price(pool.PoolID, 200, sqrtForPrice(0.25)) // price 0.0625 at block 200

	p100, err := engine.TokenPriceETH(ctx, testToken, 100)
	require.NoError(t, err)
	p200, err := engine.TokenPriceETH(ctx, testToken, 200)
	require.NoError(t, err)

	assert.True(t, p100.Equal(decimal.RequireFromString("0.25")), "got %s", p100)
	assert.True(t, p200.Equal(decimal.RequireFromString("0.0625")), "got %s", p200)

	// Re-reads come from the run-lifetime cache even if the stub changes.
	stub.SetV4Price(pool.PoolID, 100, sqrtForPrice(1))
	again, err := engine.TokenPriceETH(ctx, testToken, 100)
	require.NoError(t, err)
	assert.True(t, again.Equal(p100))
}

func TestAt_ComposesUSDPrice(t *testing.T) {
	engine, stub, pool := newTestEngine(t)
	ctx := context.Background()

	stub.SetETHUSD(decimal.NewFromInt(2000))
	stub.SetV4Price(pool.PoolID, 50, sqrtForPrice(0.5)) // 0.25 ETH per token

	snap, err := engine.At(ctx, testToken, 50)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), snap.Block)
	assert.True(t, snap.PriceUSD.Equal(decimal.NewFromInt(500)), "got %s", snap.PriceUSD)
}

func TestTokenPriceETH_AllLookupsFail(t *testing.T) {
	stub := chain.NewStub()
	engine := NewEngine(DefaultConfig(), stub, nil)

	_, err := engine.TokenPriceETH(context.Background(), testToken, 10)
	assert.Error(t, err)
}

func TestCurrentPrice_TTLCache(t *testing.T) {
	engine, stub, pool := newTestEngine(t)
	engine.cfg.V4CurrentTTL = 10 * time.Millisecond
	ctx := context.Background()

	stub.SetV4Price(pool.PoolID, 0, sqrtForPrice(0.5))
	p, err := engine.TokenPriceETH(ctx, testToken, 0)
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.RequireFromString("0.25")))

	stub.SetV4Price(pool.PoolID, 0, sqrtForPrice(1))
	time.Sleep(25 * time.Millisecond)

	p, err = engine.TokenPriceETH(ctx, testToken, 0)
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(1)), "cache must expire, got %s", p)
}
