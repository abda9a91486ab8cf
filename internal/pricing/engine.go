package pricing

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/neynartodes/backend/internal/chain"
	"github.com/neynartodes/backend/internal/kvstore"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Price engine — historical and current token/USD pricing
// ---------------------------------------------------------------------------

// Snapshot is a token price at a specific historical block.
type Snapshot struct {
	Token    common.Address  `json:"token"`
	Block    uint64          `json:"block"`
	PriceETH decimal.Decimal `json:"price_eth"`
	ETHUSD   decimal.Decimal `json:"eth_usd"`
	PriceUSD decimal.Decimal `json:"price_usd"`
}

// Config tunes the engine's cache TTLs.
type Config struct {
	ETHUSDTTL    time.Duration `yaml:"eth_usd_ttl"`
	V4CurrentTTL time.Duration `yaml:"v4_current_ttl"`
}

// DefaultConfig matches the production cache behavior: 60s for the feed,
// 30s for the current pool price.
func DefaultConfig() Config {
	return Config{
		ETHUSDTTL:    60 * time.Second,
		V4CurrentTTL: 30 * time.Second,
	}
}

// Engine resolves token prices, caching aggressively. Historical prices are
// keyed by (token, block) and live for one finalization run; the volume
// engine calls ResetRun at the start of each run. The TTL caches for current
// reads survive across runs.
type Engine struct {
	cfg      Config
	client   chain.Client
	registry chain.PoolRegistry

	// Current-price caches (TTL).
	cache *kvstore.TTLCache

	// Historical price-in-ETH, keyed "token|block". Engine lifetime.
	mu         sync.Mutex
	historical map[string]decimal.Decimal
	resolved   map[common.Address]chain.KnownPool // token -> discovered V4 pool
}

// NewEngine creates a price engine over the given chain client. registry may
// be nil when no pre-resolved pools are configured.
func NewEngine(cfg Config, client chain.Client, registry chain.PoolRegistry) *Engine {
	if cfg.ETHUSDTTL == 0 {
		cfg.ETHUSDTTL = 60 * time.Second
	}
	if cfg.V4CurrentTTL == 0 {
		cfg.V4CurrentTTL = 30 * time.Second
	}
	if registry == nil {
		registry = make(chain.PoolRegistry)
	}
	return &Engine{
		cfg:        cfg,
		client:     client,
		registry:   registry,
		cache:      kvstore.NewTTLCache(1000),
		historical: make(map[string]decimal.Decimal),
		resolved:   make(map[common.Address]chain.KnownPool),
	}
}

// two96 = 2^96, the Q96 fixed-point scale of Uniswap sqrt prices.
var two96 = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 96), 0)

// priceFromSqrt converts a sqrtPriceX96 reading into currency1-per-currency0,
// then inverts when the token sits on the currency1 side, yielding the
// token's price in ETH.
func priceFromSqrt(sqrtPriceX96 *big.Int, tokenIs0 bool) (decimal.Decimal, error) {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("pricing: zero sqrt price")
	}
	ratio := decimal.NewFromBigInt(sqrtPriceX96, 0).Div(two96)
	price := ratio.Mul(ratio) // currency1 per currency0
	if tokenIs0 {
		return price, nil
	}
	if price.IsZero() {
		return decimal.Zero, fmt.Errorf("pricing: degenerate price")
	}
	return decimal.NewFromInt(1).Div(price), nil
}

// ResetRun drops the per-run caches. Block-level prices are immutable facts,
// but the map is unbounded; clearing between runs keeps a long-lived server
// process from accumulating every block it ever priced.
func (e *Engine) ResetRun() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.historical = make(map[string]decimal.Decimal)
	e.resolved = make(map[common.Address]chain.KnownPool)
}

// ETHUSD returns the Chainlink ETH/USD reading, cached for the configured TTL.
func (e *Engine) ETHUSD(ctx context.Context) (decimal.Decimal, error) {
	if cached, ok := e.cache.Get("ethusd"); ok {
		return cached.(decimal.Decimal), nil
	}
	price, err := e.client.ETHUSDPrice(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	e.cache.Put("ethusd", price, e.cfg.ETHUSDTTL)
	return price, nil
}

// pool returns the V4 pool for a token: registry first, then a one-time probe
// over the candidate Clanker pools.
func (e *Engine) pool(ctx context.Context, token common.Address) (chain.KnownPool, error) {
	if p, ok := e.registry.Lookup(token); ok {
		return p, nil
	}

	e.mu.Lock()
	p, ok := e.resolved[token]
	e.mu.Unlock()
	if ok {
		return p, nil
	}

	for _, candidate := range chain.CandidatePools(token) {
		sqrt, err := e.client.V4Slot0(ctx, candidate.PoolID, 0)
		if err != nil || sqrt == nil || sqrt.Sign() == 0 {
			continue
		}
		e.mu.Lock()
		e.resolved[token] = candidate
		e.mu.Unlock()
		log.Debug().Str("token", token.Hex()).Str("pool", candidate.PoolID.Hex()).
			Msg("pricing: discovered v4 pool")
		return candidate, nil
	}
	return chain.KnownPool{}, fmt.Errorf("pricing: no v4 pool for %s", token.Hex())
}

// TokenPriceETH returns the token's price in ETH at blockNumber (0 = current,
// TTL-cached). The price is read from the token's V4 pool, falling back to V3
// fee tiers and finally the V2 pair at the same block.
func (e *Engine) TokenPriceETH(ctx context.Context, token common.Address, blockNumber uint64) (decimal.Decimal, error) {
	histKey := fmt.Sprintf("%s|%d", token.Hex(), blockNumber)
	if blockNumber > 0 {
		e.mu.Lock()
		cached, ok := e.historical[histKey]
		e.mu.Unlock()
		if ok {
			return cached, nil
		}
	} else if cached, ok := e.cache.Get("v4:" + token.Hex()); ok {
		return cached.(decimal.Decimal), nil
	}

	price, err := e.readPrice(ctx, token, blockNumber)
	if err != nil {
		return decimal.Zero, err
	}

	if blockNumber > 0 {
		e.mu.Lock()
		e.historical[histKey] = price
		e.mu.Unlock()
	} else {
		e.cache.Put("v4:"+token.Hex(), price, e.cfg.V4CurrentTTL)
	}
	return price, nil
}

func (e *Engine) readPrice(ctx context.Context, token common.Address, blockNumber uint64) (decimal.Decimal, error) {
	// Primary: V4 pool via StateView at the requested block.
	if pool, err := e.pool(ctx, token); err == nil {
		sqrt, err := e.client.V4Slot0(ctx, pool.PoolID, blockNumber)
		if err == nil {
			if price, perr := priceFromSqrt(sqrt, pool.IsToken0); perr == nil {
				return price, nil
			}
		}
	}

	// Fallback: V3 fee tiers against WETH.
	for _, fee := range chain.V3FeeTiers {
		poolAddr := chain.V3PoolAddress(token, chain.WETHBase, fee)
		sqrt, token0, err := e.client.V3Slot0(ctx, poolAddr, blockNumber)
		if err != nil {
			continue
		}
		if price, perr := priceFromSqrt(sqrt, token0 == token); perr == nil {
			log.Debug().Str("token", token.Hex()).Int64("fee", fee).
				Msg("pricing: using v3 fallback")
			return price, nil
		}
	}

	// Last resort: V2 pair reserves.
	pairAddr := chain.V2PairAddress(token, chain.WETHBase)
	r0, r1, token0, err := e.client.V2Reserves(ctx, pairAddr, blockNumber)
	if err == nil && r0 != nil && r1 != nil && r0.Sign() > 0 && r1.Sign() > 0 {
		reserve0 := decimal.NewFromBigInt(r0, 0)
		reserve1 := decimal.NewFromBigInt(r1, 0)
		log.Debug().Str("token", token.Hex()).Msg("pricing: using v2 fallback")
		if token0 == token {
			return reserve1.Div(reserve0), nil
		}
		return reserve0.Div(reserve1), nil
	}

	return decimal.Zero, fmt.Errorf("pricing: all pool lookups failed for %s", token.Hex())
}

// At returns a full USD snapshot for the token at a historical block. The
// ETH/USD leg uses the latest feed reading; per-block feed history is not
// available on-chain and the approximation is fine at bonus-threshold
// resolution.
func (e *Engine) At(ctx context.Context, token common.Address, blockNumber uint64) (*Snapshot, error) {
	priceETH, err := e.TokenPriceETH(ctx, token, blockNumber)
	if err != nil {
		return nil, err
	}
	ethUSD, err := e.ETHUSD(ctx)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Token:    token,
		Block:    blockNumber,
		PriceETH: priceETH,
		ETHUSD:   ethUSD,
		PriceUSD: priceETH.Mul(ethUSD),
	}, nil
}
