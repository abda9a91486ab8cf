package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ---------------------------------------------------------------------------
// Uniswap V4 pool identification
// ---------------------------------------------------------------------------

// WETH on Base; V4 pools for launched tokens pair against it (or native ETH,
// which V4 represents as the zero currency).
var (
	WETHBase  = common.HexToAddress("0x4200000000000000000000000000000000000006")
	NativeETH = common.Address{}
)

// PoolKey identifies a V4 pool.
type PoolKey struct {
	Currency0   common.Address
	Currency1   common.Address
	Fee         *big.Int
	TickSpacing *big.Int
	Hooks       common.Address
}

// KnownPool is a pre-resolved pool for a token.
type KnownPool struct {
	PoolID   common.Hash
	IsToken0 bool // whether the platform token is currency0
}

// clankerHooks is the closed set of Clanker deployment hook contracts whose
// pools we probe when no registry entry exists.
var clankerHooks = []common.Address{
	common.HexToAddress("0x34a45c6B61876d739400Bd71228CbcbD4F53E8cC"),
	common.HexToAddress("0xDd5EeaFf7BD481AD55Db083062b13a3cdf0A68CC"),
	common.HexToAddress("0x5eC4f99F342038c67a312a166Ff56e6D70383D86"),
}

// clankerFeeTiers are the (fee, tickSpacing) combinations Clanker deploys.
var clankerFeeTiers = []struct {
	Fee         int64
	TickSpacing int64
}{
	{Fee: 10000, TickSpacing: 200},
	{Fee: 30000, TickSpacing: 200},
	{Fee: 8388608, TickSpacing: 200}, // dynamic-fee flag
}

var (
	poolKeyArgs    abi.Arguments
	addressABIType abi.Type
	uint24ABIType  abi.Type
)

func init() {
	mustType := func(t string) abi.Type {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic("chain: abi type " + t + ": " + err.Error())
		}
		return typ
	}
	addressABIType = mustType("address")
	uint24ABIType = mustType("uint24")
	int24T := mustType("int24")
	poolKeyArgs = abi.Arguments{
		{Type: addressABIType}, // currency0
		{Type: addressABIType}, // currency1
		{Type: uint24ABIType},  // fee
		{Type: int24T},         // tickSpacing
		{Type: addressABIType}, // hooks
	}
}

// DerivePoolID computes keccak256(abi.encode(poolKey)), the V4 pool id.
func DerivePoolID(key PoolKey) (common.Hash, error) {
	encoded, err := poolKeyArgs.Pack(key.Currency0, key.Currency1, key.Fee, key.TickSpacing, key.Hooks)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: encode pool key: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// SortCurrencies orders a token pair the way V4 does (ascending address) and
// reports whether token ended up as currency0.
func SortCurrencies(token, quote common.Address) (c0, c1 common.Address, tokenIs0 bool) {
	if strings.ToLower(token.Hex()) < strings.ToLower(quote.Hex()) {
		return token, quote, true
	}
	return quote, token, false
}

// CandidatePools enumerates the V4 pools a token could have been launched
// into: every Clanker hook x fee tier, paired against native ETH.
func CandidatePools(token common.Address) []KnownPool {
	var out []KnownPool
	c0, c1, tokenIs0 := SortCurrencies(token, NativeETH)
	for _, hook := range clankerHooks {
		for _, tier := range clankerFeeTiers {
			id, err := DerivePoolID(PoolKey{
				Currency0:   c0,
				Currency1:   c1,
				Fee:         big.NewInt(tier.Fee),
				TickSpacing: big.NewInt(tier.TickSpacing),
				Hooks:       hook,
			})
			if err != nil {
				continue
			}
			out = append(out, KnownPool{PoolID: id, IsToken0: tokenIs0})
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// V2/V3 fallback pool discovery (CREATE2 address derivation)
// ---------------------------------------------------------------------------

var (
	uniswapV3FactoryBase = common.HexToAddress("0x33128a8fC17869897dcE68Ed026d694621f6FDfD")
	uniswapV2FactoryBase = common.HexToAddress("0x8909Dc15e40173Ff4699343b6eB8132c65e18eC6")

	uniswapV3PoolInitHash = common.HexToHash("0xe34f199b19b2b4f47f68442619d555527d244f78a3297ea89325f843f87b8b54")
	uniswapV2PairInitHash = common.HexToHash("0x8909e0380f0debdebd8e8f1b28bb60b32ff502d6dab31d9eb731a99d270ecbc8")
)

// V3FeeTiers is the closed set of fee tiers probed when falling back to V3.
var V3FeeTiers = []int64{100, 500, 3000, 10000}

func create2Address(factory common.Address, salt, initHash common.Hash) common.Address {
	data := make([]byte, 0, 85)
	data = append(data, 0xff)
	data = append(data, factory.Bytes()...)
	data = append(data, salt.Bytes()...)
	data = append(data, initHash.Bytes()...)
	return common.BytesToAddress(crypto.Keccak256(data)[12:])
}

// V3PoolAddress derives the Uniswap V3 pool address for a pair and fee tier.
func V3PoolAddress(tokenA, tokenB common.Address, fee int64) common.Address {
	c0, c1, _ := SortCurrencies(tokenA, tokenB)
	encoded, err := abi.Arguments{
		{Type: addressABIType},
		{Type: addressABIType},
		{Type: uint24ABIType},
	}.Pack(c0, c1, big.NewInt(fee))
	if err != nil {
		return common.Address{}
	}
	return create2Address(uniswapV3FactoryBase, crypto.Keccak256Hash(encoded), uniswapV3PoolInitHash)
}

// V2PairAddress derives the Uniswap V2 pair address for a token pair.
func V2PairAddress(tokenA, tokenB common.Address) common.Address {
	c0, c1, _ := SortCurrencies(tokenA, tokenB)
	salt := crypto.Keccak256Hash(append(c0.Bytes(), c1.Bytes()...))
	return create2Address(uniswapV2FactoryBase, salt, uniswapV2PairInitHash)
}

// PoolRegistry maps token addresses (lowercased hex) to pre-resolved V4
// pools, skipping candidate enumeration for tokens we already know.
type PoolRegistry map[string]KnownPool

// Lookup returns the registered pool for a token, if any.
func (r PoolRegistry) Lookup(token common.Address) (KnownPool, bool) {
	pool, ok := r[strings.ToLower(token.Hex())]
	return pool, ok
}

// Register adds a token's pool to the registry.
func (r PoolRegistry) Register(token common.Address, pool KnownPool) {
	r[strings.ToLower(token.Hex())] = pool
}
