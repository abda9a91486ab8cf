package volume

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/neynartodes/backend/internal/chain"
	"github.com/neynartodes/backend/internal/pricing"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Volume engine — historical per-wallet USD trading volume
// ---------------------------------------------------------------------------

// The engine is transfer-centric: instead of enumerating DEX pools and
// parsing per-protocol swap events, it scans the token's own Transfer log.
// Every DEX execution, whatever the venue, moves the token and therefore
// emits a Transfer; filtering on the target wallets captures all of it.
//
// Each matched transfer is priced at the block it occurred in. Pricing at
// the head instead would let a participant trade a huge nominal quantity
// while the token was worthless, or buy after a spike near endTime and claim
// the whole notional.

// Config configures the volume engine.
type Config struct {
	// Token whose trading volume qualifies.
	Token common.Address

	// USD volume required for the bonus.
	ThresholdUSD decimal.Decimal

	// Assumed block time for timestamp-to-block conversion.
	BlockTimeSeconds int `yaml:"block_time_seconds"`

	// Transfer scan chunk size; bounds a single getLogs response and the
	// blast radius of one failed chunk.
	ChunkBlocks uint64 `yaml:"chunk_blocks"`
}

// DefaultConfig returns production defaults: $20 threshold, 2s blocks,
// 10,000-block chunks.
func DefaultConfig(token common.Address) Config {
	return Config{
		Token:            token,
		ThresholdUSD:     decimal.NewFromInt(20),
		BlockTimeSeconds: 2,
		ChunkBlocks:      10_000,
	}
}

// Result is one wallet's volume evaluation.
type Result struct {
	VolumeUSD    decimal.Decimal `json:"volume_usd"`
	VolumeTokens decimal.Decimal `json:"volume_tokens"`
	Passed       bool            `json:"passed"`
}

// Engine computes per-wallet historical USD volume.
type Engine struct {
	cfg    Config
	client chain.Client
	prices *pricing.Engine
}

// NewEngine creates a volume engine sharing the caller's price engine, so
// historical price lookups are cached across participants within one run.
func NewEngine(cfg Config, client chain.Client, prices *pricing.Engine) *Engine {
	if cfg.ThresholdUSD.IsZero() {
		cfg.ThresholdUSD = decimal.NewFromInt(20)
	}
	if cfg.BlockTimeSeconds == 0 {
		cfg.BlockTimeSeconds = 2
	}
	if cfg.ChunkBlocks == 0 {
		cfg.ChunkBlocks = 10_000
	}
	return &Engine{cfg: cfg, client: client, prices: prices}
}

// Threshold returns the configured USD qualification threshold.
func (e *Engine) Threshold() decimal.Decimal { return e.cfg.ThresholdUSD }

// blockForTime estimates the block at a past unix timestamp.
func blockForTime(head uint64, nowUnix, t int64, blockTime int) uint64 {
	if t >= nowUnix {
		return head
	}
	delta := uint64(nowUnix-t) / uint64(blockTime)
	if delta >= head {
		return 0
	}
	return head - delta
}

type matchedTransfer struct {
	wallet common.Address
	value  *big.Int
	block  uint64
}

// Check returns each address's USD volume in [startTime, endTime]. Both legs
// of a transfer between two target wallets are counted; the threshold is low
// and the double count costs the attacker gas, not the raffle legitimacy.
func (e *Engine) Check(ctx context.Context, addresses []common.Address, startTime, endTime int64) (map[common.Address]Result, error) {
	results := make(map[common.Address]Result, len(addresses))
	for _, addr := range addresses {
		results[addr] = Result{VolumeUSD: decimal.Zero, VolumeTokens: decimal.Zero}
	}
	if len(addresses) == 0 {
		return results, nil
	}

	// One Check call is one finalization run; the historical price map is
	// scoped to it.
	e.prices.ResetRun()

	head, err := e.client.BlockNumber(ctx)
	if err != nil {
		return results, err
	}
	nowUnix := time.Now().Unix()
	startBlock := blockForTime(head, nowUnix, startTime, e.cfg.BlockTimeSeconds)
	endBlock := blockForTime(head, nowUnix, endTime, e.cfg.BlockTimeSeconds)
	if endBlock < startBlock {
		return results, nil
	}

	targets := make(map[common.Address]struct{}, len(addresses))
	for _, addr := range addresses {
		targets[addr] = struct{}{}
	}

	matched := e.scan(ctx, startBlock, endBlock, targets)

	decimals, err := e.client.TokenDecimals(ctx, e.cfg.Token)
	if err != nil {
		decimals = 18
	}

	// Price every matched transfer at its own block.
	priceOK := 0
	priceFailed := 0
	tokenTotals := make(map[common.Address]decimal.Decimal)
	for _, m := range matched {
		amount := decimal.NewFromBigInt(m.value, -int32(decimals))
		tokenTotals[m.wallet] = tokenTotals[m.wallet].Add(amount)

		snap, err := e.prices.At(ctx, e.cfg.Token, m.block)
		if err != nil {
			priceFailed++
			continue
		}
		priceOK++
		res := results[m.wallet]
		res.VolumeUSD = res.VolumeUSD.Add(amount.Mul(snap.PriceUSD))
		res.VolumeTokens = tokenTotals[m.wallet]
		results[m.wallet] = res
	}

	if priceOK == 0 && priceFailed > 0 {
		// Total price-discovery failure: degrade to "held any amount".
		log.Warn().Int("failed", priceFailed).
			Msg("volume: price discovery unavailable, degrading to balance check")
		return e.balanceFallback(ctx, addresses), nil
	}

	for addr, total := range tokenTotals {
		res := results[addr]
		res.VolumeTokens = total
		res.Passed = res.VolumeUSD.GreaterThanOrEqual(e.cfg.ThresholdUSD)
		results[addr] = res
	}
	return results, nil
}

// scan walks the transfer log in chunks, collecting events touching a target
// wallet. A failed chunk is logged and skipped; partial data beats none.
func (e *Engine) scan(ctx context.Context, startBlock, endBlock uint64, targets map[common.Address]struct{}) []matchedTransfer {
	var matched []matchedTransfer
	for from := startBlock; from <= endBlock; from += e.cfg.ChunkBlocks {
		to := from + e.cfg.ChunkBlocks - 1
		if to > endBlock {
			to = endBlock
		}
		events, err := e.client.TransferLogs(ctx, e.cfg.Token, from, to, nil)
		if err != nil {
			log.Warn().Err(err).Uint64("from", from).Uint64("to", to).
				Msg("volume: chunk scan failed, skipping")
			continue
		}
		for _, ev := range events {
			if _, ok := targets[ev.From]; ok {
				matched = append(matched, matchedTransfer{wallet: ev.From, value: ev.Value, block: ev.Block})
			}
			if _, ok := targets[ev.To]; ok {
				matched = append(matched, matchedTransfer{wallet: ev.To, value: ev.Value, block: ev.Block})
			}
		}
	}
	return matched
}

// balanceFallback substitutes "holds any amount" for "traded" when no pool
// price could be discovered at all.
func (e *Engine) balanceFallback(ctx context.Context, addresses []common.Address) map[common.Address]Result {
	results := make(map[common.Address]Result, len(addresses))
	for _, addr := range addresses {
		res := Result{VolumeUSD: decimal.Zero, VolumeTokens: decimal.Zero}
		bal, err := e.client.TokenBalance(ctx, e.cfg.Token, addr)
		if err == nil && bal.Sign() > 0 {
			res.Passed = true
		}
		results[addr] = res
	}
	return results
}
