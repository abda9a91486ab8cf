package holder

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/neynartodes/backend/internal/chain"
	"github.com/neynartodes/backend/internal/contest"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Holder engine — threshold check with transfer cooldown
// ---------------------------------------------------------------------------

// The cooldown neutralizes bonus farming: without it, one wallet's tokens
// could be shuttled between several Farcaster identities before finalization,
// collecting a holder bonus at each stop. Inbound transfers from non-DEX
// origins inside the window simply do not count toward qualification.

// DefaultDEXAddresses is the closed set of pool/router/aggregator contracts
// on Base treated as purchase sources, plus the zero address for mints.
var DefaultDEXAddresses = []string{
	"0x0000000000000000000000000000000000000000", // mint
	"0x6ff5693b99212da76ad316178a184ab56d299b43", // uniswap universal router
	"0x4752ba5dbc23f44d87826276bf6fd6b1c372ad24", // uniswap v2 router
	"0x2626664c2603336e57b271c5c0b26f421741e481", // uniswap v3 swap router
	"0x498581ff718922c3f8e6a244956af099b2652b2b", // uniswap v4 pool manager
	"0xdef1c0ded9bec7f1a1670819833240f027b25eff", // 0x exchange proxy
	"0x111111125421ca6dc452d289314280a0f8842a65", // 1inch aggregation router
}

// Config configures the holder engine.
type Config struct {
	// Platform token whose balance qualifies holders.
	Token common.Address

	// Eligible-balance threshold in wei. Defaults to 100M tokens at 18
	// decimals.
	Threshold *big.Int

	// Rolling window during which inbound wallet-to-wallet transfers are
	// discounted.
	CooldownHours int `yaml:"cooldown_hours"`

	// Assumed chain block time used to convert the window into blocks.
	// Surface as configuration: if Base's block time changes, a hard-coded
	// value would silently widen or narrow the window.
	BlockTimeSeconds int `yaml:"block_time_seconds"`

	// DEX addresses whose outbound transfers are exempt from the cooldown.
	DEXAddresses []string `yaml:"dex_addresses"`
}

// DefaultThreshold is 100,000,000 tokens at 18 decimals.
func DefaultThreshold() *big.Int {
	exp18 := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return new(big.Int).Mul(big.NewInt(100_000_000), exp18)
}

// Result is one participant's holder evaluation.
type Result struct {
	IsHolder        bool     `json:"is_holder"`
	TotalBalance    *big.Int `json:"total_balance"`
	EligibleBalance *big.Int `json:"eligible_balance"`
	CooldownAmount  *big.Int `json:"cooldown_amount"`
	CooldownReason  string   `json:"cooldown_reason,omitempty"`
}

// Engine evaluates holder status for participants.
type Engine struct {
	cfg    Config
	client chain.Client
	dexSet map[common.Address]struct{}
}

// NewEngine creates a holder engine. Zero config fields take defaults.
func NewEngine(cfg Config, client chain.Client) *Engine {
	if cfg.Threshold == nil {
		cfg.Threshold = DefaultThreshold()
	}
	if cfg.CooldownHours == 0 {
		cfg.CooldownHours = 36
	}
	if cfg.BlockTimeSeconds == 0 {
		cfg.BlockTimeSeconds = 2
	}
	if len(cfg.DEXAddresses) == 0 {
		cfg.DEXAddresses = DefaultDEXAddresses
	}
	dexSet := make(map[common.Address]struct{}, len(cfg.DEXAddresses))
	for _, raw := range cfg.DEXAddresses {
		dexSet[common.HexToAddress(strings.TrimSpace(raw))] = struct{}{}
	}
	return &Engine{cfg: cfg, client: client, dexSet: dexSet}
}

// cooldownBlocks converts the rolling window into a block count.
func (e *Engine) cooldownBlocks() uint64 {
	return uint64(e.cfg.CooldownHours) * 3600 / uint64(e.cfg.BlockTimeSeconds)
}

// Check evaluates one participant. It never fails catastrophically: RPC
// errors degrade to "not a holder" for balance reads and to a zero cooldown
// contribution for event scans, never to a pipeline abort.
func (e *Engine) Check(ctx context.Context, p *contest.Participant) Result {
	zero := Result{
		TotalBalance:    big.NewInt(0),
		EligibleBalance: big.NewInt(0),
		CooldownAmount:  big.NewInt(0),
	}
	if len(p.Addresses) == 0 {
		return zero
	}

	total, ok := e.totalBalance(ctx, p)
	if !ok {
		return zero
	}

	cooldown := e.cooldownAmount(ctx, p)

	eligible := new(big.Int).Sub(total, cooldown)
	if eligible.Sign() < 0 {
		eligible = big.NewInt(0)
	}

	res := Result{
		IsHolder:        eligible.Cmp(e.cfg.Threshold) >= 0,
		TotalBalance:    total,
		EligibleBalance: eligible,
		CooldownAmount:  cooldown,
	}
	if !res.IsHolder && total.Cmp(e.cfg.Threshold) >= 0 && cooldown.Sign() > 0 {
		res.CooldownReason = fmt.Sprintf(
			"balance %s meets threshold but %s arrived via non-DEX transfer within the last %dh",
			total, cooldown, e.cfg.CooldownHours)
	}
	return res
}

// totalBalance sums balanceOf across the participant's addresses in
// parallel. Per-address read failures count as zero.
func (e *Engine) totalBalance(ctx context.Context, p *contest.Participant) (*big.Int, bool) {
	balances := make([]*big.Int, len(p.Addresses))
	errs := make([]error, len(p.Addresses))

	var wg sync.WaitGroup
	for i, addr := range p.Addresses {
		wg.Add(1)
		go func(i int, addr common.Address) {
			defer wg.Done()
			balances[i], errs[i] = e.client.TokenBalance(ctx, e.cfg.Token, addr)
		}(i, addr)
	}
	wg.Wait()

	total := big.NewInt(0)
	anyOK := false
	for i := range balances {
		if errs[i] != nil {
			log.Warn().Err(errs[i]).Uint64("fid", p.FID).
				Str("addr", p.Addresses[i].Hex()).
				Msg("holder: balance read failed")
			continue
		}
		anyOK = true
		total.Add(total, balances[i])
	}
	return total, anyOK
}

// cooldownAmount sums inbound transfer values within the window whose origin
// is neither a DEX, a mint, nor one of the participant's own wallets. A scan
// failure for one address contributes zero: false negatives on the cooldown
// are preferred over false negatives on qualification.
func (e *Engine) cooldownAmount(ctx context.Context, p *contest.Participant) *big.Int {
	head, err := e.client.BlockNumber(ctx)
	if err != nil {
		log.Warn().Err(err).Uint64("fid", p.FID).Msg("holder: head read failed, skipping cooldown")
		return big.NewInt(0)
	}
	window := e.cooldownBlocks()
	fromBlock := uint64(0)
	if head > window {
		fromBlock = head - window
	}

	cooldown := big.NewInt(0)
	for _, addr := range p.Addresses {
		addr := addr
		events, err := e.client.TransferLogs(ctx, e.cfg.Token, fromBlock, head, &addr)
		if err != nil {
			log.Warn().Err(err).Uint64("fid", p.FID).Str("addr", addr.Hex()).
				Msg("holder: transfer scan failed, skipping address")
			continue
		}
		for _, ev := range events {
			if _, isDEX := e.dexSet[ev.From]; isDEX {
				continue
			}
			if p.OwnsAddress(ev.From) {
				continue
			}
			cooldown.Add(cooldown, ev.Value)
		}
	}
	return cooldown
}

// CheckBatch evaluates participants in batches of batchSize, each batch in
// parallel. Results align with the input slice.
func (e *Engine) CheckBatch(ctx context.Context, participants []*contest.Participant, batchSize int) []Result {
	if batchSize <= 0 {
		batchSize = 10
	}
	results := make([]Result, len(participants))
	for start := 0; start < len(participants); start += batchSize {
		end := start + batchSize
		if end > len(participants) {
			end = len(participants)
		}
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = e.Check(ctx, participants[i])
			}(i)
		}
		wg.Wait()
	}
	return results
}
