package announce

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/neynartodes/backend/internal/chain"
	"github.com/neynartodes/backend/internal/contest"
	"github.com/neynartodes/backend/internal/farcaster"
	"github.com/neynartodes/backend/internal/kvstore"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Winner announcement pipeline
// ---------------------------------------------------------------------------

const castURLPrefix = "https://warpcast.com/~/conversations/"

// Config tunes the pipeline.
type Config struct {
	// SignerUUID is the cast-publishing credential. Empty means dry run:
	// the announced flag is still set so retries stay quiet.
	SignerUUID string `yaml:"signer_uuid"`

	// SweepDepth is how many recent contests per track a sweep inspects.
	SweepDepth uint64 `yaml:"sweep_depth"`
}

// Result reports one announcement attempt.
type Result struct {
	Posted   bool   `json:"posted"`
	CastHash string `json:"cast_hash,omitempty"`
	Message  string `json:"message,omitempty"`
	Note     string `json:"note,omitempty"`
	Skipped  bool   `json:"skipped"`
	Reason   string `json:"reason,omitempty"`
}

func skip(reason string) *Result { return &Result{Skipped: true, Reason: reason} }

// Pipeline publishes one winner cast per completed contest.
type Pipeline struct {
	cfg      Config
	chainc   chain.Client
	kv       kvstore.Store
	social   farcaster.Client
	nft      NFTMetadata
	notifier Notifier // optional
}

// SetNotifier attaches a push-notification hook fired best-effort after a
// successful post.
func (p *Pipeline) SetNotifier(n Notifier) { p.notifier = n }

func NewPipeline(cfg Config, chainc chain.Client, kv kvstore.Store, social farcaster.Client, nft NFTMetadata) *Pipeline {
	if cfg.SweepDepth == 0 {
		cfg.SweepDepth = 50
	}
	return &Pipeline{cfg: cfg, chainc: chainc, kv: kv, social: social, nft: nft}
}

// Announce adapts Run to the orchestrator's fire-and-forget callback.
func (p *Pipeline) Announce(ctx context.Context, id contest.ID) error {
	_, err := p.Run(ctx, id)
	return err
}

// Run announces one contest's winners, exactly once. A posting failure leaves
// the flag unset so the next sweep retries; every earlier step is read-only.
func (p *Pipeline) Run(ctx context.Context, id contest.ID) (*Result, error) {
	desc, err := p.chainc.Contest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("announce: descriptor: %w", err)
	}
	if desc.Status != contest.StatusCompleted {
		return skip(fmt.Sprintf("contest not completed (status %s)", desc.Status)), nil
	}
	if !desc.HasWinners() {
		return skip("no winners set"), nil
	}

	announced, err := p.isAnnounced(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("announce: flag read: %w", err)
	}
	if announced {
		return skip("Already announced"), nil
	}

	// The winners array repeats an address once per winning ticket; each
	// identity is tagged once and the prize splits across unique winners.
	// Normalization to lowercase before dedup is deliberate: the on-chain
	// array may carry mixed-case encodings of the same address.
	unique := dedupeLower(desc.Winners)
	names := p.winnerNames(ctx, unique)
	prize, imageURL := p.formatPrize(ctx, desc, len(unique))

	text := p.buildMessage(ctx, id, desc, names, prize)

	embeds := make([]string, 0, 2)
	if cast := contest.ParseCastID(desc.CastID); cast.Hash != "" {
		embeds = append(embeds, castURLPrefix+cast.Hash)
	}
	if imageURL != "" {
		embeds = append(embeds, imageURL)
	}

	if p.cfg.SignerUUID == "" {
		if err := p.markAnnounced(ctx, id); err != nil {
			return nil, err
		}
		return &Result{Posted: false, Message: text, Note: "no signer configured, marked announced"}, nil
	}

	castHash, err := p.social.PublishCast(ctx, p.cfg.SignerUUID, text, embeds)
	if err != nil {
		return nil, fmt.Errorf("announce: publish: %w", err)
	}
	if err := p.markAnnounced(ctx, id); err != nil {
		log.Warn().Err(err).Str("contest", id.String()).
			Msg("announce: posted but flag write failed, next sweep may repost")
	}
	if p.notifier != nil {
		if err := p.notifier.NotifyWinners(ctx, id, castHash, text); err != nil {
			log.Warn().Err(err).Str("contest", id.String()).
				Msg("announce: subscriber notification failed")
		}
	}
	log.Info().Str("contest", id.String()).Str("cast", castHash).Int("winners", len(unique)).
		Msg("announce: posted")
	return &Result{Posted: true, CastHash: castHash, Message: text}, nil
}

func (p *Pipeline) isAnnounced(ctx context.Context, id contest.ID) (bool, error) {
	keys := append([]string{kvstore.AnnouncedKey(id.String())}, kvstore.LegacyAnnouncedKeys(id.String())...)
	for _, key := range keys {
		set, err := kvstore.GetFlag(ctx, p.kv, key)
		if err != nil {
			return false, err
		}
		if set {
			return true, nil
		}
	}
	return false, nil
}

func (p *Pipeline) markAnnounced(ctx context.Context, id contest.ID) error {
	return kvstore.SetFlag(ctx, p.kv, kvstore.AnnouncedKey(id.String()))
}

// dedupeLower collapses repeated winner addresses, preserving first-seen
// order. common.Address comparison is already case-insensitive; the map key
// uses the canonical bytes.
func dedupeLower(winners []common.Address) []common.Address {
	seen := make(map[common.Address]struct{}, len(winners))
	var out []common.Address
	for _, w := range winners {
		if w == (common.Address{}) {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// winnerNames resolves addresses to @handles, degrading to short hex when
// the social lookup misses or fails.
func (p *Pipeline) winnerNames(ctx context.Context, winners []common.Address) []string {
	lower := make([]string, len(winners))
	for i, w := range winners {
		lower[i] = strings.ToLower(w.Hex())
	}
	byAddr, err := p.social.UsersByAddresses(ctx, lower)
	if err != nil {
		log.Warn().Err(err).Msg("announce: winner lookup failed, using short hex")
		byAddr = nil
	}
	names := make([]string, len(winners))
	for i, w := range winners {
		if users := byAddr[lower[i]]; len(users) > 0 && users[0].Username != "" {
			names[i] = "@" + users[0].Username
			continue
		}
		names[i] = shortHex(w)
	}
	return names
}

func shortHex(addr common.Address) string {
	hex := addr.Hex()
	return hex[:6] + "…" + hex[len(hex)-4:]
}

// formatPrize renders the prize for display and returns an optional NFT
// image URL for embedding. For multi-winner contests the amount shown is the
// per-winner fractional share.
func (p *Pipeline) formatPrize(ctx context.Context, desc *contest.Descriptor, uniqueWinners int) (string, string) {
	divisor := decimal.NewFromInt(int64(uniqueWinners))

	switch desc.PrizeKind {
	case contest.PrizeETH:
		amount := decimal.NewFromBigInt(desc.PrizeAmount, -18).Div(divisor)
		return amount.String() + " ETH", ""

	case contest.PrizeERC20:
		symbol, err := p.chainc.TokenSymbol(ctx, desc.PrizeToken)
		if err != nil {
			// Some tokens omit symbol(); the display name is the next best.
			if name, nameErr := p.chainc.TokenName(ctx, desc.PrizeToken); nameErr == nil && name != "" {
				symbol = name
			} else {
				symbol = "tokens"
			}
		}
		dec, err := p.chainc.TokenDecimals(ctx, desc.PrizeToken)
		if err != nil {
			dec = 18
		}
		amount := decimal.NewFromBigInt(desc.PrizeAmount, -int32(dec)).Div(divisor)
		return amount.String() + " " + symbol, ""

	case contest.PrizeERC721, contest.PrizeERC1155:
		name, imageURL, err := p.nft.Metadata(ctx, desc.PrizeToken, desc.NFTTokenID)
		if err != nil || name == "" {
			log.Warn().Err(err).Str("contract", desc.PrizeToken.Hex()).
				Msg("announce: NFT metadata unavailable")
			name = shortHex(desc.PrizeToken)
			imageURL = ""
		}
		return fmt.Sprintf("%s #%s", name, desc.NFTTokenID), imageURL

	default:
		return "the prize", ""
	}
}

// buildMessage assembles the cast body. A custom message stored by the host
// replaces the default congratulation line; the finalize receipt is appended
// when present.
func (p *Pipeline) buildMessage(ctx context.Context, id contest.ID, desc *contest.Descriptor, names []string, prize string) string {
	var b strings.Builder

	custom, ok, err := p.kv.Get(ctx, kvstore.MessageKey(id.String()))
	if err == nil && ok && strings.TrimSpace(custom) != "" {
		b.WriteString(strings.TrimSpace(custom))
		b.WriteString("\n\n")
	} else {
		fmt.Fprintf(&b, "🎉 Raffle %s is complete!\n\n", id)
	}

	if len(names) == 1 {
		fmt.Fprintf(&b, "%s wins %s!", names[0], prize)
	} else {
		fmt.Fprintf(&b, "%s each win %s!", strings.Join(names, ", "), prize)
	}

	if tx, ok, err := p.kv.Get(ctx, kvstore.FinalizeTxKey(id.String())); err == nil && ok && tx != "" {
		fmt.Fprintf(&b, "\n\nDrawn by Chainlink VRF · tx %s", tx)
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// Scheduled sweep
// ---------------------------------------------------------------------------

// SweepResult is one contest's outcome within an announcement sweep.
type SweepResult struct {
	ID     contest.ID
	Result *Result
	Err    error
}

// Sweep walks recent contests on both tracks and announces every completed,
// unannounced one. Per-contest errors are recorded and the sweep continues.
func (p *Pipeline) Sweep(ctx context.Context) []SweepResult {
	var results []SweepResult
	for _, track := range []contest.Track{contest.TrackMain, contest.TrackTest} {
		next, err := p.chainc.NextContestID(ctx, track)
		if err != nil {
			log.Warn().Err(err).Str("track", string(track)).Msg("announce sweep: next id read failed")
			continue
		}
		lo := uint64(1)
		if next > p.cfg.SweepDepth {
			lo = next - p.cfg.SweepDepth
		}
		for n := lo; n < next; n++ {
			id := contest.ID{Track: track, N: n}
			res, err := p.Run(ctx, id)
			if err != nil {
				log.Warn().Err(err).Str("contest", id.String()).Msg("announce sweep: contest failed")
				results = append(results, SweepResult{ID: id, Err: err})
				continue
			}
			if !res.Skipped {
				results = append(results, SweepResult{ID: id, Result: res})
			}
		}
	}
	return results
}
