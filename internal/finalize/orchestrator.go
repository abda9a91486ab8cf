package finalize

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/neynartodes/backend/internal/bonus"
	"github.com/neynartodes/backend/internal/chain"
	"github.com/neynartodes/backend/internal/contest"
	"github.com/neynartodes/backend/internal/farcaster"
	"github.com/neynartodes/backend/internal/holder"
	"github.com/neynartodes/backend/internal/identity"
	"github.com/neynartodes/backend/internal/kvstore"
	"github.com/neynartodes/backend/internal/volume"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Finalization orchestrator
// ---------------------------------------------------------------------------

// Cancel reasons submitted on-chain. The strings are part of the contract
// surface; operators grep for them in explorer traces.
const (
	ReasonNoEntries    = "No entries"
	ReasonNoEligible   = "No eligible participants"
	ReasonNoValid      = "No valid participants"
	ReasonNoQualified  = "No qualified participants"
	ReasonNoVolumeQual = "No participants met volume requirement"
)

// OutcomeKind classifies a finalization attempt.
type OutcomeKind int

const (
	// Skipped is non-terminal; the next sweep re-evaluates.
	Skipped OutcomeKind = iota
	// Submitted means the finalize transaction mined.
	Submitted
	// Cancelled means the cancel transaction mined.
	Cancelled
)

func (k OutcomeKind) String() string {
	switch k {
	case Submitted:
		return "submitted"
	case Cancelled:
		return "cancelled"
	default:
		return "skipped"
	}
}

// Outcome is the result of one finalization attempt. The orchestrator
// returns values of this sum and never panics outward.
type Outcome struct {
	Kind     OutcomeKind
	TxHash   common.Hash
	Reason   string
	Snapshot *Snapshot
	Winners  []common.Address // populated only when VRF completed within the wait window
}

func skipped(format string, args ...any) Outcome {
	return Outcome{Kind: Skipped, Reason: fmt.Sprintf(format, args...)}
}

// ParticipantRecord is one participant's line in the finalize snapshot.
type ParticipantRecord struct {
	FID        uint64             `json:"fid"`
	Username   string             `json:"username,omitempty"`
	Primary    string             `json:"primary_address"`
	Tickets    int                `json:"tickets"`
	Bonus      contest.BonusFlags `json:"bonus"`
	ReplyWords int                `json:"reply_words,omitempty"`
	VolumeUSD  decimal.Decimal    `json:"volume_usd"`
}

// Summary aggregates the snapshot for observability endpoints.
type Summary struct {
	UniqueParticipants int `json:"unique_participants"`
	TotalTickets       int `json:"total_tickets"`
	SubmittedTickets   int `json:"submitted_tickets"`
	HolderBonuses      int `json:"holder_bonuses"`
	ReplyBonuses       int `json:"reply_bonuses"`
	ShareBonuses       int `json:"share_bonuses"`
	VolumeBonuses      int `json:"volume_bonuses"`
}

// Snapshot is the persisted record of a finalization's inputs and outputs,
// written once under finalize_data:<id>.
type Snapshot struct {
	RunID        string              `json:"run_id"`
	ContestID    string              `json:"contest_id"`
	TxHash       string              `json:"tx_hash"`
	Timestamp    time.Time           `json:"timestamp"`
	Participants []ParticipantRecord `json:"participants"`
	Summary      Summary             `json:"summary"`
}

// Announcer is the downstream pipeline fired best-effort after VRF completes.
type Announcer interface {
	Announce(ctx context.Context, id contest.ID) error
}

// Config tunes the orchestrator.
type Config struct {
	// BlockedFIDs never enter the multiset, regardless of bonus signals.
	BlockedFIDs []uint64 `yaml:"blocked_fids"`

	// MaxEntries caps the submitted multiset; a hard gas-limit guard.
	MaxEntries int `yaml:"max_entries"`

	// VRF wait loop: attempts x interval after a successful submit.
	VRFPollInterval time.Duration `yaml:"vrf_poll_interval"`
	VRFPollAttempts int           `yaml:"vrf_poll_attempts"`

	// SweepDepth is how many recent contests per track a sweep inspects.
	SweepDepth uint64 `yaml:"sweep_depth"`
}

// DefaultConfig returns production defaults: 1000-entry cap, 30x2s VRF wait,
// 50-contest sweep depth.
func DefaultConfig() Config {
	return Config{
		MaxEntries:      1000,
		VRFPollInterval: 2 * time.Second,
		VRFPollAttempts: 30,
		SweepDepth:      50,
	}
}

// Orchestrator drives one contest from ended to VRF-pending.
type Orchestrator struct {
	cfg       Config
	chainc    chain.Client
	kv        kvstore.Store
	social    farcaster.Client
	holders   *holder.Engine
	volumes   *volume.Engine
	bonuses   *bonus.Aggregator
	announcer Announcer // may be nil

	blocked map[uint64]struct{}
}

func NewOrchestrator(cfg Config, chainc chain.Client, kv kvstore.Store, social farcaster.Client,
	holders *holder.Engine, volumes *volume.Engine, bonuses *bonus.Aggregator, announcer Announcer) *Orchestrator {
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.VRFPollInterval == 0 {
		cfg.VRFPollInterval = 2 * time.Second
	}
	if cfg.VRFPollAttempts == 0 {
		cfg.VRFPollAttempts = 30
	}
	if cfg.SweepDepth == 0 {
		cfg.SweepDepth = 50
	}
	blocked := make(map[uint64]struct{}, len(cfg.BlockedFIDs))
	for _, fid := range cfg.BlockedFIDs {
		blocked[fid] = struct{}{}
	}
	return &Orchestrator{
		cfg:       cfg,
		chainc:    chainc,
		kv:        kv,
		social:    social,
		holders:   holders,
		volumes:   volumes,
		bonuses:   bonuses,
		announcer: announcer,
		blocked:   blocked,
	}
}

// Run finalizes one contest or cancels it with a reason. It is safe to invoke
// at any time; it self-gates on status and end time.
func (o *Orchestrator) Run(ctx context.Context, id contest.ID) Outcome {
	logger := log.With().Str("contest", id.String()).Logger()

	desc, err := o.chainc.Contest(ctx, id)
	if err != nil {
		return skipped("descriptor read failed: %v", err)
	}
	if desc.Status != contest.StatusActive {
		return skipped("contest not active (status %s)", desc.Status)
	}
	now := time.Now().Unix()
	if !desc.Ended(now) {
		return skipped("contest not ended (ends in %ds)", desc.EndTime-now)
	}

	roster, err := o.kv.SetMembers(ctx, kvstore.EntriesKey(id.String()))
	if err != nil {
		// The roster is unreachable; finalizing without it would cancel a
		// contest that has entries.
		return skipped("KV unavailable: %v", err)
	}
	if len(roster) == 0 {
		return o.cancel(ctx, id, ReasonNoEntries)
	}

	fids := o.eligibleFIDs(ctx, desc, roster)
	if len(fids) == 0 {
		return o.cancel(ctx, id, ReasonNoEligible)
	}

	participants, err := identity.Resolve(ctx, o.social, fids)
	if err != nil {
		return skipped("identity resolution failed: %v", err)
	}
	participants = o.dropHostWallets(desc, participants)
	if len(participants) == 0 {
		return o.cancel(ctx, id, ReasonNoValid)
	}

	o.evaluateBonuses(ctx, desc, participants)

	participants, gateOutcome := o.applyLegacyGates(ctx, id, desc, participants)
	if gateOutcome != nil {
		return *gateOutcome
	}

	multiset := assembleMultiset(participants)
	rawTickets := len(multiset)
	if len(multiset) > o.cfg.MaxEntries {
		var err error
		multiset, err = truncateUniform(multiset, o.cfg.MaxEntries)
		if err != nil {
			return skipped("cap shuffle failed: %v", err)
		}
		logger.Info().Int("raw", rawTickets).Int("cap", o.cfg.MaxEntries).
			Msg("finalize: multiset truncated to gas cap")
	}

	seed, err := randomSeed()
	if err != nil {
		return skipped("seed generation failed: %v", err)
	}

	if !o.chainc.CanSign() {
		return skipped("signing key unavailable")
	}
	txHash, err := o.chainc.FinalizeContest(ctx, id, multiset, seed)
	if err != nil {
		return skipped("finalize transaction failed: %v", err)
	}
	logger.Info().Str("tx", txHash.Hex()).
		Int("participants", len(participants)).Int("tickets", len(multiset)).
		Msg("finalize: submitted")

	snapshot := buildSnapshot(id, txHash, participants, rawTickets, len(multiset))
	o.persist(ctx, id, txHash, snapshot)

	winners := o.waitForWinners(ctx, id)
	if len(winners) > 0 && o.announcer != nil {
		if err := o.announcer.Announce(ctx, id); err != nil {
			logger.Warn().Err(err).Msg("finalize: announcement failed, next sweep retries")
		}
	}

	return Outcome{Kind: Submitted, TxHash: txHash, Snapshot: snapshot, Winners: winners}
}

// cancel submits the cancel transaction with the given reason.
func (o *Orchestrator) cancel(ctx context.Context, id contest.ID, reason string) Outcome {
	if !o.chainc.CanSign() {
		return skipped("signing key unavailable (wanted cancel: %s)", reason)
	}
	txHash, err := o.chainc.CancelContest(ctx, id, reason)
	if err != nil {
		return skipped("cancel transaction failed: %v", err)
	}
	log.Info().Str("contest", id.String()).Str("tx", txHash.Hex()).Str("reason", reason).
		Msg("finalize: cancelled")
	return Outcome{Kind: Cancelled, TxHash: txHash, Reason: reason}
}

// eligibleFIDs parses the roster and drops blocked FIDs and the host. The
// host FID is resolved from the contest cast's author; if the cast cannot be
// resolved, host wallets are still excluded downstream by address.
func (o *Orchestrator) eligibleFIDs(ctx context.Context, desc *contest.Descriptor, roster []string) []uint64 {
	var hostFID uint64
	if cast := contest.ParseCastID(desc.CastID); cast.Hash != "" {
		if c, err := o.social.CastByHash(ctx, cast.Hash); err == nil {
			hostFID = c.AuthorFID
		} else {
			log.Warn().Err(err).Str("cast", cast.Hash).Msg("finalize: host cast unresolvable")
		}
	}

	fids := make([]uint64, 0, len(roster))
	for _, m := range roster {
		fid, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		if _, ok := o.blocked[fid]; ok {
			continue
		}
		if hostFID != 0 && fid == hostFID {
			continue
		}
		fids = append(fids, fid)
	}
	// The KV set is unordered; sorting makes the multiset deterministic
	// given identical bonus inputs.
	sort.Slice(fids, func(i, j int) bool { return fids[i] < fids[j] })
	return fids
}

// dropHostWallets removes participants owning the host's wallet. Blocked and
// host filtering is unconditional and precedes every bonus signal.
func (o *Orchestrator) dropHostWallets(desc *contest.Descriptor, participants []*contest.Participant) []*contest.Participant {
	out := participants[:0]
	for _, p := range participants {
		if desc.Host != (common.Address{}) && p.OwnsAddress(desc.Host) {
			log.Info().Uint64("fid", p.FID).Msg("finalize: dropping host wallet owner")
			continue
		}
		out = append(out, p)
	}
	return out
}

// evaluateBonuses runs the four independent bonus checks in parallel and
// merges their results into the participants in roster order.
func (o *Orchestrator) evaluateBonuses(ctx context.Context, desc *contest.Descriptor, participants []*contest.Participant) {
	cast := contest.ParseCastID(desc.CastID)

	var (
		repliers      map[uint64]int
		sharers       map[uint64]struct{}
		holderResults []holder.Result
		volumeResults map[common.Address]volume.Result
		volumeErr     error
	)

	done := make(chan struct{}, 4)
	go func() { repliers = o.bonuses.Repliers(ctx, cast.Hash); done <- struct{}{} }()
	go func() { sharers = o.bonuses.Sharers(ctx, desc.ID); done <- struct{}{} }()
	go func() { holderResults = o.holders.CheckBatch(ctx, participants, 0); done <- struct{}{} }()
	go func() {
		var all []common.Address
		for _, p := range participants {
			all = append(all, p.Addresses...)
		}
		volumeResults, volumeErr = o.volumes.Check(ctx, all, desc.StartTime, desc.EndTime)
		done <- struct{}{}
	}()
	for i := 0; i < 4; i++ {
		<-done
	}
	if volumeErr != nil {
		log.Warn().Err(volumeErr).Str("contest", desc.ID.String()).
			Msg("finalize: volume check failed, no volume bonuses granted")
	}

	threshold := o.volumes.Threshold()
	for i, p := range participants {
		p.Bonus.Holder = holderResults[i].IsHolder
		if words, ok := repliers[p.FID]; ok {
			p.ReplyWordCount = words
			p.Bonus.Reply = words >= bonus.MinReplyWords
		}
		_, p.Bonus.Share = sharers[p.FID]

		total := decimal.Zero
		passed := false
		for _, addr := range p.Addresses {
			if res, ok := volumeResults[addr]; ok {
				total = total.Add(res.VolumeUSD)
				passed = passed || res.Passed
			}
		}
		p.VolumeUSD = total
		p.Bonus.Volume = passed || total.GreaterThanOrEqual(threshold)
	}
}

// applyLegacyGates enforces per-contest tokenRequirement and
// volumeRequirement fields carried by older contracts. Zero values disable
// the gates.
func (o *Orchestrator) applyLegacyGates(ctx context.Context, id contest.ID, desc *contest.Descriptor, participants []*contest.Participant) ([]*contest.Participant, *Outcome) {
	if desc.VolumeRequirement != nil && desc.VolumeRequirement.Sign() > 0 {
		required := decimal.NewFromBigInt(desc.VolumeRequirement, 0)
		kept := participants[:0]
		for _, p := range participants {
			if p.VolumeUSD.GreaterThanOrEqual(required) {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			out := o.cancel(ctx, id, ReasonNoVolumeQual)
			return nil, &out
		}
		participants = kept
	}

	if desc.TokenRequirement != nil && desc.TokenRequirement.Sign() > 0 {
		kept := participants[:0]
		for _, p := range participants {
			if p.Bonus.Holder {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			out := o.cancel(ctx, id, ReasonNoQualified)
			return nil, &out
		}
		participants = kept
	}
	return participants, nil
}

// assembleMultiset emits each participant's primary address once per ticket,
// preserving roster order. Repetition encodes weight.
func assembleMultiset(participants []*contest.Participant) []common.Address {
	var out []common.Address
	for _, p := range participants {
		for i := 0; i < p.Tickets(); i++ {
			out = append(out, p.Primary)
		}
	}
	return out
}

// truncateUniform shuffles with crypto randomness and keeps the first n
// entries. Tie-breaking under the gas cap is random, not stable.
func truncateUniform(entries []common.Address, n int) ([]common.Address, error) {
	shuffled := make([]common.Address, len(entries))
	copy(shuffled, entries)
	for i := len(shuffled) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return nil, err
		}
		k := int(j.Int64())
		shuffled[i], shuffled[k] = shuffled[k], shuffled[i]
	}
	return shuffled[:n], nil
}

// randomSeed draws the 256-bit tie-breaker seed passed to the escrow. VRF
// supplies the security randomness; this only feeds the contract's internal
// shuffle.
func randomSeed() (*big.Int, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(buf[:]), nil
}

func buildSnapshot(id contest.ID, txHash common.Hash, participants []*contest.Participant, rawTickets, submitted int) *Snapshot {
	snap := &Snapshot{
		RunID:     uuid.NewString(),
		ContestID: id.String(),
		TxHash:    txHash.Hex(),
		Timestamp: time.Now().UTC(),
	}
	for _, p := range participants {
		snap.Participants = append(snap.Participants, ParticipantRecord{
			FID:        p.FID,
			Username:   p.Username,
			Primary:    p.Primary.Hex(),
			Tickets:    p.Tickets(),
			Bonus:      p.Bonus,
			ReplyWords: p.ReplyWordCount,
			VolumeUSD:  p.VolumeUSD,
		})
		if p.Bonus.Holder {
			snap.Summary.HolderBonuses++
		}
		if p.Bonus.Reply {
			snap.Summary.ReplyBonuses++
		}
		if p.Bonus.Share {
			snap.Summary.ShareBonuses++
		}
		if p.Bonus.Volume {
			snap.Summary.VolumeBonuses++
		}
	}
	snap.Summary.UniqueParticipants = len(participants)
	snap.Summary.TotalTickets = rawTickets
	snap.Summary.SubmittedTickets = submitted
	return snap
}

// persist writes the receipt and snapshot. Failures are logged, not fatal;
// the on-chain state is already advanced.
func (o *Orchestrator) persist(ctx context.Context, id contest.ID, txHash common.Hash, snap *Snapshot) {
	if err := o.kv.Set(ctx, kvstore.FinalizeTxKey(id.String()), txHash.Hex(), 0); err != nil {
		log.Warn().Err(err).Str("contest", id.String()).Msg("finalize: receipt write failed")
	}
	if err := kvstore.SetJSON(ctx, o.kv, kvstore.FinalizeDataKey(id.String()), snap, 0); err != nil {
		log.Warn().Err(err).Str("contest", id.String()).Msg("finalize: snapshot write failed")
	}
}

// waitForWinners polls the descriptor until VRF promotes the contest to
// Completed with winners, or the attempt budget runs out.
func (o *Orchestrator) waitForWinners(ctx context.Context, id contest.ID) []common.Address {
	for attempt := 0; attempt < o.cfg.VRFPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(o.cfg.VRFPollInterval):
		}
		desc, err := o.chainc.Contest(ctx, id)
		if err != nil {
			continue
		}
		if desc.Status == contest.StatusCompleted && desc.HasWinners() {
			return desc.Winners
		}
	}
	log.Info().Str("contest", id.String()).Msg("finalize: VRF not observed within wait window")
	return nil
}

// ---------------------------------------------------------------------------
// Scheduled sweep
// ---------------------------------------------------------------------------

// SweepResult is one contest's outcome within a sweep.
type SweepResult struct {
	ID      contest.ID
	Outcome Outcome
}

// Sweep walks the most recent contests on both tracks and runs the
// orchestrator for each that the contract reports finalizable. Per-contest
// failures are tolerated; the sweep continues.
func (o *Orchestrator) Sweep(ctx context.Context) []SweepResult {
	var results []SweepResult
	for _, track := range []contest.Track{contest.TrackMain, contest.TrackTest} {
		next, err := o.chainc.NextContestID(ctx, track)
		if err != nil {
			log.Warn().Err(err).Str("track", string(track)).Msg("sweep: next id read failed")
			continue
		}
		lo := uint64(1)
		if next > o.cfg.SweepDepth {
			lo = next - o.cfg.SweepDepth
		}
		for n := lo; n < next; n++ {
			id := contest.ID{Track: track, N: n}
			ok, err := o.chainc.CanFinalize(ctx, id)
			if err != nil || !ok {
				continue
			}
			results = append(results, SweepResult{ID: id, Outcome: o.Run(ctx, id)})
		}
	}
	return results
}
