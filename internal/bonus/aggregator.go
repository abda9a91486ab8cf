package bonus

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/neynartodes/backend/internal/contest"
	"github.com/neynartodes/backend/internal/farcaster"
	"github.com/neynartodes/backend/internal/holder"
	"github.com/neynartodes/backend/internal/identity"
	"github.com/neynartodes/backend/internal/kvstore"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Bonus-entry aggregation
// ---------------------------------------------------------------------------

const (
	// MinReplyWords is the minimum whitespace-delimited word count a reply
	// needs to earn the reply bonus. Filters "gm" spam.
	MinReplyWords = 3

	maxReplyPages = 20

	participantsTTL = 5 * time.Minute
)

// Aggregator produces the social-side bonus signals for a contest: who
// replied substantively and who shared. Holder and volume signals come from
// their own engines.
type Aggregator struct {
	social  farcaster.Client
	kv      kvstore.Store
	holders *holder.Engine
}

func NewAggregator(social farcaster.Client, kv kvstore.Store, holders *holder.Engine) *Aggregator {
	return &Aggregator{social: social, kv: kv, holders: holders}
}

// WordCount counts whitespace-delimited words.
func WordCount(text string) int { return len(strings.Fields(text)) }

// Repliers returns, per FID, the maximum word count across that FID's direct
// replies on the cast. An unresolvable cast or a pagination break yields the
// replies collected so far; reply bonuses degrade, they never block a run.
func (a *Aggregator) Repliers(ctx context.Context, castHash string) map[uint64]int {
	out := make(map[uint64]int)
	if castHash == "" {
		return out
	}
	replies, err := a.social.Replies(ctx, castHash, maxReplyPages)
	if err != nil {
		log.Warn().Err(err).Str("cast", castHash).Int("partial", len(replies)).
			Msg("bonus: reply fetch incomplete, using partial result")
	}
	for _, r := range replies {
		if words := WordCount(r.Text); words > out[r.AuthorFID] {
			out[r.AuthorFID] = words
		}
	}
	return out
}

// Sharers returns the set of FIDs that invoked the share action for the
// contest. The set is written by a separate ingress path; here it is only
// read. A KV failure yields an empty set.
func (a *Aggregator) Sharers(ctx context.Context, id contest.ID) map[uint64]struct{} {
	out := make(map[uint64]struct{})
	members, err := a.kv.SetMembers(ctx, kvstore.SharesKey(id.String()))
	if err != nil {
		log.Warn().Err(err).Str("contest", id.String()).Msg("bonus: shares unavailable")
		return out
	}
	for _, m := range members {
		fid, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		out[fid] = struct{}{}
	}
	return out
}

// ---------------------------------------------------------------------------
// Display-path participant enumeration
// ---------------------------------------------------------------------------

// ParticipantSummary is the display shape for one entrant. The volume bonus
// is deliberately absent: it needs a full historical scan and is evaluated
// only at finalization.
type ParticipantSummary struct {
	FID      uint64             `json:"fid"`
	Username string             `json:"username"`
	Tickets  int                `json:"tickets"`
	Bonus    contest.BonusFlags `json:"bonus"`
}

// Participants computes the per-entrant ticket counts shown in the UI
// (1 base + holder + reply + share) and caches the result for five minutes.
func (a *Aggregator) Participants(ctx context.Context, desc *contest.Descriptor) ([]ParticipantSummary, error) {
	cacheKey := kvstore.ParticipantsKey(desc.ID.String())
	var cached []ParticipantSummary
	if ok, err := kvstore.GetJSON(ctx, a.kv, cacheKey, &cached); err == nil && ok {
		return cached, nil
	}

	roster, err := a.kv.SetMembers(ctx, kvstore.EntriesKey(desc.ID.String()))
	if err != nil {
		return nil, err
	}
	fids := make([]uint64, 0, len(roster))
	for _, m := range roster {
		fid, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		fids = append(fids, fid)
	}
	sort.Slice(fids, func(i, j int) bool { return fids[i] < fids[j] })

	participants, err := identity.Resolve(ctx, a.social, fids)
	if err != nil {
		return nil, err
	}

	cast := contest.ParseCastID(desc.CastID)
	repliers := a.Repliers(ctx, cast.Hash)
	sharers := a.Sharers(ctx, desc.ID)
	holderResults := a.holders.CheckBatch(ctx, participants, 0)

	summaries := make([]ParticipantSummary, 0, len(participants))
	for i, p := range participants {
		flags := contest.BonusFlags{
			Holder: holderResults[i].IsHolder,
			Reply:  repliers[p.FID] >= MinReplyWords,
			Share:  hasFID(sharers, p.FID),
		}
		summaries = append(summaries, ParticipantSummary{
			FID:      p.FID,
			Username: p.Username,
			Tickets:  1 + flags.Count(),
			Bonus:    flags,
		})
	}

	if err := kvstore.SetJSON(ctx, a.kv, cacheKey, summaries, participantsTTL); err != nil {
		log.Warn().Err(err).Str("contest", desc.ID.String()).Msg("bonus: participant cache write failed")
	}
	return summaries, nil
}

// ---------------------------------------------------------------------------
// Engagement snapshot
// ---------------------------------------------------------------------------

// Engagement is the cached social stats for a contest cast, shown alongside
// the participant list.
type Engagement struct {
	Replies   int       `json:"replies"`
	Quotes    int       `json:"quotes"`
	Likes     int       `json:"likes"`
	Recasts   int       `json:"recasts"`
	Sharers   int       `json:"sharers"`
	FetchedAt time.Time `json:"fetched_at"`
}

// EngagementSnapshot collects reply, quote, reaction and share counts for the
// contest cast, caching for five minutes under contest:social:<id>.
func (a *Aggregator) EngagementSnapshot(ctx context.Context, desc *contest.Descriptor) (*Engagement, error) {
	cacheKey := kvstore.SocialKey(desc.ID.String())
	var cached Engagement
	if ok, err := kvstore.GetJSON(ctx, a.kv, cacheKey, &cached); err == nil && ok {
		return &cached, nil
	}

	snap := &Engagement{FetchedAt: time.Now().UTC()}
	if cast := contest.ParseCastID(desc.CastID); cast.Hash != "" {
		replies, err := a.social.Replies(ctx, cast.Hash, maxReplyPages)
		if err != nil {
			log.Warn().Err(err).Str("cast", cast.Hash).Msg("bonus: engagement replies partial")
		}
		snap.Replies = len(replies)

		quotes, err := a.social.Quotes(ctx, cast.Hash)
		if err != nil {
			log.Warn().Err(err).Str("cast", cast.Hash).Msg("bonus: engagement quotes unavailable")
		}
		snap.Quotes = len(quotes)

		likes, recasts, err := a.social.Reactions(ctx, cast.Hash)
		if err != nil {
			log.Warn().Err(err).Str("cast", cast.Hash).Msg("bonus: engagement reactions unavailable")
		}
		snap.Likes = likes
		snap.Recasts = recasts
	}
	snap.Sharers = len(a.Sharers(ctx, desc.ID))

	if err := kvstore.SetJSON(ctx, a.kv, cacheKey, snap, participantsTTL); err != nil {
		log.Warn().Err(err).Str("contest", desc.ID.String()).Msg("bonus: engagement cache write failed")
	}
	return snap, nil
}

func hasFID(set map[uint64]struct{}, fid uint64) bool {
	_, ok := set[fid]
	return ok
}
