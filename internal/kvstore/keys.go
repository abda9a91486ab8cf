package kvstore

import "fmt"

// Logical key builders. Every key the backend reads or writes is declared
// here so the schema is visible in one place.

// EntriesKey holds the set of participant FIDs entered into a contest.
func EntriesKey(contestID string) string { return "contest_entries:" + contestID }

// SharesKey holds the set of FIDs that invoked the share action.
func SharesKey(contestID string) string { return "contest_shares:" + contestID }

// ParticipantsKey caches the derived participant list for display (~5 min TTL).
func ParticipantsKey(contestID string) string { return "contest:participants:" + contestID }

// SocialKey caches the engagement snapshot for display.
func SocialKey(contestID string) string { return "contest:social:" + contestID }

// SignerKey holds a user's cast-publishing signer record.
func SignerKey(fid uint64) string { return fmt.Sprintf("signer:%d", fid) }

// MessageKey holds an optional custom announcement body.
func MessageKey(contestID string) string { return "contest_message_" + contestID }

// PrizePriceKey caches the display price of a contest's prize.
func PrizePriceKey(contestID string) string { return "contest_price_prize_" + contestID }

// NFTPriceKey caches an NFT prize's display price.
func NFTPriceKey(contestID string) string { return "nft_price_" + contestID }

// FinalizeTxKey holds the finalize transaction hash.
func FinalizeTxKey(contestID string) string { return "finalize_tx:" + contestID }

// FinalizeDataKey holds the full finalization snapshot.
func FinalizeDataKey(contestID string) string { return "finalize_data:" + contestID }

// AnnouncedKey is the announcement idempotency flag.
func AnnouncedKey(contestID string) string { return "announced_" + contestID }

// LegacyAnnouncedKeys are the older flag shapes still honored when reading.
func LegacyAnnouncedKeys(contestID string) []string {
	return []string{
		"announced_nft_" + contestID,
		"announced_v2_" + contestID,
	}
}
