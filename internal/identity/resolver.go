package identity

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/neynartodes/backend/internal/contest"
	"github.com/neynartodes/backend/internal/farcaster"
	"github.com/rs/zerolog/log"
)

// Resolve turns roster FIDs into Participants with resolved wallet sets.
// Entries whose profile lookup fails or that carry no usable address are
// dropped; the pipeline never aborts for a single participant.
func Resolve(ctx context.Context, social farcaster.Client, fids []uint64) ([]*contest.Participant, error) {
	users, err := social.UsersByFIDs(ctx, fids)
	if err != nil {
		return nil, err
	}

	byFID := make(map[uint64]farcaster.User, len(users))
	for _, u := range users {
		byFID[u.FID] = u
	}

	// Iterate in roster order so downstream multiset assembly stays
	// deterministic for identical inputs.
	participants := make([]*contest.Participant, 0, len(fids))
	for _, fid := range fids {
		u, ok := byFID[fid]
		if !ok {
			log.Debug().Uint64("fid", fid).Msg("identity: profile not resolved, dropping")
			continue
		}
		p := FromUser(u)
		if p == nil {
			log.Debug().Uint64("fid", fid).Msg("identity: no usable address, dropping")
			continue
		}
		participants = append(participants, p)
	}
	return participants, nil
}

// FromUser builds a Participant from one profile, or nil when the profile
// carries no valid address. Primary selection order: primary-verified, first
// verified, custody.
func FromUser(u farcaster.User) *contest.Participant {
	var addresses []common.Address
	seen := make(map[common.Address]struct{})
	add := func(raw string) (common.Address, bool) {
		if !common.IsHexAddress(raw) {
			return common.Address{}, false
		}
		addr := common.HexToAddress(raw)
		if addr == (common.Address{}) {
			return common.Address{}, false
		}
		if _, dup := seen[addr]; !dup {
			seen[addr] = struct{}{}
			addresses = append(addresses, addr)
		}
		return addr, true
	}

	custody, hasCustody := add(u.CustodyAddress)
	var firstVerified common.Address
	hasVerified := false
	for _, raw := range u.VerifiedAddresses {
		if addr, ok := add(raw); ok && !hasVerified {
			firstVerified = addr
			hasVerified = true
		}
	}
	primaryVerified, hasPrimary := add(u.PrimaryEthAddress)

	if len(addresses) == 0 {
		return nil
	}

	var primary common.Address
	switch {
	case hasPrimary:
		primary = primaryVerified
	case hasVerified:
		primary = firstVerified
	case hasCustody:
		primary = custody
	default:
		return nil
	}

	return &contest.Participant{
		FID:       u.FID,
		Username:  u.Username,
		Addresses: addresses,
		Primary:   primary,
	}
}
