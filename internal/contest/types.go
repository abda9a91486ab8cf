package contest

import (
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Contest identifiers
// ---------------------------------------------------------------------------

// Track distinguishes the main raffle track from the test track. The two
// tracks live in the same contract behind separate numbering.
type Track string

const (
	TrackMain Track = "main"
	TrackTest Track = "test"
)

// ID is a parsed contest identifier ("M-42" or "T-7").
type ID struct {
	Track Track
	N     uint64
}

// ParseID parses a prefixed contest id string.
func ParseID(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if len(s) < 3 || s[1] != '-' {
		return ID{}, fmt.Errorf("contest: malformed id %q", s)
	}
	var track Track
	switch s[0] {
	case 'M', 'm':
		track = TrackMain
	case 'T', 't':
		track = TrackTest
	default:
		return ID{}, fmt.Errorf("contest: unknown track prefix in %q", s)
	}
	n, err := strconv.ParseUint(s[2:], 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("contest: bad sequence number in %q: %w", s, err)
	}
	return ID{Track: track, N: n}, nil
}

// String renders the canonical prefixed form.
func (id ID) String() string {
	prefix := "M"
	if id.Track == TrackTest {
		prefix = "T"
	}
	return fmt.Sprintf("%s-%d", prefix, id.N)
}

// IsTest reports whether the id belongs to the test track.
func (id ID) IsTest() bool { return id.Track == TrackTest }

// ---------------------------------------------------------------------------
// On-chain descriptor
// ---------------------------------------------------------------------------

// Status mirrors the contract's contest lifecycle enum.
type Status uint8

const (
	StatusActive Status = iota
	StatusPendingVRF
	StatusCompleted
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusPendingVRF:
		return "pending_vrf"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// PrizeKind is the prize settlement type.
type PrizeKind uint8

const (
	PrizeETH PrizeKind = iota
	PrizeERC20
	PrizeERC721
	PrizeERC1155
)

func (k PrizeKind) String() string {
	switch k {
	case PrizeETH:
		return "eth"
	case PrizeERC20:
		return "erc20"
	case PrizeERC721:
		return "erc721"
	case PrizeERC1155:
		return "erc1155"
	default:
		return fmt.Sprintf("prize(%d)", uint8(k))
	}
}

// Descriptor is the authoritative on-chain view of one contest.
type Descriptor struct {
	ID                ID
	Host              common.Address
	PrizeKind         PrizeKind
	Status            Status
	CastID            string // packed "<hash>|R0L0P0|<imageURL>" string, see ParseCastID
	StartTime         int64  // unix seconds
	EndTime           int64
	PrizeToken        common.Address
	PrizeAmount       *big.Int
	NFTTokenID        *big.Int
	NFTAmount         uint64
	TokenRequirement  *big.Int // legacy gating, may be zero
	VolumeRequirement *big.Int
	WinnerCount       int
	Winners           []common.Address // empty until Completed
}

// Ended reports whether the contest's entry window has closed at the given time.
func (d *Descriptor) Ended(nowUnix int64) bool { return nowUnix >= d.EndTime }

// HasWinners reports whether at least one non-zero winner has been set.
func (d *Descriptor) HasWinners() bool {
	for _, w := range d.Winners {
		if w != (common.Address{}) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Packed cast reference
// ---------------------------------------------------------------------------

// SocialMandates encodes which legacy engagement actions were mandatory.
// Newer contracts no longer enforce these; the flags survive for display.
type SocialMandates struct {
	Recast bool
	Like   bool
	Reply  bool
}

// DefaultMandates apply when the packed string carries no mandate segment.
func DefaultMandates() SocialMandates {
	return SocialMandates{Recast: true, Like: false, Reply: true}
}

// CastRef is the decoded form of a Descriptor.CastID.
type CastRef struct {
	Hash     string
	Mandates SocialMandates
	ImageURL string
}

var mandateSegment = regexp.MustCompile(`^R[01]L[01]P[01]$`)

// ParseCastID decodes the packed cast string. Three shapes occur in the wild:
// "<hash>", "<hash>|<reqs>", and "<hash>|<reqs>|<imageURL>". A trailing image
// URL is never mistaken for a mandate segment because mandates match a fixed
// six-character pattern.
func ParseCastID(packed string) CastRef {
	ref := CastRef{Mandates: DefaultMandates()}
	parts := strings.SplitN(packed, "|", 3)
	ref.Hash = parts[0]
	if len(parts) == 1 {
		return ref
	}
	if mandateSegment.MatchString(parts[1]) {
		ref.Mandates = SocialMandates{
			Recast: parts[1][1] == '1',
			Like:   parts[1][3] == '1',
			Reply:  parts[1][5] == '1',
		}
		if len(parts) == 3 {
			ref.ImageURL = parts[2]
		}
		return ref
	}
	// Second segment is not a mandate block: treat the remainder as image URL.
	ref.ImageURL = strings.Join(parts[1:], "|")
	return ref
}

// ---------------------------------------------------------------------------
// Participants
// ---------------------------------------------------------------------------

// BonusFlags are the four independently computed bonus signals.
type BonusFlags struct {
	Holder bool `json:"holder"`
	Reply  bool `json:"reply"`
	Share  bool `json:"share"`
	Volume bool `json:"volume"`
}

// Count returns the number of set flags.
func (b BonusFlags) Count() int {
	n := 0
	for _, f := range []bool{b.Holder, b.Reply, b.Share, b.Volume} {
		if f {
			n++
		}
	}
	return n
}

// Participant is the in-memory view of one entrant for the duration of a
// single finalization run.
type Participant struct {
	FID            uint64
	Username       string
	Addresses      []common.Address // deduplicated custody + verified
	Primary        common.Address   // prize-receiving wallet
	Bonus          BonusFlags
	ReplyWordCount int
	VolumeUSD      decimal.Decimal
}

// OwnsAddress reports whether addr belongs to this participant. Transfers
// between a participant's own wallets bypass the holder cooldown.
func (p *Participant) OwnsAddress(addr common.Address) bool {
	for _, a := range p.Addresses {
		if a == addr {
			return true
		}
	}
	return false
}

// Tickets is the participant's weighted entry count: one base ticket plus one
// per satisfied bonus signal.
func (p *Participant) Tickets() int { return 1 + p.Bonus.Count() }
