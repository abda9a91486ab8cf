package announce

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/neynartodes/backend/internal/chain"
	"github.com/neynartodes/backend/internal/contest"
	"github.com/neynartodes/backend/internal/farcaster"
	"github.com/neynartodes/backend/internal/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	winnerA = common.HexToAddress("0x1111000000000000000000000000000000000001")
	winnerB = common.HexToAddress("0x2222000000000000000000000000000000000002")
)

const annCastHash = "0xoriginal"

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func newTestPipeline(cfg Config) (*Pipeline, *chain.Stub, *kvstore.MemoryStore, *farcaster.StubClient, *StubNFTMetadata) {
	stub := chain.NewStub()
	kv := kvstore.NewMemoryStore()
	social := farcaster.NewStubClient()
	nft := NewStubNFTMetadata()
	return NewPipeline(cfg, stub, kv, social, nft), stub, kv, social, nft
}

func addCompleted(stub *chain.Stub, id contest.ID, winners ...common.Address) *contest.Descriptor {
	desc := &contest.Descriptor{
		ID:          id,
		Status:      contest.StatusCompleted,
		CastID:      annCastHash + "|R1L0P1|",
		PrizeKind:   contest.PrizeETH,
		PrizeAmount: eth(1),
		WinnerCount: len(winners),
		Winners:     winners,
	}
	stub.AddContest(desc)
	return desc
}

// First call posts and sets the flag; the second call skips without touching
// the social API; clearing the flag re-arms the pipeline.
func TestRun_IdempotentAnnouncement(t *testing.T) {
	p, stub, kv, social, _ := newTestPipeline(Config{SignerUUID: "signer-1"})
	ctx := context.Background()
	id := contest.ID{Track: contest.TrackMain, N: 1}
	addCompleted(stub, id, winnerA)
	social.AddUser(farcaster.User{FID: 1, Username: "alice", VerifiedAddresses: []string{winnerA.Hex()}})

	first, err := p.Run(ctx, id)
	require.NoError(t, err)
	assert.True(t, first.Posted)
	assert.NotEmpty(t, first.CastHash)
	assert.Contains(t, first.Message, "@alice")
	assert.Contains(t, first.Message, "1 ETH")
	require.Len(t, social.Published, 1)

	flag, err := kvstore.GetFlag(ctx, kv, kvstore.AnnouncedKey(id.String()))
	require.NoError(t, err)
	assert.True(t, flag)

	second, err := p.Run(ctx, id)
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, "Already announced", second.Reason)
	assert.Len(t, social.Published, 1)

	require.NoError(t, kv.Delete(ctx, kvstore.AnnouncedKey(id.String())))
	third, err := p.Run(ctx, id)
	require.NoError(t, err)
	assert.True(t, third.Posted)
	assert.Len(t, social.Published, 2)
}

func TestRun_LegacyFlagsHonored(t *testing.T) {
	p, stub, kv, social, _ := newTestPipeline(Config{SignerUUID: "signer-1"})
	ctx := context.Background()
	id := contest.ID{Track: contest.TrackMain, N: 2}
	addCompleted(stub, id, winnerA)

	require.NoError(t, kvstore.SetFlag(ctx, kv, "announced_nft_"+id.String()))

	res, err := p.Run(ctx, id)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, "Already announced", res.Reason)
	assert.Empty(t, social.Published)
}

func TestRun_RequiresCompletedWithWinners(t *testing.T) {
	p, stub, _, _, _ := newTestPipeline(Config{SignerUUID: "signer-1"})
	ctx := context.Background()

	pending := contest.ID{Track: contest.TrackMain, N: 3}
	stub.AddContest(&contest.Descriptor{ID: pending, Status: contest.StatusPendingVRF})
	res, err := p.Run(ctx, pending)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	noWinners := contest.ID{Track: contest.TrackMain, N: 4}
	stub.AddContest(&contest.Descriptor{ID: noWinners, Status: contest.StatusCompleted})
	res, err = p.Run(ctx, noWinners)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, "no winners set", res.Reason)
}

// The winners array repeats weighted-ticket winners; each identity is tagged
// once and the prize is split across unique winners.
func TestRun_DeduplicatesWeightedWinners(t *testing.T) {
	p, stub, _, social, _ := newTestPipeline(Config{SignerUUID: "signer-1"})
	ctx := context.Background()
	id := contest.ID{Track: contest.TrackMain, N: 5}
	addCompleted(stub, id, winnerA, winnerB, winnerA, winnerA)
	social.AddUser(farcaster.User{FID: 1, Username: "alice", VerifiedAddresses: []string{winnerA.Hex()}})
	social.AddUser(farcaster.User{FID: 2, Username: "bob", VerifiedAddresses: []string{winnerB.Hex()}})

	res, err := p.Run(ctx, id)
	require.NoError(t, err)
	require.True(t, res.Posted)
	assert.Contains(t, res.Message, "@alice, @bob each win 0.5 ETH")
	// Tagged once despite three winning tickets.
	assert.Equal(t, 1, countOccurrences(res.Message, "@alice"))
}

func TestRun_UnresolvedWinnerDegradesToShortHex(t *testing.T) {
	p, stub, _, _, _ := newTestPipeline(Config{SignerUUID: "signer-1"})
	ctx := context.Background()
	id := contest.ID{Track: contest.TrackMain, N: 6}
	addCompleted(stub, id, winnerA)

	res, err := p.Run(ctx, id)
	require.NoError(t, err)
	require.True(t, res.Posted)
	assert.Contains(t, res.Message, shortHex(winnerA))
}

// Without a signer the flag is still set, so dry runs stay idempotent.
func TestRun_DryRunSetsFlag(t *testing.T) {
	p, stub, kv, social, _ := newTestPipeline(Config{})
	ctx := context.Background()
	id := contest.ID{Track: contest.TrackMain, N: 7}
	addCompleted(stub, id, winnerA)

	res, err := p.Run(ctx, id)
	require.NoError(t, err)
	assert.False(t, res.Posted)
	assert.NotEmpty(t, res.Note)
	assert.Empty(t, social.Published)

	flag, err := kvstore.GetFlag(ctx, kv, kvstore.AnnouncedKey(id.String()))
	require.NoError(t, err)
	assert.True(t, flag)
}

// A posting failure leaves the flag unset; the next sweep retries.
func TestRun_PostFailureLeavesFlagUnset(t *testing.T) {
	p, stub, kv, social, _ := newTestPipeline(Config{SignerUUID: "signer-1"})
	ctx := context.Background()
	id := contest.ID{Track: contest.TrackMain, N: 8}
	addCompleted(stub, id, winnerA)

	social.SetFailNext()
	_, err := p.Run(ctx, id)
	require.Error(t, err)

	flag, err := kvstore.GetFlag(ctx, kv, kvstore.AnnouncedKey(id.String()))
	require.NoError(t, err)
	assert.False(t, flag)

	res, err := p.Run(ctx, id)
	require.NoError(t, err)
	assert.True(t, res.Posted)
}

func TestRun_NFTPrizeEmbedsImage(t *testing.T) {
	p, stub, _, social, nft := newTestPipeline(Config{SignerUUID: "signer-1"})
	ctx := context.Background()
	id := contest.ID{Track: contest.TrackMain, N: 9}

	collection := common.HexToAddress("0xcccc000000000000000000000000000000000003")
	desc := addCompleted(stub, id, winnerA)
	desc.PrizeKind = contest.PrizeERC721
	desc.PrizeToken = collection
	desc.NFTTokenID = big.NewInt(77)
	stub.AddContest(desc)
	nft.SetToken(collection, big.NewInt(77), "Based Apes", "https://img.example/77.png")

	res, err := p.Run(ctx, id)
	require.NoError(t, err)
	require.True(t, res.Posted)
	assert.Contains(t, res.Message, "Based Apes #77")
	require.Len(t, social.Published, 1)
	assert.Contains(t, social.Published[0].Embeds, castURLPrefix+annCastHash)
	assert.Contains(t, social.Published[0].Embeds, "https://img.example/77.png")
}

func TestRun_CustomMessageAndReceipt(t *testing.T) {
	p, stub, kv, _, _ := newTestPipeline(Config{SignerUUID: "signer-1"})
	ctx := context.Background()
	id := contest.ID{Track: contest.TrackMain, N: 10}
	addCompleted(stub, id, winnerA)

	require.NoError(t, kv.Set(ctx, kvstore.MessageKey(id.String()), "GG to everyone who entered!", 0))
	require.NoError(t, kv.Set(ctx, kvstore.FinalizeTxKey(id.String()), "0xdeadbeef", 0))

	res, err := p.Run(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, res.Message, "GG to everyone who entered!")
	assert.Contains(t, res.Message, "0xdeadbeef")
}

func TestSweep_AnnouncesUnannouncedCompleted(t *testing.T) {
	p, stub, _, social, _ := newTestPipeline(Config{SignerUUID: "signer-1", SweepDepth: 50})
	ctx := context.Background()

	done := contest.ID{Track: contest.TrackMain, N: 1}
	addCompleted(stub, done, winnerA)
	active := contest.ID{Track: contest.TrackMain, N: 2}
	stub.AddContest(&contest.Descriptor{ID: active, Status: contest.StatusActive})

	results := p.Sweep(ctx)

	require.Len(t, results, 1)
	assert.Equal(t, done, results[0].ID)
	require.NotNil(t, results[0].Result)
	assert.True(t, results[0].Result.Posted)
	assert.Len(t, social.Published, 1)

	// A second sweep is quiet.
	assert.Empty(t, p.Sweep(ctx))
	assert.Len(t, social.Published, 1)
}

func TestRun_NotifiesSubscribersAfterPost(t *testing.T) {
	p, stub, _, social, _ := newTestPipeline(Config{SignerUUID: "signer-1"})
	notifier := NewStubNotifier()
	p.SetNotifier(notifier)
	ctx := context.Background()
	id := contest.ID{Track: contest.TrackMain, N: 40}
	addCompleted(stub, id, winnerA)
	social.AddUser(farcaster.User{FID: 1, Username: "alice", VerifiedAddresses: []string{winnerA.Hex()}})

	res, err := p.Run(ctx, id)
	require.NoError(t, err)
	assert.True(t, res.Posted)
	require.Len(t, notifier.Sent, 1)
	assert.Equal(t, id, notifier.Sent[0].ID)
	assert.Equal(t, res.CastHash, notifier.Sent[0].CastHash)
	assert.Contains(t, notifier.Sent[0].Message, "@alice")
}

// A notification failure is best-effort: the cast already posted and the
// announced flag must survive so the next sweep does not repost.
func TestRun_NotifierFailureKeepsFlag(t *testing.T) {
	p, stub, kv, _, _ := newTestPipeline(Config{SignerUUID: "signer-1"})
	notifier := NewStubNotifier()
	notifier.SetFailNext()
	p.SetNotifier(notifier)
	ctx := context.Background()
	id := contest.ID{Track: contest.TrackMain, N: 41}
	addCompleted(stub, id, winnerA)

	res, err := p.Run(ctx, id)
	require.NoError(t, err)
	assert.True(t, res.Posted)
	require.Len(t, notifier.Sent, 1)

	flag, err := kvstore.GetFlag(ctx, kv, kvstore.AnnouncedKey(id.String()))
	require.NoError(t, err)
	assert.True(t, flag)
}

// A token without symbol() falls back to name() in the prize line.
func TestFormatPrize_ERC20NameFallback(t *testing.T) {
	p, stub, _, _, _ := newTestPipeline(Config{SignerUUID: "signer-1"})
	ctx := context.Background()

	token := common.HexToAddress("0x3333000000000000000000000000000000000003")
	stub.SetTokenMeta(token, "NODE", 18, "Nodes Token")
	desc := &contest.Descriptor{
		PrizeKind:   contest.PrizeERC20,
		PrizeToken:  token,
		PrizeAmount: eth(10),
	}

	stub.SetFailNext() // symbol() reverts; name() answers
	prize, imageURL := p.formatPrize(ctx, desc, 1)
	assert.Equal(t, "10 Nodes Token", prize)
	assert.Empty(t, imageURL)
}

func countOccurrences(s, sub string) int {
	count := 0
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			count++
		}
	}
	return count
}
