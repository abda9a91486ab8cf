package chain

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/neynartodes/backend/internal/contest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerivePoolID_Deterministic(t *testing.T) {
	key := PoolKey{
		Currency0:   NativeETH,
		Currency1:   common.HexToAddress("0x1234567890123456789012345678901234567890"),
		Fee:         big.NewInt(10000),
		TickSpacing: big.NewInt(200),
		Hooks:       clankerHooks[0],
	}

	id1, err := DerivePoolID(key)
	require.NoError(t, err)
	id2, err := DerivePoolID(key)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.NotEqual(t, common.Hash{}, id1)

	// Changing the fee changes the id.
	key.Fee = big.NewInt(30000)
	id3, err := DerivePoolID(key)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestSortCurrencies(t *testing.T) {
	token := common.HexToAddress("0x9999999999999999999999999999999999999999")

	c0, c1, tokenIs0 := SortCurrencies(token, NativeETH)
	assert.Equal(t, NativeETH, c0)
	assert.Equal(t, token, c1)
	assert.False(t, tokenIs0)

	low := common.HexToAddress("0x0000000000000000000000000000000000000001")
	c0, c1, tokenIs0 = SortCurrencies(low, token)
	assert.Equal(t, low, c0)
	assert.Equal(t, token, c1)
	assert.True(t, tokenIs0)
}

func TestCandidatePools(t *testing.T) {
	token := common.HexToAddress("0x1234567890123456789012345678901234567890")
	pools := CandidatePools(token)
	require.Len(t, pools, len(clankerHooks)*len(clankerFeeTiers))

	seen := make(map[common.Hash]bool)
	for _, p := range pools {
		assert.False(t, seen[p.PoolID], "candidate pool ids must be distinct")
		seen[p.PoolID] = true
	}
}

func TestPoolRegistry(t *testing.T) {
	token := common.HexToAddress("0xAbCd567890123456789012345678901234567890")
	registry := make(PoolRegistry)

	_, ok := registry.Lookup(token)
	assert.False(t, ok)

	registry.Register(token, KnownPool{PoolID: common.HexToHash("0x01"), IsToken0: true})

	// Lookup is case-insensitive on the token address.
	pool, ok := registry.Lookup(common.HexToAddress("0xabcd567890123456789012345678901234567890"))
	require.True(t, ok)
	assert.True(t, pool.IsToken0)
}

func TestStub_TransferLogFiltering(t *testing.T) {
	ctx := context.Background()
	stub := NewStub()
	token := common.HexToAddress("0x1111111111111111111111111111111111111111")
	alice := common.HexToAddress("0x2222222222222222222222222222222222222222")
	bob := common.HexToAddress("0x3333333333333333333333333333333333333333")

	stub.AddTransfer(token, TransferEvent{From: alice, To: bob, Value: big.NewInt(1), Block: 100})
	stub.AddTransfer(token, TransferEvent{From: bob, To: alice, Value: big.NewInt(2), Block: 200})
	stub.AddTransfer(token, TransferEvent{From: alice, To: bob, Value: big.NewInt(3), Block: 300})

	all, err := stub.TransferLogs(ctx, token, 0, 1000, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	ranged, err := stub.TransferLogs(ctx, token, 150, 250, nil)
	require.NoError(t, err)
	assert.Len(t, ranged, 1)

	toBob, err := stub.TransferLogs(ctx, token, 0, 1000, &bob)
	require.NoError(t, err)
	assert.Len(t, toBob, 2)
}

func TestStub_FinalizeAdvancesStatus(t *testing.T) {
	ctx := context.Background()
	stub := NewStub()
	id := contest.ID{Track: contest.TrackMain, N: 1}
	stub.AddContest(&contest.Descriptor{ID: id, Status: contest.StatusActive})

	_, err := stub.FinalizeContest(ctx, id, nil, big.NewInt(1))
	require.NoError(t, err)

	d, err := stub.Contest(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, contest.StatusPendingVRF, d.Status)
	require.Len(t, stub.Finalized, 1)
}
