package holder

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/neynartodes/backend/internal/chain"
	"github.com/neynartodes/backend/internal/contest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	token   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	walletA = common.HexToAddress("0x2222222222222222222222222222222222222222")
	walletB = common.HexToAddress("0x3333333333333333333333333333333333333333")
	outside = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

// millions scales n million tokens to 18 decimals.
func millions(n int64) *big.Int {
	exp18 := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return new(big.Int).Mul(new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000)), exp18)
}

func newTestEngine(t *testing.T) (*Engine, *chain.Stub) {
	t.Helper()
	stub := chain.NewStub()
	stub.SetHead(1_000_000)
	engine := NewEngine(Config{Token: token}, stub)
	return engine, stub
}

func participant(addrs ...common.Address) *contest.Participant {
	return &contest.Participant{FID: 1, Addresses: addrs}
}

func TestCheck_QualifiesAboveThreshold(t *testing.T) {
	engine, stub := newTestEngine(t)
	stub.SetBalance(token, walletA, millions(60))
	stub.SetBalance(token, walletB, millions(50))

	res := engine.Check(context.Background(), participant(walletA, walletB))
	assert.True(t, res.IsHolder)
	assert.Equal(t, millions(110), res.TotalBalance)
	assert.Equal(t, millions(110), res.EligibleBalance)
	assert.Equal(t, int64(0), res.CooldownAmount.Int64())
}

func TestCheck_CooldownNeutralizesRecentInbound(t *testing.T) {
	// Scenario: 150M held, but 80M arrived from a foreign wallet inside the
	// window. Eligible drops to 70M, below the 100M threshold.
	engine, stub := newTestEngine(t)
	stub.SetBalance(token, walletA, millions(100))
	stub.SetBalance(token, walletB, millions(50))
	stub.AddTransfer(token, chain.TransferEvent{
		From: outside, To: walletA, Value: millions(80), Block: 999_999,
	})

	res := engine.Check(context.Background(), participant(walletA, walletB))
	assert.False(t, res.IsHolder)
	assert.Equal(t, millions(150), res.TotalBalance)
	assert.Equal(t, millions(80), res.CooldownAmount)
	assert.Equal(t, millions(70), res.EligibleBalance)
	assert.NotEmpty(t, res.CooldownReason)
}

func TestCheck_DEXPurchasesExemptFromCooldown(t *testing.T) {
	engine, stub := newTestEngine(t)
	stub.SetBalance(token, walletA, millions(120))
	router := common.HexToAddress(DefaultDEXAddresses[2])
	stub.AddTransfer(token, chain.TransferEvent{
		From: router, To: walletA, Value: millions(120), Block: 999_999,
	})

	res := engine.Check(context.Background(), participant(walletA))
	assert.True(t, res.IsHolder)
	assert.Equal(t, int64(0), res.CooldownAmount.Int64())
}

func TestCheck_MintExemptFromCooldown(t *testing.T) {
	engine, stub := newTestEngine(t)
	stub.SetBalance(token, walletA, millions(120))
	stub.AddTransfer(token, chain.TransferEvent{
		From: common.Address{}, To: walletA, Value: millions(120), Block: 999_999,
	})

	res := engine.Check(context.Background(), participant(walletA))
	assert.True(t, res.IsHolder)
	assert.Equal(t, int64(0), res.CooldownAmount.Int64())
}

func TestCheck_SelfTransfersExemptFromCooldown(t *testing.T) {
	engine, stub := newTestEngine(t)
	stub.SetBalance(token, walletA, millions(30))
	stub.SetBalance(token, walletB, millions(90))
	stub.AddTransfer(token, chain.TransferEvent{
		From: walletA, To: walletB, Value: millions(90), Block: 999_999,
	})

	res := engine.Check(context.Background(), participant(walletA, walletB))
	assert.True(t, res.IsHolder)
	assert.Equal(t, int64(0), res.CooldownAmount.Int64())
}

func TestCheck_TransfersOutsideWindowIgnored(t *testing.T) {
	engine, stub := newTestEngine(t)
	stub.SetBalance(token, walletA, millions(120))
	// Head is 1,000,000; the 36h/2s window covers 64,800 blocks.
	stub.AddTransfer(token, chain.TransferEvent{
		From: outside, To: walletA, Value: millions(120), Block: 900_000,
	})

	res := engine.Check(context.Background(), participant(walletA))
	assert.True(t, res.IsHolder)
	assert.Equal(t, int64(0), res.CooldownAmount.Int64())
}

func TestCheck_NoAddresses(t *testing.T) {
	engine, _ := newTestEngine(t)
	res := engine.Check(context.Background(), participant())
	assert.False(t, res.IsHolder)
	assert.Equal(t, int64(0), res.TotalBalance.Int64())
}

func TestCheck_RPCFailureDoesNotPunish(t *testing.T) {
	engine, stub := newTestEngine(t)
	stub.SetBalance(token, walletA, millions(200))
	stub.SetFailNext()

	res := engine.Check(context.Background(), participant(walletA))
	assert.False(t, res.IsHolder)
	assert.Equal(t, int64(0), res.CooldownAmount.Int64())
}

func TestCooldownBlocks(t *testing.T) {
	engine, _ := newTestEngine(t)
	// 36h at 2s blocks.
	assert.Equal(t, uint64(64_800), engine.cooldownBlocks())

	custom := NewEngine(Config{Token: token, CooldownHours: 12, BlockTimeSeconds: 1}, chain.NewStub())
	assert.Equal(t, uint64(43_200), custom.cooldownBlocks())
}

func TestCheckBatch(t *testing.T) {
	engine, stub := newTestEngine(t)
	stub.SetBalance(token, walletA, millions(150))

	participants := []*contest.Participant{
		{FID: 1, Addresses: []common.Address{walletA}},
		{FID: 2, Addresses: []common.Address{walletB}},
		{FID: 3},
	}
	results := engine.CheckBatch(context.Background(), participants, 2)
	require.Len(t, results, 3)
	assert.True(t, results[0].IsHolder)
	assert.False(t, results[1].IsHolder)
	assert.False(t, results[2].IsHolder)
}
