package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/neynartodes/backend/internal/contest"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Stub client (for testing and development)
// ---------------------------------------------------------------------------

// Stub is a programmable in-memory Client for tests and stub mode.
type Stub struct {
	mu sync.Mutex

	head        uint64
	descriptors map[string]*contest.Descriptor
	nextIDs     map[contest.Track]uint64
	finalizable map[string]bool
	balances    map[common.Address]map[common.Address]*big.Int // token -> owner -> balance
	transfers   map[common.Address][]TransferEvent             // token -> events
	symbols     map[common.Address]string
	decimalsOf  map[common.Address]uint8
	names       map[common.Address]string

	v4Prices  map[string]*big.Int // poolID|block -> sqrtPriceX96
	ethUSD    decimal.Decimal
	canSign   bool
	failNext  bool
	nextTxSeq int

	// Recorded writes, inspected by tests.
	Finalized []FinalizeCall
	Cancelled []CancelCall
}

// FinalizeCall records one FinalizeContest invocation.
type FinalizeCall struct {
	ID      contest.ID
	Entries []common.Address
	Seed    *big.Int
	TxHash  common.Hash
}

// CancelCall records one CancelContest invocation.
type CancelCall struct {
	ID     contest.ID
	Reason string
	TxHash common.Hash
}

// NewStub creates an empty stub chain with signing enabled.
func NewStub() *Stub {
	return &Stub{
		head:        1_000_000,
		descriptors: make(map[string]*contest.Descriptor),
		nextIDs:     make(map[contest.Track]uint64),
		finalizable: make(map[string]bool),
		balances:    make(map[common.Address]map[common.Address]*big.Int),
		transfers:   make(map[common.Address][]TransferEvent),
		symbols:     make(map[common.Address]string),
		decimalsOf:  make(map[common.Address]uint8),
		names:       make(map[common.Address]string),
		v4Prices:    make(map[string]*big.Int),
		ethUSD:      decimal.NewFromInt(3000),
		canSign:     true,
	}
}

// --- Programming methods ---

// SetHead sets the current block number.
func (s *Stub) SetHead(block uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.head = block
}

// AddContest registers a descriptor.
func (s *Stub) AddContest(d *contest.Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.descriptors[d.ID.String()] = d
	if d.ID.N >= s.nextIDs[d.ID.Track] {
		s.nextIDs[d.ID.Track] = d.ID.N + 1
	}
}

// SetFinalizable marks whether canFinalize returns true for a contest.
func (s *Stub) SetFinalizable(id contest.ID, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalizable[id.String()] = ok
}

// SetBalance sets an ERC-20 balance.
func (s *Stub) SetBalance(token, owner common.Address, balance *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balances[token] == nil {
		s.balances[token] = make(map[common.Address]*big.Int)
	}
	s.balances[token][owner] = balance
}

// AddTransfer appends a Transfer event to a token's log.
func (s *Stub) AddTransfer(token common.Address, ev TransferEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfers[token] = append(s.transfers[token], ev)
}

// SetTokenMeta sets symbol/decimals/name for a token.
func (s *Stub) SetTokenMeta(token common.Address, symbol string, decimals uint8, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols[token] = symbol
	s.decimalsOf[token] = decimals
	s.names[token] = name
}

// SetV4Price sets the sqrt price returned for a pool at a block (0 = any).
func (s *Stub) SetV4Price(poolID common.Hash, block uint64, sqrtPriceX96 *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v4Prices[fmt.Sprintf("%s|%d", poolID.Hex(), block)] = sqrtPriceX96
}

// SetETHUSD sets the feed answer.
func (s *Stub) SetETHUSD(price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ethUSD = price
}

// SetCanSign toggles signing availability.
func (s *Stub) SetCanSign(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canSign = ok
}

// SetFailNext makes the next call fail.
func (s *Stub) SetFailNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}

func (s *Stub) shouldFail() error {
	if s.failNext {
		s.failNext = false
		return fmt.Errorf("stub: simulated chain failure")
	}
	return nil
}

func (s *Stub) newTxHash(kind string) common.Hash {
	s.nextTxSeq++
	return common.BytesToHash([]byte(fmt.Sprintf("%s-%d", kind, s.nextTxSeq)))
}

// --- Client interface implementation ---

func (s *Stub) BlockNumber(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.shouldFail(); err != nil {
		return 0, err
	}
	return s.head, nil
}

func (s *Stub) Contest(_ context.Context, id contest.ID) (*contest.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.shouldFail(); err != nil {
		return nil, err
	}
	d, ok := s.descriptors[id.String()]
	if !ok {
		return nil, fmt.Errorf("stub: contest %s not found", id)
	}
	copied := *d
	return &copied, nil
}

func (s *Stub) NextContestID(_ context.Context, track contest.Track) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.shouldFail(); err != nil {
		return 0, err
	}
	return s.nextIDs[track], nil
}

func (s *Stub) CanFinalize(_ context.Context, id contest.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.shouldFail(); err != nil {
		return false, err
	}
	return s.finalizable[id.String()], nil
}

func (s *Stub) FinalizeContest(_ context.Context, id contest.ID, entries []common.Address, seed *big.Int) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.shouldFail(); err != nil {
		return common.Hash{}, err
	}
	if !s.canSign {
		return common.Hash{}, fmt.Errorf("stub: no signing key configured")
	}
	hash := s.newTxHash("finalize")
	s.Finalized = append(s.Finalized, FinalizeCall{ID: id, Entries: entries, Seed: seed, TxHash: hash})
	if d, ok := s.descriptors[id.String()]; ok {
		d.Status = contest.StatusPendingVRF
	}
	return hash, nil
}

func (s *Stub) CancelContest(_ context.Context, id contest.ID, reason string) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.shouldFail(); err != nil {
		return common.Hash{}, err
	}
	if !s.canSign {
		return common.Hash{}, fmt.Errorf("stub: no signing key configured")
	}
	hash := s.newTxHash("cancel")
	s.Cancelled = append(s.Cancelled, CancelCall{ID: id, Reason: reason, TxHash: hash})
	if d, ok := s.descriptors[id.String()]; ok {
		d.Status = contest.StatusCancelled
	}
	return hash, nil
}

func (s *Stub) CanSign() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canSign
}

func (s *Stub) TokenBalance(_ context.Context, token, owner common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.shouldFail(); err != nil {
		return nil, err
	}
	if bal, ok := s.balances[token][owner]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (s *Stub) TokenSymbol(_ context.Context, token common.Address) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.shouldFail(); err != nil {
		return "", err
	}
	if sym, ok := s.symbols[token]; ok {
		return sym, nil
	}
	return "TOKEN", nil
}

func (s *Stub) TokenDecimals(_ context.Context, token common.Address) (uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.shouldFail(); err != nil {
		return 0, err
	}
	if dec, ok := s.decimalsOf[token]; ok {
		return dec, nil
	}
	return 18, nil
}

func (s *Stub) TokenName(_ context.Context, token common.Address) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.shouldFail(); err != nil {
		return "", err
	}
	if name, ok := s.names[token]; ok {
		return name, nil
	}
	return "Token", nil
}

func (s *Stub) TransferLogs(_ context.Context, token common.Address, fromBlock, toBlock uint64, to *common.Address) ([]TransferEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.shouldFail(); err != nil {
		return nil, err
	}
	var out []TransferEvent
	for _, ev := range s.transfers[token] {
		if ev.Block < fromBlock || ev.Block > toBlock {
			continue
		}
		if to != nil && ev.To != *to {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *Stub) V2Reserves(_ context.Context, _ common.Address, _ uint64) (*big.Int, *big.Int, common.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.shouldFail(); err != nil {
		return nil, nil, common.Address{}, err
	}
	return nil, nil, common.Address{}, fmt.Errorf("stub: no v2 pair configured")
}

func (s *Stub) V3Slot0(_ context.Context, _ common.Address, _ uint64) (*big.Int, common.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.shouldFail(); err != nil {
		return nil, common.Address{}, err
	}
	return nil, common.Address{}, fmt.Errorf("stub: no v3 pool configured")
}

func (s *Stub) V4Slot0(_ context.Context, poolID common.Hash, blockNumber uint64) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.shouldFail(); err != nil {
		return nil, err
	}
	if price, ok := s.v4Prices[fmt.Sprintf("%s|%d", poolID.Hex(), blockNumber)]; ok {
		return new(big.Int).Set(price), nil
	}
	if price, ok := s.v4Prices[fmt.Sprintf("%s|%d", poolID.Hex(), 0)]; ok {
		return new(big.Int).Set(price), nil
	}
	return nil, fmt.Errorf("stub: no price for pool %s", poolID.Hex())
}

func (s *Stub) ETHUSDPrice(_ context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.shouldFail(); err != nil {
		return decimal.Zero, err
	}
	return s.ethUSD, nil
}
