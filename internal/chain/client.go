package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/neynartodes/backend/internal/contest"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Chain client interface
// ---------------------------------------------------------------------------

// TransferEvent is one decoded ERC-20 Transfer log.
type TransferEvent struct {
	From  common.Address
	To    common.Address
	Value *big.Int
	Block uint64
}

// Client is the on-chain read/write surface the pipeline consumes.
// Implementations: EthClient (real Base RPC), Stub (testing).
type Client interface {
	// BlockNumber returns the current head block.
	BlockNumber(ctx context.Context) (uint64, error)

	// Contest loads the full descriptor for a contest on either track.
	Contest(ctx context.Context, id contest.ID) (*contest.Descriptor, error)

	// NextContestID returns the next unassigned sequence number for a track.
	NextContestID(ctx context.Context, track contest.Track) (uint64, error)

	// CanFinalize asks the contract whether the contest is finalizable.
	CanFinalize(ctx context.Context, id contest.ID) (bool, error)

	// FinalizeContest submits the qualified-entry multiset with a
	// caller-supplied shuffle seed and waits for the transaction to mine.
	FinalizeContest(ctx context.Context, id contest.ID, entries []common.Address, seed *big.Int) (common.Hash, error)

	// CancelContest cancels a contest with a human-readable reason.
	CancelContest(ctx context.Context, id contest.ID, reason string) (common.Hash, error)

	// CanSign reports whether a transaction-signing key is configured.
	// Without one, finalize and cancel are unavailable.
	CanSign() bool

	// TokenBalance reads balanceOf(owner) on an ERC-20 token.
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)

	// TokenSymbol reads the token's symbol.
	TokenSymbol(ctx context.Context, token common.Address) (string, error)

	// TokenDecimals reads the token's decimals.
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)

	// TokenName reads the token's display name.
	TokenName(ctx context.Context, token common.Address) (string, error)

	// TransferLogs returns Transfer events of token in [fromBlock, toBlock].
	// A non-nil to filters on the recipient topic server-side.
	TransferLogs(ctx context.Context, token common.Address, fromBlock, toBlock uint64, to *common.Address) ([]TransferEvent, error)

	// V2Reserves reads a Uniswap V2 pair's reserves and token0.
	V2Reserves(ctx context.Context, pair common.Address, blockNumber uint64) (reserve0, reserve1 *big.Int, token0 common.Address, err error)

	// V3Slot0 reads a Uniswap V3 pool's sqrt price and token0 at a block
	// (0 = latest).
	V3Slot0(ctx context.Context, pool common.Address, blockNumber uint64) (sqrtPriceX96 *big.Int, token0 common.Address, err error)

	// V4Slot0 reads a Uniswap V4 pool's sqrt price from the StateView
	// contract at a block (0 = latest).
	V4Slot0(ctx context.Context, poolID common.Hash, blockNumber uint64) (sqrtPriceX96 *big.Int, err error)

	// ETHUSDPrice reads the Chainlink ETH/USD feed (8-decimal answer,
	// returned as USD).
	ETHUSDPrice(ctx context.Context) (decimal.Decimal, error)
}

// Config configures the live chain client.
type Config struct {
	// Base RPC endpoint.
	RPCURL string `yaml:"rpc_url"`

	// Hex-encoded transaction signing key. Empty disables finalize/cancel.
	PrivateKey string `yaml:"private_key"`

	// Deployed contract addresses.
	ContestManager string `yaml:"contest_manager"`
	PlatformToken  string `yaml:"platform_token"`
	V4StateView    string `yaml:"v4_state_view"`
	ETHUSDFeed     string `yaml:"eth_usd_feed"`

	// Request timeout per RPC call.
	Timeout time.Duration `yaml:"timeout"`

	// Mined-receipt wait bound for finalize/cancel transactions.
	ReceiptTimeout time.Duration `yaml:"receipt_timeout"`
}

// DefaultConfig returns Base mainnet defaults. Contract addresses still need
// to be supplied by deploy configuration.
func DefaultConfig() Config {
	return Config{
		RPCURL:         "https://mainnet.base.org",
		V4StateView:    "0xA3c0c9b65baD0b08107Aa264b0f3dB444b867A71",
		ETHUSDFeed:     "0x71041dddad3595F9CEd3DcCFBe3D1F4b0a16Bb70",
		Timeout:        15 * time.Second,
		ReceiptTimeout: 90 * time.Second,
	}
}
