package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/neynartodes/backend/internal/contest"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Live client — Base RPC via go-ethereum
// ---------------------------------------------------------------------------

// EthClient is the production Client backed by a Base JSON-RPC endpoint.
type EthClient struct {
	cfg     Config
	ec      *ethclient.Client
	chainID *big.Int

	key  *ecdsa.PrivateKey // nil when no signing key is configured
	from common.Address

	contestMgr common.Address
	stateView  common.Address
	ethUSDFeed common.Address

	// Serializes nonce assignment across concurrent transactions.
	txMu sync.Mutex
}

// NewEthClient dials the RPC endpoint and prepares the signer.
func NewEthClient(ctx context.Context, cfg Config) (*EthClient, error) {
	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}
	chainID, err := ec.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: chain id: %w", err)
	}

	c := &EthClient{
		cfg:        cfg,
		ec:         ec,
		chainID:    chainID,
		contestMgr: common.HexToAddress(cfg.ContestManager),
		stateView:  common.HexToAddress(cfg.V4StateView),
		ethUSDFeed: common.HexToAddress(cfg.ETHUSDFeed),
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("chain: parse signing key: %w", err)
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
		log.Info().Str("signer", c.from.Hex()).Msg("chain: transaction signer configured")
	} else {
		log.Warn().Msg("chain: no signing key configured, finalize/cancel unavailable")
	}

	return c, nil
}

// Close releases the RPC connection.
func (c *EthClient) Close() { c.ec.Close() }

// CanSign reports whether a signing key is configured.
func (c *EthClient) CanSign() bool { return c.key != nil }

// Health checks RPC reachability; used by the health registry.
func (c *EthClient) Health(ctx context.Context) error {
	_, err := c.ec.BlockNumber(ctx)
	return err
}

// callContract packs args, executes eth_call, and unpacks outputs. A zero
// blockNumber reads the latest state.
func (c *EthClient) callContract(ctx context.Context, to common.Address, contractABI abi.ABI, method string, blockNumber uint64, args ...any) ([]any, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}

	var blockTag *big.Int
	if blockNumber > 0 {
		blockTag = new(big.Int).SetUint64(blockNumber)
	}
	msg := ethereum.CallMsg{To: &to, Data: data}

	var out []byte
	err = withRetry(ctx, method, func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
		var callErr error
		out, callErr = c.ec.CallContract(callCtx, msg, blockTag)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", method, err)
	}

	vals, err := contractABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	return vals, nil
}

// sendTx signs and submits a transaction, then waits for it to mine. Returns
// an error for reverted receipts.
func (c *EthClient) sendTx(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	if c.key == nil {
		return common.Hash{}, fmt.Errorf("chain: no signing key configured")
	}

	c.txMu.Lock()
	defer c.txMu.Unlock()

	nonce, err := c.ec.PendingNonceAt(ctx, c.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: nonce: %w", err)
	}
	tipCap, err := c.ec.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: gas tip: %w", err)
	}
	head, err := c.ec.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: head: %w", err)
	}
	feeCap := new(big.Int).Add(tipCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	gasLimit, err := c.ec.EstimateGas(ctx, ethereum.CallMsg{
		From: c.from,
		To:   &to,
		Data: data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: estimate gas: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit + gasLimit/5, // headroom over the estimate
		To:        &to,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: sign tx: %w", err)
	}

	if err := c.ec.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("chain: send tx: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.ReceiptTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, c.ec, signed)
	if err != nil {
		return signed.Hash(), fmt.Errorf("chain: wait mined %s: %w", signed.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return signed.Hash(), fmt.Errorf("chain: tx %s reverted", signed.Hash().Hex())
	}

	return signed.Hash(), nil
}

// --- Client interface implementation ---

func (c *EthClient) BlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := withRetry(ctx, "blockNumber", func() error {
		var callErr error
		n, callErr = c.ec.BlockNumber(ctx)
		return callErr
	})
	return n, err
}

func (c *EthClient) Contest(ctx context.Context, id contest.ID) (*contest.Descriptor, error) {
	method := "getContestFull"
	if id.IsTest() {
		method = "getTestContestFull"
	}
	vals, err := c.callContract(ctx, c.contestMgr, contestManagerABI, method, 0, new(big.Int).SetUint64(id.N))
	if err != nil {
		return nil, err
	}
	if len(vals) != 14 {
		return nil, fmt.Errorf("chain: %s returned %d values", method, len(vals))
	}

	d := &contest.Descriptor{
		ID:                id,
		PrizeKind:         contest.PrizeKind(vals[0].(uint8)),
		Host:              vals[1].(common.Address),
		Status:            contest.Status(vals[2].(uint8)),
		CastID:            vals[3].(string),
		StartTime:         vals[4].(*big.Int).Int64(),
		EndTime:           vals[5].(*big.Int).Int64(),
		PrizeToken:        vals[6].(common.Address),
		PrizeAmount:       vals[7].(*big.Int),
		NFTTokenID:        vals[8].(*big.Int),
		NFTAmount:         vals[9].(*big.Int).Uint64(),
		TokenRequirement:  vals[10].(*big.Int),
		VolumeRequirement: vals[11].(*big.Int),
		WinnerCount:       int(vals[12].(*big.Int).Int64()),
		Winners:           vals[13].([]common.Address),
	}
	return d, nil
}

func (c *EthClient) NextContestID(ctx context.Context, track contest.Track) (uint64, error) {
	method := "mainNextContestId"
	if track == contest.TrackTest {
		method = "testNextContestId"
	}
	vals, err := c.callContract(ctx, c.contestMgr, contestManagerABI, method, 0)
	if err != nil {
		return 0, err
	}
	return vals[0].(*big.Int).Uint64(), nil
}

func (c *EthClient) CanFinalize(ctx context.Context, id contest.ID) (bool, error) {
	method := "canFinalize"
	if id.IsTest() {
		method = "canFinalizeTest"
	}
	vals, err := c.callContract(ctx, c.contestMgr, contestManagerABI, method, 0, new(big.Int).SetUint64(id.N))
	if err != nil {
		return false, err
	}
	return vals[0].(bool), nil
}

func (c *EthClient) FinalizeContest(ctx context.Context, id contest.ID, entries []common.Address, seed *big.Int) (common.Hash, error) {
	method := "finalizeContest"
	if id.IsTest() {
		method = "finalizeTestContest"
	}
	data, err := contestManagerABI.Pack(method, new(big.Int).SetUint64(id.N), entries, seed)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	return c.sendTx(ctx, c.contestMgr, data)
}

func (c *EthClient) CancelContest(ctx context.Context, id contest.ID, reason string) (common.Hash, error) {
	method := "cancelContest"
	if id.IsTest() {
		method = "cancelTestContest"
	}
	data, err := contestManagerABI.Pack(method, new(big.Int).SetUint64(id.N), reason)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	return c.sendTx(ctx, c.contestMgr, data)
}

func (c *EthClient) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	vals, err := c.callContract(ctx, token, erc20ABI, "balanceOf", 0, owner)
	if err != nil {
		return nil, err
	}
	return vals[0].(*big.Int), nil
}

func (c *EthClient) TokenSymbol(ctx context.Context, token common.Address) (string, error) {
	vals, err := c.callContract(ctx, token, erc20ABI, "symbol", 0)
	if err != nil {
		return "", err
	}
	return vals[0].(string), nil
}

func (c *EthClient) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	vals, err := c.callContract(ctx, token, erc20ABI, "decimals", 0)
	if err != nil {
		return 0, err
	}
	return vals[0].(uint8), nil
}

func (c *EthClient) TokenName(ctx context.Context, token common.Address) (string, error) {
	vals, err := c.callContract(ctx, token, erc20ABI, "name", 0)
	if err != nil {
		return "", err
	}
	return vals[0].(string), nil
}

func (c *EthClient) TransferLogs(ctx context.Context, token common.Address, fromBlock, toBlock uint64, to *common.Address) ([]TransferEvent, error) {
	topics := [][]common.Hash{{transferTopic}}
	if to != nil {
		topics = append(topics, nil, []common.Hash{common.BytesToHash(to.Bytes())})
	}
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{token},
		Topics:    topics,
	}

	var logs []types.Log
	err := withRetry(ctx, "getLogs", func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
		var callErr error
		logs, callErr = c.ec.FilterLogs(callCtx, query)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("chain: transfer logs: %w", err)
	}

	events := make([]TransferEvent, 0, len(logs))
	for _, l := range logs {
		if len(l.Topics) < 3 || l.Removed {
			continue
		}
		events = append(events, TransferEvent{
			From:  common.BytesToAddress(l.Topics[1].Bytes()),
			To:    common.BytesToAddress(l.Topics[2].Bytes()),
			Value: new(big.Int).SetBytes(l.Data),
			Block: l.BlockNumber,
		})
	}
	return events, nil
}

func (c *EthClient) V2Reserves(ctx context.Context, pair common.Address, blockNumber uint64) (*big.Int, *big.Int, common.Address, error) {
	vals, err := c.callContract(ctx, pair, uniswapV2PairABI, "getReserves", blockNumber)
	if err != nil {
		return nil, nil, common.Address{}, err
	}
	token0Vals, err := c.callContract(ctx, pair, uniswapV2PairABI, "token0", blockNumber)
	if err != nil {
		return nil, nil, common.Address{}, err
	}
	return vals[0].(*big.Int), vals[1].(*big.Int), token0Vals[0].(common.Address), nil
}

func (c *EthClient) V3Slot0(ctx context.Context, pool common.Address, blockNumber uint64) (*big.Int, common.Address, error) {
	vals, err := c.callContract(ctx, pool, uniswapV3PoolABI, "slot0", blockNumber)
	if err != nil {
		return nil, common.Address{}, err
	}
	token0Vals, err := c.callContract(ctx, pool, uniswapV3PoolABI, "token0", blockNumber)
	if err != nil {
		return nil, common.Address{}, err
	}
	return vals[0].(*big.Int), token0Vals[0].(common.Address), nil
}

func (c *EthClient) V4Slot0(ctx context.Context, poolID common.Hash, blockNumber uint64) (*big.Int, error) {
	vals, err := c.callContract(ctx, c.stateView, uniswapV4StateABI, "getSlot0", blockNumber, [32]byte(poolID))
	if err != nil {
		return nil, err
	}
	return vals[0].(*big.Int), nil
}

func (c *EthClient) ETHUSDPrice(ctx context.Context) (decimal.Decimal, error) {
	vals, err := c.callContract(ctx, c.ethUSDFeed, chainlinkFeedABI, "latestRoundData", 0)
	if err != nil {
		return decimal.Zero, err
	}
	answer := vals[1].(*big.Int)
	if answer.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("chain: feed returned non-positive answer %s", answer)
	}
	// Feed answers carry 8 decimals.
	return decimal.NewFromBigInt(answer, -8), nil
}
