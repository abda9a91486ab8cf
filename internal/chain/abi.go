package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Contract ABIs, limited to the read/write surface the backend consumes.

const contestManagerABIJSON = `[
  {"type":"function","name":"getContestFull","stateMutability":"view","inputs":[{"name":"contestId","type":"uint256"}],"outputs":[
    {"name":"prizeKind","type":"uint8"},
    {"name":"host","type":"address"},
    {"name":"status","type":"uint8"},
    {"name":"castId","type":"string"},
    {"name":"startTime","type":"uint256"},
    {"name":"endTime","type":"uint256"},
    {"name":"prizeToken","type":"address"},
    {"name":"prizeAmount","type":"uint256"},
    {"name":"nftTokenId","type":"uint256"},
    {"name":"nftAmount","type":"uint256"},
    {"name":"tokenRequirement","type":"uint256"},
    {"name":"volumeRequirement","type":"uint256"},
    {"name":"winnerCount","type":"uint256"},
    {"name":"winners","type":"address[]"}]},
  {"type":"function","name":"getTestContestFull","stateMutability":"view","inputs":[{"name":"contestId","type":"uint256"}],"outputs":[
    {"name":"prizeKind","type":"uint8"},
    {"name":"host","type":"address"},
    {"name":"status","type":"uint8"},
    {"name":"castId","type":"string"},
    {"name":"startTime","type":"uint256"},
    {"name":"endTime","type":"uint256"},
    {"name":"prizeToken","type":"address"},
    {"name":"prizeAmount","type":"uint256"},
    {"name":"nftTokenId","type":"uint256"},
    {"name":"nftAmount","type":"uint256"},
    {"name":"tokenRequirement","type":"uint256"},
    {"name":"volumeRequirement","type":"uint256"},
    {"name":"winnerCount","type":"uint256"},
    {"name":"winners","type":"address[]"}]},
  {"type":"function","name":"mainNextContestId","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"testNextContestId","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"canFinalize","stateMutability":"view","inputs":[{"name":"contestId","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"canFinalizeTest","stateMutability":"view","inputs":[{"name":"contestId","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"finalizeContest","stateMutability":"nonpayable","inputs":[{"name":"contestId","type":"uint256"},{"name":"entries","type":"address[]"},{"name":"seed","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"finalizeTestContest","stateMutability":"nonpayable","inputs":[{"name":"contestId","type":"uint256"},{"name":"entries","type":"address[]"},{"name":"seed","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"cancelContest","stateMutability":"nonpayable","inputs":[{"name":"contestId","type":"uint256"},{"name":"reason","type":"string"}],"outputs":[]},
  {"type":"function","name":"cancelTestContest","stateMutability":"nonpayable","inputs":[{"name":"contestId","type":"uint256"},{"name":"reason","type":"string"}],"outputs":[]}
]`

const erc20ABIJSON = `[
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"event","name":"Transfer","inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}],"anonymous":false}
]`

const uniswapV2PairABIJSON = `[
  {"type":"function","name":"getReserves","stateMutability":"view","inputs":[],"outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]},
  {"type":"function","name":"token0","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

const uniswapV3PoolABIJSON = `[
  {"type":"function","name":"slot0","stateMutability":"view","inputs":[],"outputs":[
    {"name":"sqrtPriceX96","type":"uint160"},
    {"name":"tick","type":"int24"},
    {"name":"observationIndex","type":"uint16"},
    {"name":"observationCardinality","type":"uint16"},
    {"name":"observationCardinalityNext","type":"uint16"},
    {"name":"feeProtocol","type":"uint8"},
    {"name":"unlocked","type":"bool"}]},
  {"type":"function","name":"token0","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

const uniswapV4StateViewABIJSON = `[
  {"type":"function","name":"getSlot0","stateMutability":"view","inputs":[{"name":"poolId","type":"bytes32"}],"outputs":[
    {"name":"sqrtPriceX96","type":"uint160"},
    {"name":"tick","type":"int24"},
    {"name":"protocolFee","type":"uint24"},
    {"name":"lpFee","type":"uint24"}]}
]`

const chainlinkFeedABIJSON = `[
  {"type":"function","name":"latestRoundData","stateMutability":"view","inputs":[],"outputs":[
    {"name":"roundId","type":"uint80"},
    {"name":"answer","type":"int256"},
    {"name":"startedAt","type":"uint256"},
    {"name":"updatedAt","type":"uint256"},
    {"name":"answeredInRound","type":"uint80"}]}
]`

var (
	contestManagerABI abi.ABI
	erc20ABI          abi.ABI
	uniswapV2PairABI  abi.ABI
	uniswapV3PoolABI  abi.ABI
	uniswapV4StateABI abi.ABI
	chainlinkFeedABI  abi.ABI

	// transferTopic is keccak256("Transfer(address,address,uint256)").
	transferTopic common.Hash
)

func init() {
	mustParse := func(name, raw string) abi.ABI {
		parsed, err := abi.JSON(strings.NewReader(raw))
		if err != nil {
			panic("chain: parse " + name + " abi: " + err.Error())
		}
		return parsed
	}
	contestManagerABI = mustParse("contestManager", contestManagerABIJSON)
	erc20ABI = mustParse("erc20", erc20ABIJSON)
	uniswapV2PairABI = mustParse("uniswapV2Pair", uniswapV2PairABIJSON)
	uniswapV3PoolABI = mustParse("uniswapV3Pool", uniswapV3PoolABIJSON)
	uniswapV4StateABI = mustParse("uniswapV4StateView", uniswapV4StateViewABIJSON)
	chainlinkFeedABI = mustParse("chainlinkFeed", chainlinkFeedABIJSON)

	transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
}
