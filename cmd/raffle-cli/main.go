package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/neynartodes/backend/internal/announce"
	"github.com/neynartodes/backend/internal/bonus"
	"github.com/neynartodes/backend/internal/chain"
	"github.com/neynartodes/backend/internal/config"
	"github.com/neynartodes/backend/internal/contest"
	"github.com/neynartodes/backend/internal/farcaster"
	"github.com/neynartodes/backend/internal/finalize"
	"github.com/neynartodes/backend/internal/holder"
	"github.com/neynartodes/backend/internal/kvstore"
	"github.com/neynartodes/backend/internal/pricing"
	"github.com/neynartodes/backend/internal/volume"
)

const usage = `Usage: raffle-cli [-config path] <command> [args]

Commands:
  finalize <contest-id>   Run the finalization pipeline for one contest (e.g. M-12, T-3)
  announce <contest-id>   Announce winners for one completed contest
  sweep                   Finalize then announce every eligible recent contest

Exit status is 0 when a transaction or cast was accepted, 1 otherwise.
`

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}
	setupLogging(cfg.General)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Configuration validation failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	app, err := buildApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Startup failed")
	}
	defer app.close()

	switch args[0] {
	case "finalize":
		if len(args) != 2 {
			flag.Usage()
			os.Exit(2)
		}
		os.Exit(app.finalizeOne(ctx, args[1]))
	case "announce":
		if len(args) != 2 {
			flag.Usage()
			os.Exit(2)
		}
		os.Exit(app.announceOne(ctx, args[1]))
	case "sweep":
		os.Exit(app.sweep(ctx))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		flag.Usage()
		os.Exit(2)
	}
}

// app bundles the fully wired pipelines for one CLI invocation.
type app struct {
	orchestrator *finalize.Orchestrator
	announcer    *announce.Pipeline

	kv     *kvstore.RedisStore
	chainc *chain.EthClient
}

func (a *app) close() {
	a.chainc.Close()
	a.kv.Close()
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	kv, err := kvstore.NewRedisStore(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	chainCfg := chain.DefaultConfig()
	chainCfg.RPCURL = cfg.Chain.RPCURL
	chainCfg.PrivateKey = cfg.Chain.PrivateKey
	chainCfg.ContestManager = cfg.Chain.ContestManager
	chainCfg.PlatformToken = cfg.Chain.PlatformToken
	if cfg.Chain.V4StateView != "" {
		chainCfg.V4StateView = cfg.Chain.V4StateView
	}
	if cfg.Chain.ETHUSDFeed != "" {
		chainCfg.ETHUSDFeed = cfg.Chain.ETHUSDFeed
	}
	chainc, err := chain.NewEthClient(ctx, chainCfg)
	if err != nil {
		kv.Close()
		return nil, fmt.Errorf("chain: %w", err)
	}
	if !chainc.CanSign() {
		log.Warn().Msg("No signing key configured: running read-only")
	}

	fcCfg := farcaster.DefaultConfig()
	fcCfg.BaseURL = cfg.Farcaster.BaseURL
	fcCfg.APIKey = cfg.Farcaster.APIKey
	fcCfg.PageRPS = cfg.Farcaster.PageRPS
	social := farcaster.NewHTTPClient(fcCfg)

	platformToken := common.HexToAddress(cfg.Chain.PlatformToken)
	exp18 := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	holders := holder.NewEngine(holder.Config{
		Token:            platformToken,
		Threshold:        new(big.Int).Mul(big.NewInt(cfg.Holder.ThresholdTokens), exp18),
		CooldownHours:    cfg.Holder.CooldownHours,
		BlockTimeSeconds: cfg.Holder.BlockTimeSeconds,
		DEXAddresses:     cfg.Holder.DEXAddresses,
	}, chainc)

	prices := pricing.NewEngine(pricing.DefaultConfig(), chainc, nil)
	volumeCfg := volume.DefaultConfig(platformToken)
	volumeCfg.ThresholdUSD = decimal.NewFromInt(cfg.Volume.ThresholdUSD)
	volumeCfg.BlockTimeSeconds = cfg.Volume.BlockTimeSeconds
	volumeCfg.ChunkBlocks = cfg.Volume.ChunkBlocks
	volumes := volume.NewEngine(volumeCfg, chainc, prices)

	bonuses := bonus.NewAggregator(social, kv, holders)

	var nftMeta announce.NFTMetadata
	if cfg.Announce.AlchemyAPIKey == "" {
		nftMeta = announce.NewStubNFTMetadata()
	} else {
		nftMeta = announce.NewAlchemyClient(cfg.Announce.AlchemyAPIKey)
	}
	announcer := announce.NewPipeline(announce.Config{
		SignerUUID: cfg.Announce.SignerUUID,
		SweepDepth: cfg.Announce.SweepDepth,
	}, chainc, kv, social, nftMeta)
	if cfg.Announce.NotifyTargetURL != "" {
		announcer.SetNotifier(announce.NewNeynarNotifier(cfg.Farcaster.APIKey, cfg.Announce.NotifyTargetURL))
	}

	orchestrator := finalize.NewOrchestrator(finalize.Config{
		BlockedFIDs:     cfg.Finalize.BlockedFIDs,
		MaxEntries:      cfg.Finalize.MaxEntries,
		VRFPollInterval: time.Duration(cfg.Finalize.VRFPollSeconds) * time.Second,
		VRFPollAttempts: cfg.Finalize.VRFPollAttempts,
		SweepDepth:      cfg.Finalize.SweepDepth,
	}, chainc, kv, social, holders, volumes, bonuses, announcer)

	return &app{
		orchestrator: orchestrator,
		announcer:    announcer,
		kv:           kv,
		chainc:       chainc,
	}, nil
}

func (a *app) finalizeOne(ctx context.Context, rawID string) int {
	id, err := contest.ParseID(rawID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad contest id %q: %v\n", rawID, err)
		return 2
	}

	outcome := a.orchestrator.Run(ctx, id)
	switch outcome.Kind {
	case finalize.Submitted:
		fmt.Printf("submitted %s tx=%s winners=%d\n", id, outcome.TxHash.Hex(), len(outcome.Winners))
		return 0
	case finalize.Cancelled:
		fmt.Printf("cancelled %s tx=%s reason=%q\n", id, outcome.TxHash.Hex(), outcome.Reason)
		return 0
	default:
		fmt.Printf("skipped %s: %s\n", id, outcome.Reason)
		return 1
	}
}

func (a *app) announceOne(ctx context.Context, rawID string) int {
	id, err := contest.ParseID(rawID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad contest id %q: %v\n", rawID, err)
		return 2
	}

	res, err := a.announcer.Run(ctx, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "announce %s failed: %v\n", id, err)
		return 1
	}
	switch {
	case res.Posted:
		fmt.Printf("announced %s cast=%s\n", id, res.CastHash)
		return 0
	case res.Skipped:
		fmt.Printf("skipped %s: %s\n", id, res.Reason)
		return 1
	default:
		fmt.Printf("dry run %s: %s\n", id, res.Note)
		return 0
	}
}

func (a *app) sweep(ctx context.Context) int {
	acted := false

	for _, res := range a.orchestrator.Sweep(ctx) {
		switch res.Outcome.Kind {
		case finalize.Submitted:
			acted = true
			fmt.Printf("submitted %s tx=%s winners=%d\n",
				res.ID, res.Outcome.TxHash.Hex(), len(res.Outcome.Winners))
		case finalize.Cancelled:
			acted = true
			fmt.Printf("cancelled %s tx=%s reason=%q\n",
				res.ID, res.Outcome.TxHash.Hex(), res.Outcome.Reason)
		default:
			fmt.Printf("skipped %s: %s\n", res.ID, res.Outcome.Reason)
		}
	}

	for _, res := range a.announcer.Sweep(ctx) {
		switch {
		case res.Err != nil:
			fmt.Fprintf(os.Stderr, "announce %s failed: %v\n", res.ID, res.Err)
		case res.Result.Posted:
			acted = true
			fmt.Printf("announced %s cast=%s\n", res.ID, res.Result.CastHash)
		default:
			fmt.Printf("announce dry run %s\n", res.ID)
		}
	}

	if acted {
		return 0
	}
	return 1
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// The CLI is run by hand, so default to the console writer.
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Str("service", "raffle-cli").
		Str("instance", general.InstanceID).Logger()
}
