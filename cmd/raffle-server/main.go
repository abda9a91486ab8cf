package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/neynartodes/backend/internal/announce"
	"github.com/neynartodes/backend/internal/bonus"
	"github.com/neynartodes/backend/internal/chain"
	"github.com/neynartodes/backend/internal/config"
	"github.com/neynartodes/backend/internal/farcaster"
	"github.com/neynartodes/backend/internal/finalize"
	"github.com/neynartodes/backend/internal/holder"
	"github.com/neynartodes/backend/internal/kvstore"
	"github.com/neynartodes/backend/internal/observability"
	"github.com/neynartodes/backend/internal/pricing"
	"github.com/neynartodes/backend/internal/server"
	"github.com/neynartodes/backend/internal/volume"
)

func main() {
	// 1. Parse flags.
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	stubMode := flag.Bool("stub", false, "Use stub chain/social/KV backends (no external connections)")
	flag.Parse()

	// 2. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// 3. Setup logging.
	setupLogging(cfg.General, "raffle-server")

	log.Info().Msg("=============================================")
	log.Info().Msg("NEYNARtodes Raffle Backend - Starting")
	log.Info().Msg("ROSTER -> BONUSES -> MULTISET -> VRF -> ANNOUNCE")
	log.Info().Msg("=============================================")

	dryRun := cfg.Chain.PrivateKey == ""
	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Str("environment", cfg.General.Environment).
		Bool("dry_run", dryRun).
		Bool("stub_mode", *stubMode).
		Str("contest_manager", cfg.Chain.ContestManager).
		Str("platform_token", cfg.Chain.PlatformToken).
		Int64("holder_threshold", cfg.Holder.ThresholdTokens).
		Int64("volume_threshold_usd", cfg.Volume.ThresholdUSD).
		Int("max_entries", cfg.Finalize.MaxEntries).
		Msg("Configuration loaded")

	// 3b. Validate configuration.
	if !*stubMode {
		if err := cfg.Validate(); err != nil {
			log.Fatal().Err(err).Msg("Configuration validation failed")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Create the KV store.
	var kv kvstore.Store
	var redisKV *kvstore.RedisStore
	if *stubMode {
		kv = kvstore.NewMemoryStore()
		log.Info().Msg("KV store: STUB mode (in-memory)")
	} else {
		redisKV, err = kvstore.NewRedisStore(cfg.Redis.URL)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.Redis.URL).Msg("Redis connection failed")
		}
		kv = redisKV
		defer redisKV.Close()

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisKV.Ping(pingCtx); err != nil {
			log.Warn().Err(err).Msg("Redis ping failed (continuing, may recover)")
		} else {
			log.Info().Str("url", cfg.Redis.URL).Msg("KV store: LIVE - connected")
		}
		pingCancel()
	}

	// 5. Create the chain client.
	var chainClient chain.Client
	var liveChain *chain.EthClient
	if *stubMode {
		chainClient = chain.NewStub()
		log.Info().Msg("Chain client: STUB mode")
	} else {
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
		liveChain, err = chain.NewEthClient(ctx, chainCfg)
		if err != nil {
			log.Fatal().Err(err).Str("rpc", cfg.Chain.RPCURL).Msg("Chain client creation failed")
		}
		chainClient = liveChain
		defer liveChain.Close()

		healthCtx, healthCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := liveChain.Health(healthCtx); err != nil {
			log.Warn().Err(err).Str("rpc", cfg.Chain.RPCURL).
				Msg("Chain RPC health check failed (continuing, may be rate-limited)")
		} else {
			log.Info().Str("rpc", cfg.Chain.RPCURL).Bool("can_sign", liveChain.CanSign()).
				Msg("Chain client: LIVE - connected")
		}
		healthCancel()
	}

	// 6. Create the social API client.
	var social farcaster.Client
	var liveSocial *farcaster.HTTPClient
	if *stubMode {
		social = farcaster.NewStubClient()
		log.Info().Msg("Social client: STUB mode")
	} else {
		fcCfg := farcaster.DefaultConfig()
		fcCfg.BaseURL = cfg.Farcaster.BaseURL
		fcCfg.APIKey = cfg.Farcaster.APIKey
		fcCfg.PageRPS = cfg.Farcaster.PageRPS
		liveSocial = farcaster.NewHTTPClient(fcCfg)
		social = liveSocial
	}

	platformToken := common.HexToAddress(cfg.Chain.PlatformToken)

	// 7a. Create the holder engine.
	exp18 := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	holderCfg := holder.Config{
		Token:            platformToken,
		Threshold:        new(big.Int).Mul(big.NewInt(cfg.Holder.ThresholdTokens), exp18),
		CooldownHours:    cfg.Holder.CooldownHours,
		BlockTimeSeconds: cfg.Holder.BlockTimeSeconds,
		DEXAddresses:     cfg.Holder.DEXAddresses,
	}
	holders := holder.NewEngine(holderCfg, chainClient)
	log.Info().
		Int("cooldown_hours", holderCfg.CooldownHours).
		Int("block_time_s", holderCfg.BlockTimeSeconds).
		Msg("Holder engine initialized")

	// 7b. Create the price and volume engines. One price engine is shared so
	// historical lookups are cached across participants within a run.
	prices := pricing.NewEngine(pricing.DefaultConfig(), chainClient, nil)
	volumeCfg := volume.DefaultConfig(platformToken)
	volumeCfg.ThresholdUSD = decimal.NewFromInt(cfg.Volume.ThresholdUSD)
	volumeCfg.BlockTimeSeconds = cfg.Volume.BlockTimeSeconds
	volumeCfg.ChunkBlocks = cfg.Volume.ChunkBlocks
	volumes := volume.NewEngine(volumeCfg, chainClient, prices)
	log.Info().
		Str("threshold_usd", volumeCfg.ThresholdUSD.String()).
		Uint64("chunk_blocks", volumeCfg.ChunkBlocks).
		Msg("Volume engine initialized")

	// 7c. Create the bonus aggregator.
	bonuses := bonus.NewAggregator(social, kv, holders)

	// 8. Create the announcement pipeline.
	var nftMeta announce.NFTMetadata
	if *stubMode || cfg.Announce.AlchemyAPIKey == "" {
		nftMeta = announce.NewStubNFTMetadata()
	} else {
		nftMeta = announce.NewAlchemyClient(cfg.Announce.AlchemyAPIKey)
	}
	announceCfg := announce.Config{
		SignerUUID: cfg.Announce.SignerUUID,
		SweepDepth: cfg.Announce.SweepDepth,
	}
	announcer := announce.NewPipeline(announceCfg, chainClient, kv, social, nftMeta)
	if cfg.Announce.SignerUUID == "" {
		log.Warn().Msg("No signer UUID configured: announcements run dry")
	}
	if cfg.Announce.NotifyTargetURL != "" {
		announcer.SetNotifier(announce.NewNeynarNotifier(cfg.Farcaster.APIKey, cfg.Announce.NotifyTargetURL))
		log.Info().Str("target_url", cfg.Announce.NotifyTargetURL).Msg("Subscriber notifications enabled")
	}

	// 9. Create the finalization orchestrator.
	finalizeCfg := finalize.Config{
		BlockedFIDs:     cfg.Finalize.BlockedFIDs,
		MaxEntries:      cfg.Finalize.MaxEntries,
		VRFPollInterval: time.Duration(cfg.Finalize.VRFPollSeconds) * time.Second,
		VRFPollAttempts: cfg.Finalize.VRFPollAttempts,
		SweepDepth:      cfg.Finalize.SweepDepth,
	}
	orchestrator := finalize.NewOrchestrator(finalizeCfg, chainClient, kv, social,
		holders, volumes, bonuses, announcer)
	log.Info().
		Int("max_entries", finalizeCfg.MaxEntries).
		Int("blocked_fids", len(finalizeCfg.BlockedFIDs)).
		Uint64("sweep_depth", finalizeCfg.SweepDepth).
		Msg("Finalization orchestrator initialized")

	// 10. Observability: metrics registry and health checks.
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	chain.OnRetry = metrics.RPCRetries.Inc

	health := observability.NewHealthMonitor()
	if redisKV != nil {
		health.Register("redis", func(ctx context.Context) observability.ComponentHealth {
			if err := redisKV.Ping(ctx); err != nil {
				return observability.Unhealthy(err)
			}
			return observability.Healthy("connected")
		})
	}
	if liveChain != nil {
		health.Register("chain_rpc", func(ctx context.Context) observability.ComponentHealth {
			if err := liveChain.Health(ctx); err != nil {
				return observability.Unhealthy(err)
			}
			return observability.Healthy("connected")
		})
	}
	if liveSocial != nil {
		health.Register("social_api", func(ctx context.Context) observability.ComponentHealth {
			if err := liveSocial.Health(ctx); err != nil {
				return observability.Unhealthy(err)
			}
			return observability.Healthy("connected")
		})
	}

	// 11. Create and run the HTTP server.
	srv := server.New(server.Deps{
		Orchestrator: orchestrator,
		Announcer:    announcer,
		Bonuses:      bonuses,
		Chain:        chainClient,
		Health:       health,
		Metrics:      metrics,
		Registry:     registry,
		BearerToken:  cfg.Server.BearerToken,
	})
	if cfg.Server.BearerToken == "" {
		log.Warn().Msg("No bearer token configured: mutating endpoints disabled")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	log.Info().Msg("NEYNARtodes Raffle Backend - Running")
	if err := srv.Run(ctx, cfg.Server.ListenAddr); err != nil {
		log.Error().Err(err).Msg("Server error")
	}

	log.Info().Msg("NEYNARtodes Raffle Backend - Shutdown complete")
}

func setupLogging(general config.GeneralConfig, service string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", service).
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", service).
			Str("instance", general.InstanceID).Logger()
	}
}
