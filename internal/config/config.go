package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the raffle backend.
type Config struct {
	General   GeneralConfig   `yaml:"general"`
	Chain     ChainConfig     `yaml:"chain"`
	Redis     RedisConfig     `yaml:"redis"`
	Farcaster FarcasterConfig `yaml:"farcaster"`
	Holder    HolderConfig    `yaml:"holder"`
	Volume    VolumeConfig    `yaml:"volume"`
	Finalize  FinalizeConfig  `yaml:"finalize"`
	Announce  AnnounceConfig  `yaml:"announce"`
	Server    ServerConfig    `yaml:"server"`
}

type GeneralConfig struct {
	InstanceID  string `yaml:"instance_id"`
	Environment string `yaml:"environment"` // production|staging|development
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json|text
}

type ChainConfig struct {
	RPCURL         string `yaml:"rpc_url"`
	PrivateKey     string `yaml:"private_key"` // empty = read-only, no finalize txs
	ContestManager string `yaml:"contest_manager"`
	PlatformToken  string `yaml:"platform_token"`
	V4StateView    string `yaml:"v4_state_view"`
	ETHUSDFeed     string `yaml:"eth_usd_feed"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type FarcasterConfig struct {
	BaseURL string  `yaml:"base_url"`
	APIKey  string  `yaml:"api_key"`
	PageRPS float64 `yaml:"page_rps"`
}

type HolderConfig struct {
	ThresholdTokens  int64    `yaml:"threshold_tokens"` // whole tokens at 18 decimals
	CooldownHours    int      `yaml:"cooldown_hours"`
	BlockTimeSeconds int      `yaml:"block_time_seconds"`
	DEXAddresses     []string `yaml:"dex_addresses"`
}

type VolumeConfig struct {
	ThresholdUSD     int64  `yaml:"threshold_usd"`
	BlockTimeSeconds int    `yaml:"block_time_seconds"`
	ChunkBlocks      uint64 `yaml:"chunk_blocks"`
}

type FinalizeConfig struct {
	BlockedFIDs     []uint64 `yaml:"blocked_fids"`
	MaxEntries      int      `yaml:"max_entries"`
	VRFPollSeconds  int      `yaml:"vrf_poll_seconds"`
	VRFPollAttempts int      `yaml:"vrf_poll_attempts"`
	SweepDepth      uint64   `yaml:"sweep_depth"`
}

type AnnounceConfig struct {
	SignerUUID    string `yaml:"signer_uuid"`
	AlchemyAPIKey string `yaml:"alchemy_api_key"`
	SweepDepth    uint64 `yaml:"sweep_depth"`

	// Mini app URL that subscriber push notifications open. Empty disables
	// notifications.
	NotifyTargetURL string `yaml:"notify_target_url"`
}

type ServerConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	BearerToken string `yaml:"bearer_token"` // protects the sweep and finalize endpoints
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply defaults
	applyDefaults(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "raffle-1"
	}
	if cfg.General.Environment == "" {
		cfg.General.Environment = "development"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if cfg.Chain.RPCURL == "" {
		cfg.Chain.RPCURL = "https://mainnet.base.org"
	}
	if cfg.Redis.URL == "" {
		cfg.Redis.URL = "redis://localhost:6379/0"
	}
	if cfg.Farcaster.BaseURL == "" {
		cfg.Farcaster.BaseURL = "https://api.neynar.com/v2/farcaster"
	}
	if cfg.Farcaster.PageRPS == 0 {
		cfg.Farcaster.PageRPS = 10
	}
	if cfg.Holder.ThresholdTokens == 0 {
		cfg.Holder.ThresholdTokens = 100_000_000
	}
	if cfg.Holder.CooldownHours == 0 {
		cfg.Holder.CooldownHours = 36
	}
	if cfg.Holder.BlockTimeSeconds == 0 {
		cfg.Holder.BlockTimeSeconds = 2
	}
	if cfg.Volume.ThresholdUSD == 0 {
		cfg.Volume.ThresholdUSD = 20
	}
	if cfg.Volume.BlockTimeSeconds == 0 {
		cfg.Volume.BlockTimeSeconds = 2
	}
	if cfg.Volume.ChunkBlocks == 0 {
		cfg.Volume.ChunkBlocks = 10_000
	}
	if cfg.Finalize.MaxEntries == 0 {
		cfg.Finalize.MaxEntries = 1000
	}
	if cfg.Finalize.VRFPollSeconds == 0 {
		cfg.Finalize.VRFPollSeconds = 2
	}
	if cfg.Finalize.VRFPollAttempts == 0 {
		cfg.Finalize.VRFPollAttempts = 30
	}
	if cfg.Finalize.SweepDepth == 0 {
		cfg.Finalize.SweepDepth = 50
	}
	if cfg.Announce.SweepDepth == 0 {
		cfg.Announce.SweepDepth = 50
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
}

// Validate rejects configurations that cannot serve the pipeline at all.
func (c *Config) Validate() error {
	if c.Chain.ContestManager == "" {
		return fmt.Errorf("config: chain.contest_manager is required")
	}
	if c.Chain.PlatformToken == "" {
		return fmt.Errorf("config: chain.platform_token is required")
	}
	if c.Farcaster.APIKey == "" {
		return fmt.Errorf("config: farcaster.api_key is required")
	}
	return nil
}
