package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "raffle-config-*.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	_, err = tmpFile.WriteString(yaml)
	require.NoError(t, err)
	tmpFile.Close()
	return tmpFile.Name()
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
general:
  instance_id: "test-node"
  environment: "development"
  log_level: "debug"

chain:
  rpc_url: "https://base.example/rpc"
  contest_manager: "0x1000000000000000000000000000000000000001"
  platform_token: "0x2000000000000000000000000000000000000002"

redis:
  url: "redis://localhost:16379/1"

farcaster:
  api_key: "test-key"

holder:
  threshold_tokens: 50000000
  cooldown_hours: 24

finalize:
  blocked_fids:
    - 666
    - 1337
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test-node", cfg.General.InstanceID)
	assert.Equal(t, "https://base.example/rpc", cfg.Chain.RPCURL)
	assert.Equal(t, "redis://localhost:16379/1", cfg.Redis.URL)
	assert.Equal(t, int64(50_000_000), cfg.Holder.ThresholdTokens)
	assert.Equal(t, 24, cfg.Holder.CooldownHours)
	assert.Equal(t, []uint64{666, 1337}, cfg.Finalize.BlockedFIDs)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
general:
  environment: "staging"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "raffle-1", cfg.General.InstanceID)
	assert.Equal(t, "info", cfg.General.LogLevel)
	assert.Equal(t, "https://mainnet.base.org", cfg.Chain.RPCURL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, int64(100_000_000), cfg.Holder.ThresholdTokens)
	assert.Equal(t, 36, cfg.Holder.CooldownHours)
	assert.Equal(t, int64(20), cfg.Volume.ThresholdUSD)
	assert.Equal(t, uint64(10_000), cfg.Volume.ChunkBlocks)
	assert.Equal(t, 1000, cfg.Finalize.MaxEntries)
	assert.Equal(t, 30, cfg.Finalize.VRFPollAttempts)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
}

func TestLoadConfigEnvExpansion(t *testing.T) {
	os.Setenv("TEST_RAFFLE_SIGNER", "signer-uuid-1")
	defer os.Unsetenv("TEST_RAFFLE_SIGNER")

	path := writeConfig(t, `
announce:
  signer_uuid: "${TEST_RAFFLE_SIGNER}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "signer-uuid-1", cfg.Announce.SignerUUID)
}

func TestValidateRejectsMissingRequiredFields(t *testing.T) {
	path := writeConfig(t, `
general:
  environment: "production"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Error(t, cfg.Validate())
}
