package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mysten-labs-capstone/walrus-sub003/internal/bytesize"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/store"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "testnet", cfg.Sui.Network)
	assert.Equal(t, DefaultShutdownTimeout, cfg.ShutdownTimeout)
	assert.Equal(t, uint64(50_000), cfg.Walrus.RelayTipMaxMIST)
	assert.Equal(t, 100*bytesize.MiB, cfg.MaxUploadSize)
	assert.Equal(t, store.DatabaseTypeSQLite, cfg.Database.Type)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: DEBUG
  format: json
shutdown_timeout: 45s
max_upload_size: 10Mi
sui:
  network: mainnet
walrus:
  relay_tip_max_mist: 25000
dispatcher:
  max_global: 4
  sweep_interval: 1m
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 45*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 10*bytesize.MiB, cfg.MaxUploadSize)
	assert.Equal(t, "mainnet", cfg.Sui.Network)
	assert.Equal(t, uint64(25_000), cfg.Walrus.RelayTipMaxMIST)
	assert.Equal(t, 4, cfg.Dispatcher.MaxGlobal)
	assert.Equal(t, time.Minute, cfg.Dispatcher.SweepInterval)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("SUI_PRIVATE_KEY", "deadbeef")
	t.Setenv("AWS_S3_BUCKET", "staging-bucket")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("WALRUS_RELAY_TIP_MAX_MIST", "12345")
	t.Setenv("MASTER_ENCRYPTION_KEY", "00ff")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "deadbeef", cfg.Sui.PrivateKey)
	assert.Equal(t, "staging-bucket", cfg.Staging.Bucket)
	assert.Equal(t, "eu-west-1", cfg.Staging.Region)
	assert.Equal(t, uint64(12_345), cfg.Walrus.RelayTipMaxMIST)
	assert.Equal(t, "00ff", cfg.Encryption.MasterKeyHex)
}

func TestLoad_InvalidNetwork(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sui:
  network: devnet
`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation")
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: SHOUTING
`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}
