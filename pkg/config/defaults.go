package config

import (
	"time"

	"github.com/mysten-labs-capstone/walrus-sub003/internal/bytesize"
)

// Default tuning values. Chain endpoints default per network inside the
// sui and walrus packages; only broker-level knobs live here.
const (
	DefaultShutdownTimeout = 30 * time.Second
	DefaultSweepInterval   = 5 * time.Minute
	DefaultMaxUploadSize   = 100 * bytesize.MiB
	DefaultRelayTipMaxMIST = 50_000
)

// ApplyDefaults fills missing values.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Sui.Network == "" {
		cfg.Sui.Network = "testnet"
	}
	if cfg.Walrus.RelayTipMaxMIST == 0 {
		cfg.Walrus.RelayTipMaxMIST = DefaultRelayTipMaxMIST
	}
	if cfg.Dispatcher.SweepInterval == 0 {
		cfg.Dispatcher.SweepInterval = DefaultSweepInterval
	}
	if cfg.MaxUploadSize == 0 {
		cfg.MaxUploadSize = DefaultMaxUploadSize
	}

	cfg.Database.ApplyDefaults()
}

// GetDefaultConfig returns a configuration with every default applied.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
