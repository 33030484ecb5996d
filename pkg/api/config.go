package api

import "time"

// Config configures the intake HTTP server.
type Config struct {
	// Port is the HTTP port for the API endpoints.
	// Default: 8080
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 5 minutes (multipart uploads of large files)
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out response writes.
	// Default: 5 minutes
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the maximum time to wait for the next request on a
	// keep-alive connection.
	// Default: 2 minutes
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// MaxUploadBytes caps the accepted upload payload. Larger files need a
	// presigned staging path outside the sync intake.
	// Default: 100 MiB
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes"`

	// DispatchWait bounds how long process-async waits for the chain
	// protocol before answering 504. Must stay below the handler timeout.
	// Default: 120 seconds
	DispatchWait time.Duration `mapstructure:"dispatch_wait" yaml:"dispatch_wait"`

	// PendingSweepLimit caps how many pending files one trigger-pending
	// call dispatches.
	// Default: 20
	PendingSweepLimit int `mapstructure:"pending_sweep_limit" yaml:"pending_sweep_limit"`

	// Network is the chain network name reported by the balance endpoint.
	Network string `mapstructure:"network" yaml:"network"`

	// WALCoinType is the full coin type of the storage token.
	WALCoinType string `mapstructure:"wal_coin_type" yaml:"wal_coin_type"`
}

const (
	// SUICoinType is the native gas coin type.
	SUICoinType = "0x2::sui::SUI"

	// DefaultWALCoinType is the testnet storage token.
	DefaultWALCoinType = "0x8270feb7375eee355e64fdb69c50abb6b5f9393a722883c1cf45f8e26048810a::wal::WAL"
)

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 5 * time.Minute
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Minute
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 2 * time.Minute
	}
	if c.MaxUploadBytes == 0 {
		c.MaxUploadBytes = 100 << 20
	}
	if c.DispatchWait == 0 {
		c.DispatchWait = 120 * time.Second
	}
	if c.PendingSweepLimit == 0 {
		c.PendingSweepLimit = 20
	}
	if c.Network == "" {
		c.Network = "testnet"
	}
	if c.WALCoinType == "" {
		c.WALCoinType = DefaultWALCoinType
	}
}
