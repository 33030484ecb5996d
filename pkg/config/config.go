// Package config loads the daemon configuration from file, environment,
// and defaults.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (WALRUSD_*, plus the well-known unprefixed
//     deployment variables like SUI_PRIVATE_KEY and AWS_S3_BUCKET)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/mysten-labs-capstone/walrus-sub003/internal/bytesize"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/api"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/store"
)

// Config is the complete daemon configuration.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Database configures the users/files/transactions store.
	Database store.Config `mapstructure:"database" yaml:"database"`

	// Sui configures the chain connection and the server wallet.
	Sui SuiConfig `mapstructure:"sui" yaml:"sui"`

	// Walrus configures the blob-store services and the relay tip cap.
	Walrus WalrusConfig `mapstructure:"walrus" yaml:"walrus"`

	// Staging configures the S3 staging bucket.
	Staging StagingConfig `mapstructure:"staging" yaml:"staging"`

	// Encryption holds the server-side envelope key.
	Encryption EncryptionConfig `mapstructure:"encryption" yaml:"encryption"`

	// API configures the intake HTTP server.
	API api.Config `mapstructure:"api" yaml:"api"`

	// Dispatcher tunes the chain protocol dispatch engine.
	Dispatcher DispatcherConfig `mapstructure:"dispatcher" yaml:"dispatcher"`

	// MaxUploadSize caps intake payloads. Accepts human-readable sizes
	// like "100Mi".
	MaxUploadSize bytesize.ByteSize `mapstructure:"max_upload_size" yaml:"max_upload_size"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR" yaml:"level"`

	// Format is "text" or "json".
	Format string `mapstructure:"format" validate:"omitempty,oneof=text json" yaml:"format"`
}

// SuiConfig is the chain connection.
type SuiConfig struct {
	// Network selects testnet or mainnet.
	Network string `mapstructure:"network" validate:"omitempty,oneof=testnet mainnet" yaml:"network"`

	// PrivateKey is the server wallet's 32-byte hex seed.
	// Environment: SUI_PRIVATE_KEY. Never written to the config file.
	PrivateKey string `mapstructure:"private_key" yaml:"-"`

	// RPCURL overrides the network's default fullnode endpoint.
	RPCURL string `mapstructure:"rpc_url" yaml:"rpc_url"`

	// RegistryPackage is the move package holding the file registry.
	RegistryPackage string `mapstructure:"registry_package" yaml:"registry_package"`
}

// WalrusConfig is the blob-store connection.
type WalrusConfig struct {
	// UploadRelayURL, PublisherURL, and AggregatorURL override the
	// network's default service endpoints.
	UploadRelayURL string `mapstructure:"upload_relay_url" yaml:"upload_relay_url"`
	PublisherURL   string `mapstructure:"publisher_url" yaml:"publisher_url"`
	AggregatorURL  string `mapstructure:"aggregator_url" yaml:"aggregator_url"`

	// RelayTipMaxMIST caps the tip paid to the upload relay.
	RelayTipMaxMIST uint64 `mapstructure:"relay_tip_max_mist" yaml:"relay_tip_max_mist"`

	// SystemPackage and SystemObject identify the storage system on chain.
	SystemPackage string `mapstructure:"system_package" yaml:"system_package"`
	SystemObject  string `mapstructure:"system_object" yaml:"system_object"`
}

// StagingConfig is the S3 staging bucket. With no bucket configured the
// staging store runs disabled and the intake answers 503.
type StagingConfig struct {
	Region string `mapstructure:"region" yaml:"region"`
	Bucket string `mapstructure:"bucket" yaml:"bucket"`

	// AccessKeyID and SecretAccessKey are optional; the AWS default
	// credential chain applies when they are empty.
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"-"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"-"`

	// Endpoint overrides the S3 endpoint, for MinIO and localstack.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
}

// EncryptionConfig holds the envelope master key.
type EncryptionConfig struct {
	// MasterKeyHex is the 32-byte hex root key for server-side envelope
	// sealing. Environment: MASTER_ENCRYPTION_KEY.
	MasterKeyHex string `mapstructure:"master_key" yaml:"-"`
}

// DispatcherConfig tunes the dispatch engine.
type DispatcherConfig struct {
	MaxGlobal       int           `mapstructure:"max_global" validate:"omitempty,min=1" yaml:"max_global"`
	MaxPerUser      int           `mapstructure:"max_per_user" validate:"omitempty,min=1" yaml:"max_per_user"`
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout" yaml:"dispatch_timeout"`

	// SweepInterval is the period of the pending-file sweep loop. Zero
	// disables the loop.
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// Load loads configuration from file, environment, and defaults.
// An empty configPath uses the default location and tolerates absence.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	// A missing config file is fine; the environment and the defaults
	// carry a full configuration on their own.
	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// setupViper configures environment variables and the config file search.
func setupViper(v *viper.Viper, configPath string) {
	// WALRUSD_ prefixed variables map onto config keys with underscores.
	// Example: WALRUSD_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("WALRUSD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The deployment's well-known variables bind without the prefix.
	_ = v.BindEnv("sui.network", "WALRUSD_SUI_NETWORK", "NETWORK")
	_ = v.BindEnv("sui.private_key", "WALRUSD_SUI_PRIVATE_KEY", "SUI_PRIVATE_KEY")
	_ = v.BindEnv("sui.rpc_url", "WALRUSD_SUI_RPC_URL", "SUI_RPC_URL")
	_ = v.BindEnv("walrus.upload_relay_url", "WALRUSD_WALRUS_UPLOAD_RELAY_URL", "WALRUS_UPLOAD_RELAY_URL")
	_ = v.BindEnv("walrus.relay_tip_max_mist", "WALRUSD_WALRUS_RELAY_TIP_MAX_MIST", "WALRUS_RELAY_TIP_MAX_MIST")
	_ = v.BindEnv("staging.region", "WALRUSD_STAGING_REGION", "AWS_REGION")
	_ = v.BindEnv("staging.bucket", "WALRUSD_STAGING_BUCKET", "AWS_S3_BUCKET")
	_ = v.BindEnv("staging.access_key_id", "AWS_ACCESS_KEY_ID")
	_ = v.BindEnv("staging.secret_access_key", "AWS_SECRET_ACCESS_KEY")
	_ = v.BindEnv("encryption.master_key", "WALRUSD_ENCRYPTION_MASTER_KEY", "MASTER_ENCRYPTION_KEY")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the config file if it exists. Absence is fine.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks combines the custom type hooks.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings like "100Mi" and plain numbers to
// bytesize.ByteSize.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings like "30s" to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// Validate runs struct-tag validation over the configuration.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		var errs validator.ValidationErrors
		if ok := isValidationErrors(err, &errs); ok {
			messages := make([]string, 0, len(errs))
			for _, fe := range errs {
				messages = append(messages, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%s", strings.Join(messages, "; "))
		}
		return err
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	return nil
}

func isValidationErrors(err error, target *validator.ValidationErrors) bool {
	if errs, ok := err.(validator.ValidationErrors); ok {
		*target = errs
		return true
	}
	return false
}

// getConfigDir returns $XDG_CONFIG_HOME/walrusd (or ~/.config/walrusd).
func getConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "."
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "walrusd")
}

// GetDefaultConfigPath returns the default config file location.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
