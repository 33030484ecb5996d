package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mysten-labs-capstone/walrus-sub003/internal/logger"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/api"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/config"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/dispatcher"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/ledger"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/metrics"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/prices"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/quote"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/staging"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/staging/memory"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/staging/s3"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/store"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/sui"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/walrus"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the walrusd server",
	Long: `Start the walrusd server with the specified configuration.

The server runs in the foreground; use a process supervisor for daemon
deployments. Use --config to specify a custom configuration file, or it
will use the default location at $XDG_CONFIG_HOME/walrusd/config.yaml.

Examples:
  # Start with default config location
  walrusd start

  # Start with custom config file
  walrusd start --config /etc/walrusd/config.yaml

  # Start with environment variable overrides
  WALRUSD_LOGGING_LEVEL=DEBUG walrusd start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Configuration loaded",
		"source", getConfigSource(GetConfigFile()),
		"network", cfg.Sui.Network)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("Store close error", logger.Err(err))
		}
	}()

	ldg := ledger.New(st)
	stg := buildStaging(ctx, cfg)

	if cfg.Sui.PrivateKey == "" {
		return fmt.Errorf("SUI_PRIVATE_KEY is required")
	}
	rpcURL := cfg.Sui.RPCURL
	network := sui.Network(cfg.Sui.Network)
	if rpcURL == "" {
		rpcURL = network.DefaultRPCURL()
	}
	rpc, err := sui.NewRPCClient(rpcURL, cfg.Sui.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to initialize sui client: %w", err)
	}
	logger.Info("Server wallet ready", "address", rpc.Address(), "rpc", rpcURL)

	registry := sui.NewRegistryClient(rpc, cfg.Sui.RegistryPackage)

	endpoints := walrus.DefaultEndpoints(network)
	if cfg.Walrus.UploadRelayURL != "" {
		endpoints.RelayURL = cfg.Walrus.UploadRelayURL
	}
	if cfg.Walrus.PublisherURL != "" {
		endpoints.PublisherURL = cfg.Walrus.PublisherURL
	}
	if cfg.Walrus.AggregatorURL != "" {
		endpoints.AggregatorURL = cfg.Walrus.AggregatorURL
	}
	blobs := walrus.NewClient(walrus.Config{
		Endpoints:     endpoints,
		Chain:         rpc,
		SystemPackage: cfg.Walrus.SystemPackage,
		SystemObject:  cfg.Walrus.SystemObject,
		MaxTipMIST:    cfg.Walrus.RelayTipMaxMIST,
	})

	m := metrics.New(nil)

	disp := dispatcher.New(dispatcher.Config{
		MaxGlobal:       cfg.Dispatcher.MaxGlobal,
		MaxPerUser:      cfg.Dispatcher.MaxPerUser,
		DispatchTimeout: cfg.Dispatcher.DispatchTimeout,
		Wallet:          rpc.Address(),
	}, st, stg, blobs, registry, m)
	defer disp.Close()

	fetcher := prices.NewHTTPFetcher(prices.DefaultEndpoint)
	quotes := quote.NewStore(fetcher)

	apiCfg := cfg.API
	apiCfg.MaxUploadBytes = int64(cfg.MaxUploadSize)
	if apiCfg.Network == "" {
		apiCfg.Network = cfg.Sui.Network
	}

	handler := api.NewHandler(apiCfg, st, ldg, stg, quotes, fetcher, disp, registry, blobs, rpc, m)
	server := api.NewServer(apiCfg, handler)

	if cfg.Dispatcher.SweepInterval > 0 {
		go sweepPending(ctx, cfg, st, disp, rpc.Address())
	}

	logger.Info("Server is running. Press Ctrl+C to stop.")

	if err := server.Start(ctx); err != nil {
		logger.Error("Server error", logger.Err(err))
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}

// buildStaging creates the S3 staging store, or a disabled store when no
// bucket is configured or the client cannot be built. With staging disabled
// the intake answers 503 but downloads and quotes keep working.
func buildStaging(ctx context.Context, cfg *config.Config) staging.Store {
	if cfg.Staging.Bucket == "" {
		logger.Warn("No staging bucket configured, uploads disabled")
		disabled := memory.New()
		disabled.Disabled = true
		return disabled
	}

	stg, err := s3.New(ctx, s3.Config{
		Bucket:          cfg.Staging.Bucket,
		Region:          cfg.Staging.Region,
		AccessKeyID:     cfg.Staging.AccessKeyID,
		SecretAccessKey: cfg.Staging.SecretAccessKey,
		Endpoint:        cfg.Staging.Endpoint,
	})
	if err != nil {
		logger.Warn("Staging store unavailable, uploads disabled", logger.Err(err))
		disabled := memory.New()
		disabled.Disabled = true
		return disabled
	}
	logger.Info("Staging store ready", "bucket", cfg.Staging.Bucket, "region", cfg.Staging.Region)
	return stg
}

// sweepPending periodically re-enqueues staged files whose dispatch never
// completed, oldest first. The dispatcher's admission bounds still apply;
// files already in flight are skipped by the processing-state check.
func sweepPending(ctx context.Context, cfg *config.Config, st *store.GORMStore, disp *dispatcher.Dispatcher, serverWallet string) {
	limit := cfg.API.PendingSweepLimit
	if limit <= 0 {
		limit = 20
	}

	ticker := time.NewTicker(cfg.Dispatcher.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		files, err := st.ListPendingFiles(ctx, limit)
		if err != nil {
			logger.Warn("Pending sweep query failed", logger.Err(err))
			continue
		}
		for _, f := range files {
			wallet := serverWallet
			if user, err := st.GetUserByID(ctx, f.UserID); err == nil && user.WalletAddress != "" {
				wallet = user.WalletAddress
			}
			if err := disp.Enqueue(dispatcher.Job{FileID: f.ID, UserID: f.UserID, Wallet: wallet}); err != nil {
				logger.Warn("Pending sweep enqueue failed", "file_id", f.ID, logger.Err(err))
			}
		}
		if len(files) > 0 {
			logger.Info("Pending sweep enqueued files", "count", len(files))
		}
	}
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
