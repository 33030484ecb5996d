package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mysten-labs-capstone/walrus-sub003/internal/logger"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/dispatcher"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/ledger"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/metrics"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/prices"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/quote"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/staging"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/store"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/walrus"
)

// WalletReader reports the server wallet's address and on-chain funds.
// Implemented by sui.RPCClient; tests inject a fake.
type WalletReader interface {
	Address() string
	CoinBalance(ctx context.Context, coinType string) (float64, error)
}

// Handler bundles the intake's collaborators. All fields except Store and
// Staging are optional; handlers answer 503 when a required collaborator
// is absent.
type Handler struct {
	config     Config
	store      *store.GORMStore
	ledger     *ledger.Ledger
	staging    staging.Store
	quotes     *quote.Store
	prices     prices.Fetcher
	dispatcher *dispatcher.Dispatcher
	registry   dispatcher.Registry
	blobs      walrus.Store
	wallet     WalletReader
	metrics    *metrics.Metrics

	// sweepMu serializes trigger-pending sweeps.
	sweepMu sync.Mutex
}

// NewHandler creates the intake handler set.
func NewHandler(
	config Config,
	st *store.GORMStore,
	ldg *ledger.Ledger,
	stg staging.Store,
	quotes *quote.Store,
	fetcher prices.Fetcher,
	disp *dispatcher.Dispatcher,
	registry dispatcher.Registry,
	blobs walrus.Store,
	wallet WalletReader,
	m *metrics.Metrics,
) *Handler {
	config.applyDefaults()
	return &Handler{
		config:     config,
		store:      st,
		ledger:     ldg,
		staging:    stg,
		quotes:     quotes,
		prices:     fetcher,
		dispatcher: disp,
		registry:   registry,
		blobs:      blobs,
		wallet:     wallet,
		metrics:    m,
	}
}

// NewRouter creates and configures the chi router with all middleware and
// routes.
//
// Routes:
//   - GET  /health                     - Liveness probe
//   - GET  /health/ready               - Readiness probe
//   - POST /api/upload                 - Multipart intake
//   - POST /api/upload/process-async   - Dispatch one staged file
//   - POST /api/upload/trigger-pending - Sweep oldest pending files
//   - POST /api/quote                  - Mint a payment quote
//   - POST /api/download               - Fetch blob bytes
//   - GET  /api/verify                 - Blob existence check
//   - DELETE /api/files/{fileId}       - Remove an upload
//   - GET  /api/balance                - Server wallet funds
//   - POST /api/metrics                - Client timing ingest
//   - GET  /api/metrics                - Dispatcher stats snapshot
//   - GET  /metrics                    - Prometheus exposition
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.config.DispatchWait + 30*time.Second))

	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.Liveness)
		r.Get("/ready", h.Readiness)
	})

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", h.Upload)
		r.Post("/upload/process-async", h.ProcessAsync)
		r.Post("/upload/trigger-pending", h.TriggerPending)
		r.Post("/quote", h.MintQuote)
		r.Post("/download", h.Download)
		r.Get("/verify", h.Verify)
		r.Delete("/files/{fileId}", h.DeleteFile)
		r.Get("/balance", h.Balance)
		r.Post("/metrics", h.IngestClientMetrics)
		r.Get("/metrics", h.DispatchStats)
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

// isHealthPath returns true if the request path is a healthcheck endpoint.
func isHealthPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/")
}

// requestLogger logs requests using the internal logger.
//
// Healthcheck requests are logged at DEBUG to avoid polluting logs in k8s.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			logger.RequestIDStr(requestID),
			"method", r.Method,
			"path", r.URL.Path,
			logger.ClientIP(r.RemoteAddr),
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logArgs := []any{
			logger.RequestIDStr(requestID),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			logger.DurationMs(logger.Duration(start)),
		}

		if isHealthPath(r.URL.Path) {
			logger.Debug("API request completed", logArgs...)
		} else {
			logger.Info("API request completed", logArgs...)
		}
	})
}
