// Package dispatcher drives staged files through the blob protocol. Each
// signing wallet gets its own FIFO loop, so no two transactions signed by
// the same key are ever in flight together and the chain observes them in
// submission order. Global and per-user caps bound total concurrency.
package dispatcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mysten-labs-capstone/walrus-sub003/internal/logger"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/broker"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/metrics"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/staging"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/store/models"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/walrus"
)

const (
	// DefaultMaxGlobal bounds dispatches in flight across all users.
	DefaultMaxGlobal = 6

	// DefaultMaxPerUser bounds dispatches in flight for one user.
	DefaultMaxPerUser = 2

	// DefaultDispatchTimeout is the ceiling for one dispatch end to end.
	DefaultDispatchTimeout = 120 * time.Second

	// DefaultAdmissionPoll is the wait between admission checks at cap.
	DefaultAdmissionPoll = time.Second

	// DefaultSettlePause separates consecutive items on one wallet, giving
	// the chain time to settle the previous transaction's coin state.
	DefaultSettlePause = 100 * time.Millisecond

	// walletQueueDepth is the per-wallet backlog limit.
	walletQueueDepth = 1024
)

// FileStore is the slice of the persistent store the dispatcher needs.
type FileStore interface {
	ClaimFile(ctx context.Context, id string) (*models.File, error)
	CompleteFile(ctx context.Context, id, blobID, blobObjectID, stagedKey string) error
	ReleaseFile(ctx context.Context, id, errorMessage string) error
	FailFile(ctx context.Context, id, errorMessage string) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// Registry records certified blobs on chain. Calls made from a wallet
// loop inherit that loop's ordering.
type Registry interface {
	EnsureRegistry(ctx context.Context, ownerAddr string) (string, error)
	RegisterFile(ctx context.Context, registryID, ownerAddr string, fileID []byte, blobID string, encrypted bool, expirationEpoch uint64) (string, error)
	RemoveFile(ctx context.Context, registryID, ownerAddr string, fileID []byte) (string, error)
}

// Config parameterizes a Dispatcher. Zero values take the defaults above.
type Config struct {
	MaxGlobal       int
	MaxPerUser      int
	DispatchTimeout time.Duration
	AdmissionPoll   time.Duration
	SettlePause     time.Duration

	// Wallet is the server's signing address. Jobs without a signer of
	// their own serialize on this wallet's queue.
	Wallet string
}

// Signer is one signing identity: the wallet address whose key signs and
// the chain-bound clients carrying that key. Jobs sharing a signer share
// one FIFO loop; that is what keeps the key's coin references from
// colliding on chain, so the queue must be keyed here and not on the
// blob's owner.
type Signer struct {
	Wallet   string
	Blobs    walrus.Store
	Registry Registry
}

func (c *Config) applyDefaults() {
	if c.MaxGlobal <= 0 {
		c.MaxGlobal = DefaultMaxGlobal
	}
	if c.MaxPerUser <= 0 {
		c.MaxPerUser = DefaultMaxPerUser
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = DefaultDispatchTimeout
	}
	if c.AdmissionPoll <= 0 {
		c.AdmissionPoll = DefaultAdmissionPoll
	}
	if c.SettlePause < 0 {
		c.SettlePause = DefaultSettlePause
	}
}

// Job names one file to dispatch. Wallet is the owner recorded on chain;
// it does not pick the queue. Signer, when set, supplies the user's own
// signing clients; otherwise the server signer runs the job.
type Job struct {
	FileID string
	UserID string
	Wallet string
	Signer *Signer
}

// Stats is a point-in-time snapshot for the metrics endpoint. Queue
// depths are keyed by signing wallet.
type Stats struct {
	GlobalInFlight  int            `json:"global_in_flight"`
	PerUserInFlight map[string]int `json:"per_user_in_flight"`
	QueuedByWallet  map[string]int `json:"queued_by_wallet"`
	Completed       uint64         `json:"completed"`
	Released        uint64         `json:"released"`
	Failed          uint64         `json:"failed"`
	Skipped         uint64         `json:"skipped"`
}

// Dispatcher owns the wallet loops and the admission counters.
type Dispatcher struct {
	cfg     Config
	files   FileStore
	staging staging.Store
	signer  Signer // the server's signing identity
	metrics *metrics.Metrics

	mu      sync.Mutex
	global  int
	perUser map[string]int
	queues  map[string]chan Job // keyed by signing wallet
	stats   Stats
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New builds a dispatcher signing with the server identity: cfg.Wallet
// plus the given blob and registry clients. metrics may be nil.
func New(cfg Config, files FileStore, stg staging.Store, blobs walrus.Store, registry Registry, m *metrics.Metrics) *Dispatcher {
	cfg.applyDefaults()
	if cfg.SettlePause == 0 {
		cfg.SettlePause = DefaultSettlePause
	}
	return &Dispatcher{
		cfg:     cfg,
		files:   files,
		staging: stg,
		signer:  Signer{Wallet: cfg.Wallet, Blobs: blobs, Registry: registry},
		metrics: m,
		perUser: make(map[string]int),
		queues:  make(map[string]chan Job),
		done:    make(chan struct{}),
	}
}

// Enqueue appends a job to its signer's FIFO queue, starting the wallet
// loop on first use.
func (d *Dispatcher) Enqueue(job Job) error {
	signer := d.signer
	if job.Signer != nil {
		signer = *job.Signer
	}
	if job.Wallet == "" {
		job.Wallet = signer.Wallet
	}
	if job.FileID == "" || job.UserID == "" || signer.Wallet == "" {
		return broker.NewError(broker.CodeInputInvalid, "job needs file, user, and signer")
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return broker.NewError(broker.CodeDispatchTimeout, "dispatcher is shut down")
	}
	queue, ok := d.queues[signer.Wallet]
	if !ok {
		queue = make(chan Job, walletQueueDepth)
		d.queues[signer.Wallet] = queue
		d.wg.Add(1)
		go d.walletLoop(signer, queue)
	}
	d.mu.Unlock()

	select {
	case queue <- job:
		return nil
	default:
		return broker.NewError(broker.CodeStagingUnavailable,
			fmt.Sprintf("wallet %s queue is full", signer.Wallet))
	}
}

// Close stops accepting work and waits for in-flight dispatches.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	close(d.done)
	d.wg.Wait()
}

// Stats returns a snapshot of the counters and queue depths.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := d.stats
	snap.GlobalInFlight = d.global
	snap.PerUserInFlight = make(map[string]int, len(d.perUser))
	for user, n := range d.perUser {
		if n > 0 {
			snap.PerUserInFlight[user] = n
		}
	}
	snap.QueuedByWallet = make(map[string]int, len(d.queues))
	for wallet, queue := range d.queues {
		snap.QueuedByWallet[wallet] = len(queue)
	}
	return snap
}

// walletLoop drains one signer's queue serially. Serial execution here is
// what keeps the signing key's coin references from colliding on chain.
func (d *Dispatcher) walletLoop(signer Signer, queue chan Job) {
	defer d.wg.Done()

	for {
		select {
		case <-d.done:
			return
		case job := <-queue:
			if !d.waitAdmission(job.UserID) {
				return
			}
			d.runJob(signer, job)
			d.releaseSlot(job.UserID)

			select {
			case <-d.done:
				return
			case <-time.After(d.cfg.SettlePause):
			}
		}
	}
}

// waitAdmission polls until a slot is free under both caps, claiming it
// atomically. Returns false when the dispatcher shuts down first.
func (d *Dispatcher) waitAdmission(userID string) bool {
	for {
		d.mu.Lock()
		if d.global < d.cfg.MaxGlobal && d.perUser[userID] < d.cfg.MaxPerUser {
			d.global++
			d.perUser[userID]++
			d.mu.Unlock()
			return true
		}
		d.mu.Unlock()

		select {
		case <-d.done:
			return false
		case <-time.After(d.cfg.AdmissionPoll):
		}
	}
}

func (d *Dispatcher) releaseSlot(userID string) {
	d.mu.Lock()
	d.global--
	d.perUser[userID]--
	if d.perUser[userID] <= 0 {
		delete(d.perUser, userID)
	}
	d.mu.Unlock()
}

func (d *Dispatcher) countOutcome(outcome string) {
	d.mu.Lock()
	switch outcome {
	case "completed":
		d.stats.Completed++
	case "released":
		d.stats.Released++
	case "failed":
		d.stats.Failed++
	case "skipped":
		d.stats.Skipped++
	}
	d.mu.Unlock()
}

// runJob executes one dispatch under the deadline and classifies its
// outcome. The admission slot is held for the whole call.
func (d *Dispatcher) runJob(signer Signer, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.DispatchTimeout)
	defer cancel()

	d.metrics.DispatchStarted()
	outcome := d.dispatch(ctx, signer, job)
	d.metrics.DispatchFinished(outcome)
	d.countOutcome(outcome)
}

// dispatch runs the pipeline for one file: claim, fetch staged bytes,
// blob protocol, staged rename, durable completion, registry entry.
func (d *Dispatcher) dispatch(ctx context.Context, signer Signer, job Job) (outcome string) {
	log := logger.With(
		logger.Component("dispatcher"),
		logger.FileID(job.FileID),
		logger.UserID(job.UserID),
		logger.Wallet(job.Wallet),
	)

	file, err := d.files.ClaimFile(ctx, job.FileID)
	if err != nil {
		if broker.CodeOf(err) == broker.CodeConflict {
			log.Debug("file already claimed or finished, skipping")
			return "skipped"
		}
		log.Warn("claim failed", logger.Err(err))
		return "skipped"
	}

	data, err := d.staging.Get(ctx, file.StagedKey)
	if err != nil {
		log.Warn("staged bytes unavailable, releasing", logger.StagedKey(file.StagedKey), logger.Err(err))
		d.release(file, "staging: "+err.Error())
		return "released"
	}

	info, err := d.runProtocol(ctx, signer, job.Wallet, file, data)
	if err != nil {
		if isNonRetriable(err) {
			log.Error("dispatch failed permanently", logger.Err(err))
			if ferr := d.files.FailFile(context.Background(), file.ID, err.Error()); ferr != nil {
				log.Error("could not mark file failed", logger.Err(ferr))
			}
			return "failed"
		}
		log.Warn("dispatch failed, file stays pending", logger.Err(err))
		d.release(file, err.Error())
		return "released"
	}

	finalKey := d.renameStaged(ctx, file, info.BlobID, log)

	// Completion must survive a lapsed dispatch deadline: payment is taken
	// and the blob is certified, so commit with a fresh context.
	if err := d.files.CompleteFile(context.Background(), file.ID, info.BlobID, info.BlobObjectID, finalKey); err != nil {
		log.Error("could not commit completion", logger.BlobID(info.BlobID), logger.Err(err))
		d.release(file, "commit: "+err.Error())
		return "released"
	}
	log.Info("file completed", logger.BlobID(info.BlobID))

	d.recordOnChain(ctx, signer, job, file, info.BlobID, log)
	return "completed"
}

// runProtocol runs encode→register→upload→certify with the tip fallback
// and the confirmation-timeout success path. The registered blob belongs
// to owner, which may differ from the wallet signing the transactions.
func (d *Dispatcher) runProtocol(ctx context.Context, signer Signer, owner string, file *models.File, data []byte) (*walrus.BlobInfo, error) {
	opts := walrus.WriteOptions{
		Epochs:    file.Epochs,
		Deletable: true,
		Owner:     owner,
	}

	flow := signer.Blobs.NewFlow(data)

	start := time.Now()
	if err := flow.Encode(ctx); err != nil {
		return nil, err
	}
	d.metrics.ObservePhase("encode", start)

	start = time.Now()
	digest, err := flow.Register(ctx, opts)
	if err != nil {
		if walrus.IsTipTooLow(err) {
			return d.directWrite(ctx, signer, data, opts)
		}
		return nil, err
	}
	d.metrics.ObservePhase("register", start)

	start = time.Now()
	if err := flow.Upload(ctx, digest); err != nil {
		if blobID, ok := walrus.ParseConfirmationTimeout(err); ok {
			return &walrus.BlobInfo{BlobID: blobID, Certified: true}, nil
		}
		if walrus.IsTipTooLow(err) {
			return d.directWrite(ctx, signer, data, opts)
		}
		return nil, err
	}
	d.metrics.ObservePhase("upload", start)

	start = time.Now()
	info, err := flow.Certify(ctx)
	if err != nil {
		// The blob is durable when only the confirmation count lagged.
		if blobID, ok := walrus.ParseConfirmationTimeout(err); ok {
			return &walrus.BlobInfo{BlobID: blobID, Certified: true}, nil
		}
		return nil, err
	}
	d.metrics.ObservePhase("certify", start)
	return info, nil
}

// directWrite is the fallback when the relay rejects the tip.
func (d *Dispatcher) directWrite(ctx context.Context, signer Signer, data []byte, opts walrus.WriteOptions) (*walrus.BlobInfo, error) {
	logger.Info("relay tip rejected, falling back to direct write")
	start := time.Now()
	info, err := signer.Blobs.WriteBlob(ctx, data, opts)
	if err != nil {
		if blobID, ok := walrus.ParseConfirmationTimeout(err); ok {
			return &walrus.BlobInfo{BlobID: blobID, Certified: true}, nil
		}
		return nil, err
	}
	d.metrics.ObservePhase("fallback_write", start)
	return info, nil
}

// renameStaged moves the staged object from its pending key to the final
// blob-addressed key. A failed rename is not worth failing the upload
// over; the old key still resolves until retention expires.
func (d *Dispatcher) renameStaged(ctx context.Context, file *models.File, blobID string, log *slog.Logger) string {
	filename := staging.SanitizeKeyPart(file.Filename)
	finalKey := staging.FinalKey(file.UserID, blobID, filename)

	start := time.Now()
	err := d.staging.Rename(ctx, file.StagedKey, finalKey)
	d.metrics.ObserveStagingOp("rename", start, err)
	if err != nil {
		log.Warn("staged rename failed, keeping pending key",
			logger.StagedKey(file.StagedKey), logger.Err(err))
		return file.StagedKey
	}
	d.metrics.ObservePhase("rename", start)
	return finalKey
}

// recordOnChain writes the registry entry, ordered after certify because
// it runs on the same signer loop. The entry is owned by the job's
// wallet. Registry failures never undo a completed file; they are
// surfaced for operator reconciliation.
func (d *Dispatcher) recordOnChain(ctx context.Context, signer Signer, job Job, file *models.File, blobID string, log *slog.Logger) {
	if signer.Registry == nil {
		return
	}

	registryID, err := signer.Registry.EnsureRegistry(ctx, job.Wallet)
	if err != nil {
		log.Error("registry unavailable, blob not recorded on chain", logger.Err(err))
		return
	}

	start := time.Now()
	_, err = signer.Registry.RegisterFile(ctx, registryID, job.Wallet,
		RegistryFileID(file), blobID, file.Encrypted, uint64(file.Epochs))
	if err != nil {
		log.Error("register_file failed, blob not recorded on chain",
			logger.BlobID(blobID), logger.Err(err))
		return
	}
	d.metrics.ObservePhase("register_file", start)
}

// release returns the file to pending, surviving a dead dispatch context.
func (d *Dispatcher) release(file *models.File, msg string) {
	if err := d.files.ReleaseFile(context.Background(), file.ID, msg); err != nil {
		logger.Error("could not release file", logger.FileID(file.ID), logger.Err(err))
	}
}

// RegistryFileID is the registry key: the envelope file id when the client
// encrypted, else a digest of the row id. The delete flow derives the same
// key to remove the entry.
func RegistryFileID(file *models.File) []byte {
	if file.EnvelopeID != "" {
		if id, err := hex.DecodeString(file.EnvelopeID); err == nil && len(id) == 32 {
			return id
		}
	}
	sum := sha256.Sum256([]byte(file.ID))
	return sum[:]
}

// isNonRetriable matches chain errors no retry can fix: the wallet lacks
// gas or storage funds.
func isNonRetriable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"insufficient gas",
		"insufficientgas",
		"insufficient funds",
		"insufficientcoinbalance",
		"gasbalancetoolow",
		"no valid gas coins",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
