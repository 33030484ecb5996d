package sui

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mysten-labs-capstone/walrus-sub003/internal/logger"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/broker"
)

const (
	// registryModule is the move module exposing the registry entry points.
	registryModule = "registry"

	// registryScanPages and registryScanPageSize bound the RegistryCreated
	// backscan when resolving a user's registry object.
	registryScanPages    = 5
	registryScanPageSize = 50

	// createSettleDelay gives the fullnode time to index the RegistryCreated
	// event before the post-create rescan.
	createSettleDelay = 2 * time.Second
)

// RegistryClient resolves and mutates per-user on-chain registry objects.
// All signed calls go through the underlying Client; callers that need
// wallet-serialized ordering (the dispatcher) must route invocations
// through their wallet queue.
type RegistryClient struct {
	client    Client
	packageID string

	mu    sync.Mutex
	cache map[string]string // owner address -> registry object id
}

// registryCreatedEvent is the parsed payload of a RegistryCreated event.
type registryCreatedEvent struct {
	RegistryID string `json:"registry_id"`
	Owner      string `json:"owner"`
}

// NewRegistryClient builds a registry client for the move package at
// packageID.
func NewRegistryClient(client Client, packageID string) *RegistryClient {
	return &RegistryClient{
		client:    client,
		packageID: packageID,
		cache:     make(map[string]string),
	}
}

// eventType returns the fully qualified RegistryCreated event type.
func (r *RegistryClient) eventType() string {
	return fmt.Sprintf("%s::%s::RegistryCreated", r.packageID, registryModule)
}

// EnsureRegistry returns the registry object id owned by ownerAddr,
// creating one when none exists yet. Results are cached per owner.
func (r *RegistryClient) EnsureRegistry(ctx context.Context, ownerAddr string) (string, error) {
	r.mu.Lock()
	if id, ok := r.cache[ownerAddr]; ok {
		r.mu.Unlock()
		return id, nil
	}
	r.mu.Unlock()

	id, err := r.findRegistry(ctx, ownerAddr)
	if err != nil {
		return "", err
	}
	if id == "" {
		log := logger.With(logger.Component("registry"))
		log.Info("no registry found, creating one", logger.Wallet(ownerAddr))

		result, err := r.client.SignAndExecute(ctx, MoveCall{
			Package:  r.packageID,
			Module:   registryModule,
			Function: "create_registry",
			Args:     []any{ownerAddr},
		})
		if err != nil {
			return "", broker.WrapError(broker.CodeChainRejected, "create registry", err)
		}

		// Prefer the created shared object from the transaction effects;
		// fall back to an event rescan when object changes are unavailable.
		for _, oc := range result.ObjectChanges {
			if oc.Type == "created" && strings.Contains(oc.ObjectType, "::"+registryModule+"::") {
				id = oc.ObjectID
				break
			}
		}
		if id == "" {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(createSettleDelay):
			}
			id, err = r.findRegistry(ctx, ownerAddr)
			if err != nil {
				return "", err
			}
		}
		if id == "" {
			return "", broker.NewError(broker.CodeChainRejected,
				"registry created but not found on rescan")
		}

		log.Info("registry created",
			logger.Wallet(ownerAddr),
			slog.String(logger.KeyRegistry, id),
			logger.Digest(result.Digest))
	}

	r.mu.Lock()
	r.cache[ownerAddr] = id
	r.mu.Unlock()
	return id, nil
}

// findRegistry scans RegistryCreated events for one owned by ownerAddr.
// Returns "" when no match is found within the scan window.
func (r *RegistryClient) findRegistry(ctx context.Context, ownerAddr string) (string, error) {
	var cursor json.RawMessage
	for page := 0; page < registryScanPages; page++ {
		events, err := r.client.QueryEvents(ctx, r.eventType(), cursor, registryScanPageSize)
		if err != nil {
			return "", broker.WrapError(broker.CodeChainRejected, "scan registry events", err)
		}

		for _, ev := range events.Events {
			var created registryCreatedEvent
			if err := json.Unmarshal(ev.ParsedJSON, &created); err != nil {
				continue
			}
			if strings.EqualFold(created.Owner, ownerAddr) {
				return created.RegistryID, nil
			}
		}

		if !events.HasNext {
			break
		}
		cursor = events.NextCursor
	}
	return "", nil
}

// RegisterFile records a certified blob in the owner's registry. fileID is
// the 32-byte envelope file id, blobID the blob store identifier string.
func (r *RegistryClient) RegisterFile(ctx context.Context, registryID, ownerAddr string, fileID []byte, blobID string, encrypted bool, expirationEpoch uint64) (string, error) {
	result, err := r.client.SignAndExecute(ctx, MoveCall{
		Package:  r.packageID,
		Module:   registryModule,
		Function: "register_file",
		Args: []any{
			registryID,
			ownerAddr,
			byteVectorArg(fileID),
			byteVectorArg([]byte(blobID)),
			encrypted,
			fmt.Sprintf("%d", expirationEpoch),
		},
	})
	if err != nil {
		return "", broker.WrapError(broker.CodeChainRejected, "register file", err)
	}

	logger.With(logger.Component("registry")).Info("file registered on chain",
		slog.String(logger.KeyRegistry, registryID),
		logger.FileID(hex.EncodeToString(fileID)),
		logger.BlobID(blobID),
		logger.Digest(result.Digest))
	return result.Digest, nil
}

// RemoveFile deletes a file's registry entry.
func (r *RegistryClient) RemoveFile(ctx context.Context, registryID, ownerAddr string, fileID []byte) (string, error) {
	result, err := r.client.SignAndExecute(ctx, MoveCall{
		Package:  r.packageID,
		Module:   registryModule,
		Function: "remove_file",
		Args: []any{
			registryID,
			ownerAddr,
			byteVectorArg(fileID),
		},
	})
	if err != nil {
		return "", broker.WrapError(broker.CodeChainRejected, "remove file", err)
	}

	logger.With(logger.Component("registry")).Info("file removed from chain registry",
		slog.String(logger.KeyRegistry, registryID),
		logger.FileID(hex.EncodeToString(fileID)),
		logger.Digest(result.Digest))
	return result.Digest, nil
}

// byteVectorArg encodes bytes as the JSON number array the RPC transaction
// builder expects for vector<u8> arguments.
func byteVectorArg(b []byte) []int {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}
