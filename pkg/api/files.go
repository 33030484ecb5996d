package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mysten-labs-capstone/walrus-sub003/internal/logger"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/broker"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/dispatcher"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/store/models"
)

// DeleteFile removes one upload: the staged object, the database row, and,
// for completed files, the on-chain registry entry. The blob itself stays
// on the storage network until its epochs lapse; Walrus has no early
// deletion for certified blobs.
func (h *Handler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	fileID := chi.URLParam(r, "fileId")
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeErrorStatus(w, http.StatusBadRequest, "Missing required field userId")
		return
	}

	file, err := h.store.GetFile(ctx, fileID)
	if err != nil || file.UserID != userID {
		writeError(w, broker.NewError(broker.CodeNotFound, "file not found"))
		return
	}
	if file.Status == broker.FileProcessing {
		writeError(w, broker.NewError(broker.CodeConflict, "file is being dispatched"))
		return
	}

	if file.StagedKey != "" {
		if err := h.staging.Delete(ctx, file.StagedKey); err != nil {
			logger.Warn("staged object delete failed",
				logger.FileID(file.ID), logger.Err(err))
		}
	}

	h.removeFromChainAsync(file)

	if err := h.store.DeleteFile(ctx, file.ID); err != nil {
		writeError(w, err)
		return
	}

	logger.Info("file deleted", logger.UserID(userID), logger.FileID(file.ID))
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted": true,
		"fileId":  file.ID,
	})
}

// removeFromChainAsync clears a completed file's registry entry in the
// background. The row and staged object are gone either way; a failed
// chain removal only leaves a stale registry entry.
func (h *Handler) removeFromChainAsync(file *models.File) {
	if h.registry == nil || file.Status != broker.FileCompleted {
		return
	}

	owner, err := h.ownerWallet(file.UserID)
	if err != nil || owner == "" {
		return
	}
	fileKey := dispatcher.RegistryFileID(file)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		registryID, err := h.registry.EnsureRegistry(ctx, owner)
		if err != nil {
			logger.Warn("registry lookup failed, entry not removed",
				logger.FileID(file.ID), logger.Err(err))
			return
		}
		if _, err := h.registry.RemoveFile(ctx, registryID, owner, fileKey); err != nil {
			logger.Warn("remove_file failed, registry entry left behind",
				logger.FileID(file.ID), logger.Err(err))
		}
	}()
}

// ownerWallet resolves the wallet the file's registry entries live under,
// falling back to the server wallet for custodial users.
func (h *Handler) ownerWallet(userID string) (string, error) {
	user, err := h.store.GetUserByID(context.Background(), userID)
	if err != nil {
		return "", err
	}
	if user.WalletAddress != "" {
		return user.WalletAddress, nil
	}
	if h.wallet != nil {
		return h.wallet.Address(), nil
	}
	return "", nil
}
