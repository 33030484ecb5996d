package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mysten-labs-capstone/walrus-sub003/pkg/broker"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/store/models"
)

// ============================================
// FILE OPERATIONS
// ============================================

func (s *GORMStore) GetFile(ctx context.Context, id string) (*models.File, error) {
	var file models.File
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&file).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrFileNotFound)
	}
	return &file, nil
}

func (s *GORMStore) GetFileByBlobID(ctx context.Context, blobID string) (*models.File, error) {
	var file models.File
	err := s.db.WithContext(ctx).Where("blob_id = ?", blobID).First(&file).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrFileNotFound)
	}
	return &file, nil
}

func (s *GORMStore) ListUserFiles(ctx context.Context, userID string) ([]*models.File, error) {
	var files []*models.File
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&files).Error
	return files, err
}

// ListPendingFiles returns dispatchable files oldest-first, so the trigger
// loop drains the backlog in arrival order.
func (s *GORMStore) ListPendingFiles(ctx context.Context, limit int) ([]*models.File, error) {
	var files []*models.File
	q := s.db.WithContext(ctx).
		Where("status = ?", broker.FilePending).
		Order("created_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&files).Error
	return files, err
}

func (s *GORMStore) CreateFile(ctx context.Context, file *models.File) (string, error) {
	if file.ID == "" {
		file.ID = uuid.New().String()
	}
	if file.Status == "" {
		file.Status = broker.FilePending
	}
	if err := s.db.WithContext(ctx).Create(file).Error; err != nil {
		return "", err
	}
	return file.ID, nil
}

// ClaimFile transitions a dispatchable file to processing. It returns
// ErrFileNotFound when the row is missing and a conflict error when the
// file is already processing or completed, which is what makes a second
// process-async call for the same file a no-op.
func (s *GORMStore) ClaimFile(ctx context.Context, id string) (*models.File, error) {
	var claimed *models.File
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var file models.File
		if err := tx.Where("id = ?", id).First(&file).Error; err != nil {
			return convertNotFoundError(err, models.ErrFileNotFound)
		}
		if !file.Status.Dispatchable() {
			return broker.NewError(broker.CodeConflict,
				fmt.Sprintf("file %s is %s", id, file.Status))
		}

		file.Status = broker.FileProcessing
		file.ErrorMessage = ""
		if err := tx.Model(&file).
			Select("Status", "ErrorMessage").
			Updates(&file).Error; err != nil {
			return err
		}
		claimed = &file
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// CompleteFile commits a successful dispatch: the real blob identity, the
// final staged key, and the completed status, in one update. BlobID must
// be non-empty; a completed row without one would break downloads.
func (s *GORMStore) CompleteFile(ctx context.Context, id, blobID, blobObjectID, stagedKey string) error {
	if blobID == "" {
		return fmt.Errorf("store: complete file %s: empty blob id", id)
	}

	now := time.Now()
	result := s.db.WithContext(ctx).
		Model(&models.File{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":         broker.FileCompleted,
			"blob_id":        blobID,
			"blob_object_id": blobObjectID,
			"staged_key":     stagedKey,
			"error_message":  "",
			"completed_at":   &now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrFileNotFound
	}
	return nil
}

// ReleaseFile returns a processing file to pending after a retriable
// dispatch failure.
func (s *GORMStore) ReleaseFile(ctx context.Context, id, errorMessage string) error {
	return s.setFileOutcome(ctx, id, broker.FilePending, errorMessage)
}

// FailFile marks a file permanently failed.
func (s *GORMStore) FailFile(ctx context.Context, id, errorMessage string) error {
	return s.setFileOutcome(ctx, id, broker.FileFailed, errorMessage)
}

func (s *GORMStore) setFileOutcome(ctx context.Context, id string, status broker.FileStatus, errorMessage string) error {
	result := s.db.WithContext(ctx).
		Model(&models.File{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        status,
			"error_message": errorMessage,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrFileNotFound
	}
	return nil
}

func (s *GORMStore) DeleteFile(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.File{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrFileNotFound
	}
	return nil
}
