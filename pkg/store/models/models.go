// Package models defines the persistent records behind the upload
// pipeline: users with prepaid balances, files moving through the
// dispatcher, and the append-only balance transaction log.
package models

import (
	"errors"
	"time"

	"github.com/mysten-labs-capstone/walrus-sub003/pkg/broker"
)

var (
	// ErrUserNotFound indicates the user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrDuplicateUser indicates a username collision on create.
	ErrDuplicateUser = errors.New("user already exists")

	// ErrFileNotFound indicates the file row does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrTransactionNotFound indicates no transaction matches the lookup.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrDuplicateReference indicates a credit reference was already applied.
	ErrDuplicateReference = errors.New("transaction reference already applied")
)

// User is an account with a prepaid USD balance and a signing wallet.
type User struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	Username      string    `gorm:"uniqueIndex;not null;size:255" json:"username"`
	BalanceUSD    float64   `gorm:"not null;default:0" json:"balance_usd"`
	WalletAddress string    `gorm:"size:66;index" json:"wallet_address"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}

// File is one upload tracked from intake through dispatch. A completed
// file always carries the real blob id; until then BlobID is nil and the
// temporary id names the staged object.
type File struct {
	ID           string            `gorm:"primaryKey;size:36" json:"id"`
	UserID       string            `gorm:"not null;size:36;index" json:"user_id"`
	Filename     string            `gorm:"not null;size:512" json:"filename"`
	SizeBytes    int64             `gorm:"not null" json:"size_bytes"`
	Epochs       int               `gorm:"not null;default:3" json:"epochs"`
	Status       broker.FileStatus `gorm:"not null;size:20;index" json:"status"`
	TempBlobID   string            `gorm:"size:64" json:"temp_blob_id"`
	BlobID       *string           `gorm:"size:64;index" json:"blob_id,omitempty"`
	BlobObjectID string            `gorm:"size:66" json:"blob_object_id,omitempty"`
	StagedKey    string            `gorm:"size:1024" json:"staged_key"`
	EnvelopeID   string            `gorm:"size:64" json:"envelope_id,omitempty"` // hex of the 32-byte envelope file id
	Encrypted    bool              `gorm:"default:false" json:"encrypted"`
	FolderID     string            `gorm:"size:36" json:"folder_id,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CreatedAt    time.Time         `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// TableName returns the table name for File.
func (File) TableName() string {
	return "files"
}

// Transaction is one append-only balance movement. Amount is signed:
// negative for debits, positive for credits. BalanceAfter snapshots the
// user balance the movement produced, so the log replays to the balance.
type Transaction struct {
	ID           string                 `gorm:"primaryKey;size:36" json:"id"`
	UserID       string                 `gorm:"not null;size:36;index" json:"user_id"`
	Type         broker.TransactionType `gorm:"not null;size:10" json:"type"`
	AmountUSD    float64                `gorm:"not null" json:"amount_usd"`
	BalanceAfter float64                `gorm:"not null" json:"balance_after"`
	Description  string                 `gorm:"size:512" json:"description"`
	Reference    *string                `gorm:"uniqueIndex;size:255" json:"reference,omitempty"`
	CreatedAt    time.Time              `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName returns the table name for Transaction.
func (Transaction) TableName() string {
	return "transactions"
}

// AllModels returns every model for schema migration.
func AllModels() []any {
	return []any{
		&User{},
		&File{},
		&Transaction{},
	}
}
