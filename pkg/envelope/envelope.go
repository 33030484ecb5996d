// Package envelope implements the blob envelope shared by client and server:
//
//	32-byte random file id ‖ 12-byte IV ‖ AES-256-GCM ciphertext (tag included)
//
// The per-file key is derived with HKDF-SHA256 from the caller's root key,
// salted with the file id, so no two files share a cipher key. The legacy
// envelope (ASCII magic "WALRUS1"/"WALRUS2" ‖ u32 big-endian header length ‖
// JSON header ‖ ciphertext) is recognized on download but never produced.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// FileIDSize is the length of the random per-file identifier.
	FileIDSize = 32

	// IVSize is the AES-GCM nonce length.
	IVSize = 12

	// Overhead is the envelope's fixed size cost excluding the GCM tag.
	Overhead = FileIDSize + IVSize
)

var (
	// ErrTooShort indicates the blob cannot contain a valid envelope.
	ErrTooShort = errors.New("envelope: blob too short")

	// ErrBadKey indicates the root key has the wrong length.
	ErrBadKey = errors.New("envelope: root key must be 32 bytes")
)

// legacyMagics are the old envelope markers, in the order they shipped.
var legacyMagics = []string{"WALRUS1", "WALRUS2"}

// hkdfInfo domain-separates the per-file key derivation.
const hkdfInfo = "walrus-file-envelope-v3"

// Seal encrypts plaintext into a fresh envelope under the given 32-byte root
// key. It returns the envelope bytes and the random file id embedded in it.
func Seal(rootKey, plaintext []byte) (blob []byte, fileID []byte, err error) {
	if len(rootKey) != 32 {
		return nil, nil, ErrBadKey
	}

	fileID = make([]byte, FileIDSize)
	if _, err := rand.Read(fileID); err != nil {
		return nil, nil, fmt.Errorf("envelope: generate file id: %w", err)
	}

	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("envelope: generate iv: %w", err)
	}

	gcm, err := newGCM(rootKey, fileID)
	if err != nil {
		return nil, nil, err
	}

	blob = make([]byte, 0, Overhead+len(plaintext)+gcm.Overhead())
	blob = append(blob, fileID...)
	blob = append(blob, iv...)
	blob = gcm.Seal(blob, iv, plaintext, fileID)
	return blob, fileID, nil
}

// Open decrypts an envelope produced by Seal.
func Open(rootKey, blob []byte) ([]byte, error) {
	if len(rootKey) != 32 {
		return nil, ErrBadKey
	}
	if len(blob) < Overhead {
		return nil, ErrTooShort
	}

	fileID := blob[:FileIDSize]
	iv := blob[FileIDSize:Overhead]
	ciphertext := blob[Overhead:]

	gcm, err := newGCM(rootKey, fileID)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, iv, ciphertext, fileID)
	if err != nil {
		return nil, fmt.Errorf("envelope: open: %w", err)
	}
	return plaintext, nil
}

// FileID extracts the embedded file id without decrypting.
func FileID(blob []byte) ([]byte, error) {
	if len(blob) < FileIDSize {
		return nil, ErrTooShort
	}
	id := make([]byte, FileIDSize)
	copy(id, blob[:FileIDSize])
	return id, nil
}

// newGCM derives the per-file key and builds the AEAD.
func newGCM(rootKey, fileID []byte) (cipher.AEAD, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, rootKey, fileID, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("envelope: derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("envelope: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("envelope: gcm: %w", err)
	}
	return gcm, nil
}

// ============================================================================
// Legacy envelope
// ============================================================================

// LegacyHeader is the JSON header of the old envelope formats.
type LegacyHeader struct {
	Version   int    `json:"version"`
	Algorithm string `json:"algorithm,omitempty"`
	KeyHash   string `json:"keyHash,omitempty"`
	IV        string `json:"iv,omitempty"`
}

// IsLegacy reports whether the blob starts with a legacy envelope magic.
func IsLegacy(blob []byte) bool {
	for _, magic := range legacyMagics {
		if len(blob) >= len(magic) && string(blob[:len(magic)]) == magic {
			return true
		}
	}
	return false
}

// ParseLegacy splits a legacy blob into its decoded header and ciphertext.
// Decryption of legacy payloads is delegated to the caller, which holds the
// era-appropriate key material.
func ParseLegacy(blob []byte) (*LegacyHeader, []byte, error) {
	var magic string
	for _, m := range legacyMagics {
		if len(blob) >= len(m) && string(blob[:len(m)]) == m {
			magic = m
			break
		}
	}
	if magic == "" {
		return nil, nil, errors.New("envelope: not a legacy blob")
	}

	rest := blob[len(magic):]
	if len(rest) < 4 {
		return nil, nil, ErrTooShort
	}

	headerLen := binary.BigEndian.Uint32(rest[:4])
	rest = rest[4:]
	if uint32(len(rest)) < headerLen {
		return nil, nil, ErrTooShort
	}

	var header LegacyHeader
	if err := json.Unmarshal(rest[:headerLen], &header); err != nil {
		return nil, nil, fmt.Errorf("envelope: legacy header: %w", err)
	}

	return &header, rest[headerLen:], nil
}
