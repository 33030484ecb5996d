package walrus

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseConfirmationTimeout(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		blobID string
		ok     bool
	}{
		{
			name:   "canonical message",
			err:    errors.New("NotEnoughBlobConfirmationsError: blob XYZ123 to nodes"),
			blobID: "XYZ123",
			ok:     true,
		},
		{
			name:   "wrapped",
			err:    fmt.Errorf("certify failed: NotEnoughBlobConfirmationsError: blob aB-c_9 to nodes (quorum 4/7)"),
			blobID: "aB-c_9",
			ok:     true,
		},
		{
			name: "short form without Error suffix",
			err:  errors.New("NotEnoughBlobConfirmations: blob Q9 to nodes"),
			blobID: "Q9",
			ok:   true,
		},
		{
			name: "unrelated error",
			err:  errors.New("connection reset by peer"),
			ok:   false,
		},
		{
			name: "nil",
			err:  nil,
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blobID, ok := ParseConfirmationTimeout(tt.err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.blobID, blobID)
		})
	}
}

func TestIsTipTooLow(t *testing.T) {
	assert.True(t, IsTipTooLow(ErrTipTooLow))
	assert.True(t, IsTipTooLow(fmt.Errorf("register: %w", ErrTipTooLow)))
	assert.True(t, IsTipTooLow(errors.New("relay rejected: tip too low")))
	assert.True(t, IsTipTooLow(errors.New("TIP_TOO_LOW")))
	assert.True(t, IsTipTooLow(errors.New("insufficient tip for blob size")))
	assert.False(t, IsTipTooLow(errors.New("insufficient gas")))
	assert.False(t, IsTipTooLow(nil))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(errors.New("context deadline exceeded")))
	assert.True(t, IsTransient(errors.New("write: broken pipe")))
	assert.True(t, IsTransient(errors.New("walrus: relay upload HTTP 503: overloaded")))
	assert.True(t, IsTransient(errors.New("unexpected EOF")))
	assert.False(t, IsTransient(errors.New("invalid blob id")))
	assert.False(t, IsTransient(nil))
}
