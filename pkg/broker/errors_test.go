package broker

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{CodeInputInvalid, http.StatusBadRequest},
		{CodeQuoteInvalid, http.StatusBadRequest},
		{CodeInsufficientBalance, http.StatusPaymentRequired},
		{CodeStagingUnavailable, http.StatusServiceUnavailable},
		{CodeDispatchTimeout, http.StatusGatewayTimeout},
		{CodeChainRejected, http.StatusInternalServerError},
		{CodeNotFound, http.StatusNotFound},
		{CodeConflict, http.StatusConflict},
		{CodeUnknown, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.HTTPStatus())
		})
	}
}

func TestErrorCode_Retriable(t *testing.T) {
	nonRetriable := []ErrorCode{
		CodeInputInvalid, CodeQuoteInvalid, CodeInsufficientBalance,
		CodeNotFound, CodeConflict,
	}
	for _, c := range nonRetriable {
		assert.False(t, c.Retriable(), "%s should not be retriable", c)
	}

	retriable := []ErrorCode{
		CodeStagingUnavailable, CodeDispatchTimeout, CodeChainRejected,
		CodeConfirmationTimeout, CodeUnknown,
	}
	for _, c := range retriable {
		assert.True(t, c.Retriable(), "%s should be retriable", c)
	}
}

func TestCodeOf(t *testing.T) {
	err := NewError(CodeQuoteInvalid, "quote expired")
	assert.Equal(t, CodeQuoteInvalid, CodeOf(err))

	wrapped := fmt.Errorf("intake: %w", err)
	assert.Equal(t, CodeQuoteInvalid, CodeOf(wrapped))

	assert.Equal(t, CodeUnknown, CodeOf(errors.New("plain")))
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapError(CodeStagingUnavailable, "put failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "StagingUnavailable")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestFileStatus_Dispatchable(t *testing.T) {
	assert.True(t, FilePending.Dispatchable())
	assert.True(t, FileFailed.Dispatchable())
	assert.False(t, FileProcessing.Dispatchable())
	assert.False(t, FileCompleted.Dispatchable())
}

func TestUploadStatus_Terminal(t *testing.T) {
	assert.True(t, UploadDone.Terminal())
	assert.True(t, UploadError.Terminal())
	assert.False(t, UploadQueued.Terminal())
	assert.False(t, UploadUploading.Terminal())
	assert.False(t, UploadRetrying.Terminal())
}
