// Package broker defines the shared vocabulary of the upload pipeline:
// error codes, status enumerations, and the record schemas exchanged between
// the client queue, the intake, and the dispatcher. This is a leaf package
// with no internal dependencies so every layer can import it without cycles.
package broker

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies a pipeline failure. The code decides both the HTTP
// status the intake surfaces and whether the client queue may retry.
type ErrorCode int

const (
	// CodeInputInvalid indicates a bad size, disallowed extension, or
	// malformed field. Non-retriable.
	CodeInputInvalid ErrorCode = iota + 1

	// CodeQuoteInvalid indicates a missing, expired, or foreign quote.
	// Non-retriable.
	CodeQuoteInvalid

	// CodeInsufficientBalance indicates the user's prepaid balance cannot
	// cover the quoted amount. Non-retriable.
	CodeInsufficientBalance

	// CodeStagingUnavailable indicates the object store rejected the write,
	// typically because credentials are absent. Retriable by the client.
	CodeStagingUnavailable

	// CodeDispatchTimeout indicates the dispatch deadline expired while the
	// chain protocol was in flight. Retriable.
	CodeDispatchTimeout

	// CodeChainRejected indicates a validator conflict or gas exhaustion.
	// Caller-bound retry with caution.
	CodeChainRejected

	// CodeConfirmationTimeout indicates not enough storage nodes confirmed
	// in time but the blob id is known. Treated as success by the dispatcher.
	CodeConfirmationTimeout

	// CodeNotFound indicates the referenced file or blob does not exist.
	CodeNotFound

	// CodeConflict indicates the file already completed the protocol.
	CodeConflict

	// CodeUnknown is the default classification. Retriable.
	CodeUnknown
)

// String returns a human-readable name for the error code.
func (c ErrorCode) String() string {
	switch c {
	case CodeInputInvalid:
		return "InputInvalid"
	case CodeQuoteInvalid:
		return "QuoteInvalid"
	case CodeInsufficientBalance:
		return "InsufficientBalance"
	case CodeStagingUnavailable:
		return "StagingUnavailable"
	case CodeDispatchTimeout:
		return "DispatchTimeout"
	case CodeChainRejected:
		return "ChainRejected"
	case CodeConfirmationTimeout:
		return "ConfirmationTimeout"
	case CodeNotFound:
		return "NotFound"
	case CodeConflict:
		return "Conflict"
	case CodeUnknown:
		return "Unknown"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// HTTPStatus returns the HTTP status the intake should surface for the code.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case CodeInputInvalid:
		return http.StatusBadRequest
	case CodeQuoteInvalid:
		return http.StatusBadRequest
	case CodeInsufficientBalance:
		return http.StatusPaymentRequired
	case CodeStagingUnavailable:
		return http.StatusServiceUnavailable
	case CodeDispatchTimeout:
		return http.StatusGatewayTimeout
	case CodeChainRejected:
		return http.StatusInternalServerError
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Retriable reports whether a client may retry an operation failing with
// this code.
func (c ErrorCode) Retriable() bool {
	switch c {
	case CodeInputInvalid, CodeQuoteInvalid, CodeInsufficientBalance,
		CodeNotFound, CodeConflict:
		return false
	default:
		return true
	}
}

// Error is the structured error surfaced across pipeline boundaries.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error // wrapped cause, optional
}

// NewError creates a structured pipeline error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates a structured pipeline error wrapping a cause.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf extracts the ErrorCode from any error in the chain, defaulting to
// CodeUnknown.
func CodeOf(err error) ErrorCode {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return CodeUnknown
}
