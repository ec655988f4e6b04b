package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/chronicle/internal/doc"
)

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeValidation: the submission was malformed and never got an id.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeSyncTimeout: a Sync or AwaitTx deadline passed first.
	ErrCodeSyncTimeout ErrorCode = "SYNC_TIMEOUT"

	// ErrCodeEngineStopped: the engine no longer accepts submissions.
	ErrCodeEngineStopped ErrorCode = "ENGINE_STOPPED"

	// ErrCodeNotRecorded: an accepted transaction has no log record, because
	// its append failed or the engine stopped before reaching it.
	ErrCodeNotRecorded ErrorCode = "NOT_RECORDED"
)

// Error is an engine error with a code and the transaction it concerns.
type Error struct {
	Code    ErrorCode
	Message string
	TxID    int64
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.TxID != 0 {
		return fmt.Sprintf("%s: %s (tx=%d)", e.Code, e.Message, e.TxID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ValidationError reports a submission rejected before an id was assigned.
// Nothing was written to the log.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", ErrCodeValidation, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// SyncTimeoutError reports that the engine had not processed TxID when the
// wait ended.
type SyncTimeoutError struct {
	TxID      int64 // transaction waited for
	Processed int64 // last transaction processed when the wait ended
	Timeout   time.Duration
}

func (e *SyncTimeoutError) Error() string {
	return fmt.Sprintf("%s: tx %d not processed within %s (processed up to %d)",
		ErrCodeSyncTimeout, e.TxID, e.Timeout, e.Processed)
}

// Code returns the code of an engine error, or "" for any other error.
// Uses errors.As to handle wrapped errors.
func Code(err error) ErrorCode {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ErrCodeValidation
	}
	var se *SyncTimeoutError
	if errors.As(err, &se) {
		return ErrCodeSyncTimeout
	}
	return ""
}

// IsValidationError returns true if err is a ValidationError.
func IsValidationError(err error) bool {
	return Code(err) == ErrCodeValidation
}

// IsSyncTimeout returns true if err is a SyncTimeoutError.
func IsSyncTimeout(err error) bool {
	return Code(err) == ErrCodeSyncTimeout
}

// IsStopped returns true if err reports a stopped engine.
func IsStopped(err error) bool {
	return Code(err) == ErrCodeEngineStopped
}

func errStopped() *Error {
	return &Error{Code: ErrCodeEngineStopped, Message: "engine is stopped"}
}

// abortError carries an abort reason out of the applier. Aborts are data:
// they become an aborted log record, never an error returned to a caller.
type abortError struct {
	reason doc.AbortReason
	detail string
}

func (e *abortError) Error() string {
	return fmt.Sprintf("%s: %s", e.reason, e.detail)
}

func abortf(reason doc.AbortReason, format string, args ...any) *abortError {
	return &abortError{reason: reason, detail: fmt.Sprintf(format, args...)}
}
