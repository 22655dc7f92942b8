// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/pdiddy/protocol-extractor/pkg/types"
)

// TransientError is a rate-limit or network failure that may succeed on retry.
type TransientError struct {
	// StatusCode is the HTTP status, or 0 for network failures.
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient backend error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient backend error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ValidationError means the backend's response did not satisfy the field
// contract. A retry may produce a cleaner response.
type ValidationError struct {
	Field  types.FieldID
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid response for %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid response for %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ExhaustedRetriesError is terminal for one field. It is recorded on the
// field's result and never aborts the document.
type ExhaustedRetriesError struct {
	Field    types.FieldID
	Attempts int
	Last     error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("%s: giving up after %d attempts: %v", e.Field, e.Attempts, e.Last)
}

func (e *ExhaustedRetriesError) Unwrap() error { return e.Last }

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	var te *TransientError
	var ve *ValidationError
	return errors.As(err, &te) || errors.As(err, &ve)
}

// classifyStatus wraps an unsuccessful HTTP status. Rate limits and server
// errors are transient; anything else is returned as a plain error.
func classifyStatus(code int, err error) error {
	if code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500 {
		return &TransientError{StatusCode: code, Err: err}
	}
	return err
}
