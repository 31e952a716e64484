// Package services implements the materials-request workflow: preview
// building, the confirmation claim protocol, cancellation, and settings.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing messages or HTTP status codes is performed at the handler
// layer.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrDraftNotFound indicates that no request exists for the given draft id.
	ErrDraftNotFound = errors.New("draft not found")

	// ErrNotOwner is returned when a caller tries to act on a request
	// submitted by someone else.
	ErrNotOwner = errors.New("request belongs to another user")

	// ErrAlreadyProcessed indicates the request left the draft state and the
	// attempted operation no longer applies.
	ErrAlreadyProcessed = errors.New("request already processed")

	// ErrEmptyRequest is returned when the submitted text contains no usable
	// lines at all.
	ErrEmptyRequest = errors.New("request text is empty")

	// ErrTextTooLong is returned when the submitted text exceeds the size cap.
	ErrTextTooLong = errors.New("request text too long")

	// ErrObjectRequired indicates a private-scope request whose text did not
	// resolve to a site object.
	ErrObjectRequired = errors.New("site object could not be resolved")

	// ErrNoParsedLines indicates parsing produced zero material lines.
	// It is usually wrapped in a NoLinesError carrying the diagnostics.
	ErrNoParsedLines = errors.New("no parseable material lines")
)

// NoLinesError wraps ErrNoParsedLines together with the per-line diagnostics
// so callers can show the user what went wrong.
type NoLinesError struct {
	Diagnostics []string
}

// Error implements the error interface.
func (e *NoLinesError) Error() string {
	return fmt.Sprintf("%v (%d diagnostics)", ErrNoParsedLines, len(e.Diagnostics))
}

// Unwrap lets errors.Is(err, ErrNoParsedLines) match.
func (e *NoLinesError) Unwrap() error { return ErrNoParsedLines }
