package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals that no profile matched a name query.
	ErrNotFound = errors.New("no matching profile")
	// ErrProfileNotFound is returned by store lookups by ID.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrAllGenerationsFailed signals that no sample produced a usable set.
	ErrAllGenerationsFailed = errors.New("recommendations unavailable, retry")
	// ErrMalformedRecord marks a corpus record that could not be used.
	ErrMalformedRecord = errors.New("malformed record")
)

// NotFoundError carries the query that found nothing.
type NotFoundError struct {
	Query string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no profile matches %q", e.Query)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ServiceErrorKind classifies a failed model call.
type ServiceErrorKind string

const (
	ServiceTimeout     ServiceErrorKind = "timeout"
	ServiceRateLimited ServiceErrorKind = "rate_limited"
	ServiceMalformed   ServiceErrorKind = "malformed_response"
	ServiceUnavailable ServiceErrorKind = "unavailable"
	ServiceTransport   ServiceErrorKind = "transport"
)

// ServiceError is a single generation call failure.
type ServiceError struct {
	Kind ServiceErrorKind
	Err  error
}

func (e *ServiceError) Error() string {
	if e.Err == nil {
		return "model service: " + string(e.Kind)
	}
	return fmt.Sprintf("model service: %s: %v", e.Kind, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// NewServiceError wraps err with a kind.
func NewServiceError(kind ServiceErrorKind, err error) *ServiceError {
	return &ServiceError{Kind: kind, Err: err}
}

// AllGenerationsFailedError reports total generation failure along with
// the per-call errors.
type AllGenerationsFailedError struct {
	Attempts int
	Causes   []error
}

func (e *AllGenerationsFailedError) Error() string {
	if len(e.Causes) == 0 {
		return fmt.Sprintf("all %d generation calls failed", e.Attempts)
	}
	return fmt.Sprintf("all %d generation calls failed: %v", e.Attempts, errors.Join(e.Causes...))
}

func (e *AllGenerationsFailedError) Unwrap() error { return ErrAllGenerationsFailed }

// MalformedRecordError describes a skipped corpus record.
type MalformedRecordError struct {
	Index  int
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("record %d: %s", e.Index, e.Reason)
}

func (e *MalformedRecordError) Unwrap() error { return ErrMalformedRecord }
