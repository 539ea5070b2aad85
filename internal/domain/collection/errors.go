package collection

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRecords is returned when a first pass collects nothing, so there
	// is no baseline to reconcile against.
	ErrNoRecords = errors.New("first pass collected no records")
	// ErrMalformedResponse marks responses that can't be interpreted as a
	// page of rows. These are never retried.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrTransient marks failures worth retrying: transport errors,
	// timeouts and non-2xx statuses.
	ErrTransient = errors.New("transient fetch failure")
	// ErrRetriesExhausted is reported when a page keeps failing transiently
	// for the whole retry budget.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrCorpusNotFound is returned when an operation needs an existing
	// corpus for a resource and none exists.
	ErrCorpusNotFound = errors.New("corpus not found")
	// ErrUnknownResource is returned when a resource name isn't configured.
	ErrUnknownResource = errors.New("unknown resource")
)

// FetchError describes a failed page fetch. Kind is either ErrTransient or
// ErrMalformedResponse and is matched by errors.Is.
type FetchError struct {
	Resource   string
	Page       int
	StatusCode int
	Kind       error
	Err        error
}

// NewTransientError wraps err as a retryable fetch failure.
func NewTransientError(resource string, page, status int, err error) *FetchError {
	return &FetchError{Resource: resource, Page: page, StatusCode: status, Kind: ErrTransient, Err: err}
}

// NewMalformedError wraps err as a non-retryable fetch failure.
func NewMalformedError(resource string, page int, err error) *FetchError {
	return &FetchError{Resource: resource, Page: page, Kind: ErrMalformedResponse, Err: err}
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s page %d: %v", e.Resource, e.Page, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }
