package uploader

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrPlanNotFound = errors.New("uploader: plan not found")
	ErrUploadActive = errors.New("uploader: upload already active")
)

// ValidationError is bad input caught before any network call. It is never
// retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// PartsFailedError reports parts whose retries were exhausted during one
// transfer pass. The rest of the plan is unaffected and the session remains
// resumable.
type PartsFailedError struct {
	Parts   []int
	LastErr error
}

func (e *PartsFailedError) Error() string {
	sort.Ints(e.Parts)
	return fmt.Sprintf("upload: %d part(s) failed after retries %v: %v", len(e.Parts), e.Parts, e.LastErr)
}

func (e *PartsFailedError) Unwrap() error {
	return e.LastErr
}

// IsCancellation reports whether err stems from an explicit abort rather than
// a failure. The UI presents it as a "cancelled" state, not an error.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
