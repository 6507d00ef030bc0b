package sdk

import (
	"errors"
	"fmt"

	"github.com/imroc/req/v3"
)

var (
	// sdk common
	ErrNoServerURL = errors.New("sdk: server url missing")

	// upload
	ErrFileNotFound = errors.New("sdk: file not found")
)

const (
	// Generic request/server errors
	CodeInvalidRequest = "E_INVALID_REQUEST" // bad or invalid request
	CodeRateLimited    = "E_RATE_LIMITED"    // rate limit exceeded
	CodeInternalError  = "E_INTERNAL_ERROR"  // internal server error
	CodeUnknownError   = "E_UNKNOWN_ERR"     // unknown error

	// Upload-session errors
	CodeUploadNotFound     = "E_UPLOAD_NOT_FOUND"     // the upload session could not be found.
	CodeUploadTooLarge     = "E_UPLOAD_TOO_LARGE"     // the declared file size exceeds the server cap.
	CodeUploadPartFailed   = "E_UPLOAD_PART_FAILED"   // a failure while storing an uploaded part.
	CodeUploadIncomplete   = "E_UPLOAD_INCOMPLETE"    // finalize called with missing or mismatched parts.
	CodeUploadStoreFailed  = "E_UPLOAD_STORE_FAILED"  // a failure while persisting the session.
	CodeUploadDiskPressure = "E_UPLOAD_DISK_PRESSURE" // the server is out of disk headroom.

	// Video errors
	CodeTranscodeFailed = "E_VIDEO_TRANSCODE_FAILED" // a failure while normalizing the video.
	CodeAnalyzeFailed   = "E_VIDEO_ANALYZE_FAILED"   // a failure while running match analysis.
)

type SDKError interface {
	error
	ErrorCode() string
	ErrorMessage() string
}

// BaseError provides common error functionality
type BaseError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *BaseError) ErrorCode() string    { return e.Code }
func (e *BaseError) ErrorMessage() string { return e.Message }

// APIError is a server rejection: the service answered, but with ok=false and
// a code/message pair. Always fatal to the current step.
type APIError struct {
	BaseError
}

func NewAPIError(code, message string) *APIError {
	return &APIError{
		BaseError: BaseError{
			Code:    code,
			Message: message,
		},
	}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s - %s", e.Code, e.Message)
}

var _ SDKError = (*APIError)(nil)

// PartUploadError is a failed part transfer. The retry policy treats it as
// transient unless the server said otherwise.
type PartUploadError struct {
	PartNumber int
	StatusCode int
	Message    string
}

func (e *PartUploadError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upload part %d: status %d: %s", e.PartNumber, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upload part %d: status %d", e.PartNumber, e.StatusCode)
}

// Retriable reports whether another attempt could succeed. Client errors
// other than rate limiting are permanent.
func (e *PartUploadError) Retriable() bool {
	if e.StatusCode == 429 {
		return true
	}
	return e.StatusCode < 400 || e.StatusCode >= 500
}

// handleAPIError is a helper function that handles the common error pattern
func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("http request error: %s %w", operation, requestErr)
	}

	// got a response, but api returned an error
	if resp.IsErrorState() {
		if err, ok := resp.ErrorResult().(*APIError); ok && err.Code != "" {
			return fmt.Errorf("%s %w", operation, err)
		}

		return fmt.Errorf("api error: %s %s", operation, resp.Status)
	}

	return nil
}
