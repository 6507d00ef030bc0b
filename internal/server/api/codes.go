package api

const (
	// Generic request/server errors
	CodeInvalidRequest = "E_INVALID_REQUEST" // bad or invalid request
	CodeRateLimited    = "E_RATE_LIMITED"    // rate limit exceeded
	CodeInternalError  = "E_INTERNAL_ERROR"  // internal server error

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
