package sdk

import (
	"io"
	"net/http"
	"time"
)

// InitUploadParams registers a new upload session for a match video.
type InitUploadParams struct {
	MatchID   int64  `json:"matchId"`
	FileName  string `json:"fileName"`
	FileSize  int64  `json:"fileSize"`
	ChunkSize int64  `json:"chunkSize,omitempty"`
}

type InitUploadResponse struct {
	OK        bool   `json:"ok"`
	UploadID  string `json:"uploadId"`
	ChunkSize int64  `json:"chunkSize"`
}

// UploadStatusResponse lists the parts the server has stored so far.
type UploadStatusResponse struct {
	OK            bool           `json:"ok"`
	UploadID      string         `json:"uploadId"`
	UploadedParts []int          `json:"uploadedParts"`
	ETags         map[int]string `json:"etags,omitempty"`
}

// UploadPartParams carries one byte range. Body is read exactly once per call;
// the caller rewinds it between retries.
type UploadPartParams struct {
	UploadID   string
	PartNumber int
	Body       io.Reader
	Size       int64
	Timeout    time.Duration
}

type UploadPartResponse struct {
	OK    bool   `json:"ok"`
	ETag  string `json:"etag"`
	Error string `json:"error,omitempty"`
}

// SingleUploadParams pushes one small file in a single request.
type SingleUploadParams struct {
	MatchID  int64
	FilePath string
	Callback func(uploadedBytes, totalBytes int64)
}

// CompletedPart pairs a part number with its acknowledgement token.
type CompletedPart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
}

type CompleteUploadParams struct {
	UploadID string           `json:"uploadId"`
	FileName string           `json:"fileName"`
	Parts    []*CompletedPart `json:"parts"`
}

type CompleteUploadResponse struct {
	OK        bool   `json:"ok"`
	VideoPath string `json:"videoPath"`
}

func decodeResponse(resp *http.Response, v any) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return jsonUnmarshal(data, v)
}
