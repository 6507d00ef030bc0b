package upload

// InitRequest opens an upload session. ChunkSize is a client proposal that
// the server may clamp.
type InitRequest struct {
	MatchID   int64  `json:"matchId" binding:"required,gt=0"`
	FileName  string `json:"fileName" binding:"required"`
	FileSize  int64  `json:"fileSize" binding:"gte=0"`
	ChunkSize int64  `json:"chunkSize"`
}

type InitResponse struct {
	OK        bool   `json:"ok"`
	UploadID  string `json:"uploadId"`
	ChunkSize int64  `json:"chunkSize"`
}

type StatusRequest struct {
	UploadID string `form:"uploadId" binding:"required"`
}

type StatusResponse struct {
	OK            bool           `json:"ok"`
	UploadID      string         `json:"uploadId"`
	UploadedParts []int          `json:"uploadedParts"`
	ETags         map[int]string `json:"etags,omitempty"`
}

type PartRequest struct {
	UploadID   string `form:"uploadId" binding:"required"`
	PartNumber int    `form:"partNumber" binding:"required,gt=0"`
}

type PartResponse struct {
	OK    bool   `json:"ok"`
	ETag  string `json:"etag,omitempty"`
	Error string `json:"error,omitempty"`
}

type CompletedPart struct {
	PartNumber int    `json:"partNumber" binding:"required,gt=0"`
	ETag       string `json:"etag" binding:"required"`
}

type CompleteRequest struct {
	UploadID string           `json:"uploadId" binding:"required"`
	FileName string           `json:"fileName"`
	Parts    []*CompletedPart `json:"parts" binding:"required"`
}

type CompleteResponse struct {
	OK        bool   `json:"ok"`
	VideoPath string `json:"videoPath"`
}

type SingleRequest struct {
	MatchID int64 `form:"matchId" binding:"required,gt=0"`
}
