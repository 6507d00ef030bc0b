package upload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchbox/pitchbox/internal/db"
	"github.com/pitchbox/pitchbox/internal/server/api"
	"github.com/pitchbox/pitchbox/internal/server/sessions"
	"github.com/pitchbox/pitchbox/internal/uploader"
)

const mib = int64(1024 * 1024)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.NewSqliteDB()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	store, err := sessions.NewStore(database)
	require.NoError(t, err)
	svc, err := sessions.NewService(store, t.TempDir(), 0, 0)
	require.NoError(t, err)

	handler := New(svc)
	r := gin.New()
	r.PUT("/api/v1/upload", handler.Single)
	r.POST("/api/v1/upload/init", handler.Init)
	r.GET("/api/v1/upload/status", handler.Status)
	r.POST("/api/v1/upload/part", handler.Part)
	r.POST("/api/v1/upload/complete", handler.Complete)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if out != nil && w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
	}
	return w
}

func initSession(t *testing.T, r *gin.Engine, fileSize int64) InitResponse {
	t.Helper()
	var resp InitResponse
	w := doJSON(t, r, http.MethodPost, "/api/v1/upload/init", InitRequest{
		MatchID:   7,
		FileName:  "match.mp4",
		FileSize:  fileSize,
		ChunkSize: 5 * mib,
	}, &resp)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, resp.OK)
	require.NotEmpty(t, resp.UploadID)
	return resp
}

func putPart(t *testing.T, r *gin.Engine, uploadID string, partNumber int, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	path := fmt.Sprintf("/api/v1/upload/part?uploadId=%s&partNumber=%d", uploadID, partNumber)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/octet-stream")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestInit(t *testing.T) {
	r := newTestRouter(t)

	resp := initSession(t, r, 10*mib)
	assert.Equal(t, 5*mib, resp.ChunkSize)
}

func TestInit_BadRequest(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/upload/init", gin.H{"fileName": "x.mp4"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var apiErr api.Error
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apiErr))
	assert.Equal(t, api.CodeInvalidRequest, apiErr.Code)
}

func TestInit_TooLarge(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/upload/init", InitRequest{
		MatchID:  7,
		FileName: "match.mp4",
		FileSize: uploader.MaxFileSize + 1,
	}, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	var apiErr api.Error
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apiErr))
	assert.Equal(t, api.CodeUploadTooLarge, apiErr.Code)
}

func TestStatus_UnknownUploadIsEmptyNotError(t *testing.T) {
	r := newTestRouter(t)

	var resp StatusResponse
	w := doJSON(t, r, http.MethodGet, "/api/v1/upload/status?uploadId=ghost", nil, &resp)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.OK)
	assert.Empty(t, resp.UploadedParts)
}

func TestPart_UnknownSession(t *testing.T) {
	r := newTestRouter(t)

	w := putPart(t, r, "ghost", 1, bytes.Repeat([]byte{'a'}, int(mib)))
	assert.Equal(t, http.StatusNotFound, w.Code)

	var resp PartResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.OK)
	assert.NotEmpty(t, resp.Error)
}

func TestPart_OutOfRange(t *testing.T) {
	r := newTestRouter(t)
	session := initSession(t, r, 10*mib)

	w := putPart(t, r, session.UploadID, 3, bytes.Repeat([]byte{'a'}, int(mib)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadRoundtrip(t *testing.T) {
	r := newTestRouter(t)
	session := initSession(t, r, 10*mib)

	etags := make(map[int]string)
	for partNumber := 1; partNumber <= 2; partNumber++ {
		body := bytes.Repeat([]byte{byte('a' + partNumber)}, int(5*mib))
		w := putPart(t, r, session.UploadID, partNumber, body)
		require.Equal(t, http.StatusOK, w.Code)

		var resp PartResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.True(t, resp.OK)
		require.NotEmpty(t, resp.ETag)
		etags[partNumber] = resp.ETag
	}

	var status StatusResponse
	w := doJSON(t, r, http.MethodGet, "/api/v1/upload/status?uploadId="+session.UploadID, nil, &status)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int{1, 2}, status.UploadedParts)
	assert.Equal(t, etags[1], status.ETags[1])

	var complete CompleteResponse
	w = doJSON(t, r, http.MethodPost, "/api/v1/upload/complete", CompleteRequest{
		UploadID: session.UploadID,
		FileName: "match.mp4",
		Parts: []*CompletedPart{
			{PartNumber: 1, ETag: etags[1]},
			{PartNumber: 2, ETag: etags[2]},
		},
	}, &complete)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, complete.OK)
	assert.Contains(t, complete.VideoPath, "videos/7/")
}

func TestComplete_IncompleteUpload(t *testing.T) {
	r := newTestRouter(t)
	session := initSession(t, r, 10*mib)

	w := doJSON(t, r, http.MethodPost, "/api/v1/upload/complete", CompleteRequest{
		UploadID: session.UploadID,
		Parts:    []*CompletedPart{{PartNumber: 1, ETag: "x"}},
	}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	var apiErr api.Error
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apiErr))
	assert.Equal(t, api.CodeUploadIncomplete, apiErr.Code)
}

func TestSingleUpload(t *testing.T) {
	r := newTestRouter(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "clip.mp4")
	require.NoError(t, err)
	fw.Write([]byte("tiny video payload"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPut, "/api/v1/upload?matchId=9", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp CompleteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Contains(t, resp.VideoPath, "videos/9/")
}
