package sdk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/imroc/req/v3"
)

const (
	v1Upload         = "/api/v1/upload"
	v1UploadInit     = "/api/v1/upload/init"
	v1UploadStatus   = "/api/v1/upload/status"
	v1UploadPart     = "/api/v1/upload/part"
	v1UploadComplete = "/api/v1/upload/complete"

	defaultPartTimeout = 5 * time.Minute
)

// UploadAPI talks to the upload-session service.
type UploadAPI struct {
	client  *req.Client
	baseURL string
	// part uploads go through a plain http.Client, see UploadPart
	partClient *http.Client
}

func newUploadAPI(client *req.Client, baseURL string) *UploadAPI {
	return &UploadAPI{
		client:     client,
		baseURL:    baseURL,
		partClient: &http.Client{},
	}
}

// Init registers a new upload session. The server may adjust the proposed
// chunk size; the returned value is authoritative.
func (u *UploadAPI) Init(ctx context.Context, params *InitUploadParams) (*InitUploadResponse, error) {
	var result *InitUploadResponse
	resp, err := u.client.R().
		SetContext(ctx).
		SetBody(params).
		SetSuccessResult(&result).
		Post(v1UploadInit)
	if err := handleAPIError(resp, err, "upload init"); err != nil {
		return nil, err
	}
	if result == nil || result.UploadID == "" || result.ChunkSize <= 0 {
		return nil, fmt.Errorf("upload init: invalid response")
	}
	return result, nil
}

// Status reports which parts the server already holds, for reconciliation.
// An unknown upload id yields an empty part list, not an error.
func (u *UploadAPI) Status(ctx context.Context, uploadID string) (*UploadStatusResponse, error) {
	var result *UploadStatusResponse
	resp, err := u.client.R().
		SetContext(ctx).
		SetQueryParam("uploadId", uploadID).
		SetSuccessResult(&result).
		Get(v1UploadStatus)
	if err := handleAPIError(resp, err, "upload status"); err != nil {
		return nil, err
	}
	if result == nil {
		result = &UploadStatusResponse{UploadID: uploadID}
	}
	return result, nil
}

// UploadPart transfers one byte range and returns the server's etag for it.
//
// This goes through net/http rather than req: req's SetBody reads the whole
// reader into memory and its request middleware re-buffers on retry, neither
// of which we want for a multi-megabyte body whose retries the caller owns.
func (u *UploadAPI) UploadPart(ctx context.Context, params *UploadPartParams) (*UploadPartResponse, error) {
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultPartTimeout
	}
	partCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	q := url.Values{}
	q.Set("uploadId", params.UploadID)
	q.Set("partNumber", strconv.Itoa(params.PartNumber))
	endpoint := u.baseURL + v1UploadPart + "?" + q.Encode()

	httpReq, err := http.NewRequestWithContext(partCtx, http.MethodPost, endpoint, params.Body)
	if err != nil {
		return nil, fmt.Errorf("create part request: %w", err)
	}
	httpReq.ContentLength = params.Size
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	httpReq.Header.Set(HeaderUserAgent, PitchBoxUserAgent)

	resp, err := u.partClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upload part %d: %w", params.PartNumber, err)
	}
	defer resp.Body.Close()

	var result UploadPartResponse
	decodeErr := decodeResponse(resp, &result)

	if resp.StatusCode != http.StatusOK {
		msg := ""
		if decodeErr == nil {
			msg = result.Error
		}
		return nil, &PartUploadError{
			PartNumber: params.PartNumber,
			StatusCode: resp.StatusCode,
			Message:    msg,
		}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("upload part %d: decode response: %w", params.PartNumber, decodeErr)
	}
	if result.ETag == "" {
		return nil, &PartUploadError{PartNumber: params.PartNumber, StatusCode: resp.StatusCode, Message: "missing etag"}
	}
	return &result, nil
}

// UploadSingle pushes a small file in one multipart-form request, bypassing
// the session machinery.
func (u *UploadAPI) UploadSingle(ctx context.Context, params *SingleUploadParams) (*CompleteUploadResponse, error) {
	var result *CompleteUploadResponse
	resp, err := u.client.R().
		SetContext(ctx).
		SetQueryParam("matchId", strconv.FormatInt(params.MatchID, 10)).
		SetRetryCount(0).
		SetFile("file", params.FilePath).
		SetSuccessResult(&result).
		SetUploadCallbackWithInterval(func(info req.UploadInfo) {
			if params.Callback == nil {
				return
			}
			params.Callback(info.UploadedSize, info.FileSize)
		}, time.Second).
		Put(v1Upload)
	if err := handleAPIError(resp, err, "upload single"); err != nil {
		return nil, err
	}
	if result == nil || result.VideoPath == "" {
		return nil, fmt.Errorf("upload single: invalid response")
	}
	return result, nil
}

// Complete finalizes the upload. Parts must cover the whole plan and are
// submitted in ascending part-number order.
func (u *UploadAPI) Complete(ctx context.Context, params *CompleteUploadParams) (*CompleteUploadResponse, error) {
	var result *CompleteUploadResponse
	resp, err := u.client.R().
		SetContext(ctx).
		SetBody(params).
		SetSuccessResult(&result).
		Post(v1UploadComplete)
	if err := handleAPIError(resp, err, "upload complete"); err != nil {
		return nil, err
	}
	if result == nil || result.VideoPath == "" {
		return nil, fmt.Errorf("upload complete: invalid response")
	}
	return result, nil
}
