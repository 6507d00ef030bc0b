package sdk

import (
	"context"
	"fmt"

	"github.com/imroc/req/v3"
)

const (
	v1VideoTranscode = "/api/v1/video/transcode"
	v1VideoAnalyze   = "/api/v1/video/analyze"
)

// VideoAPI talks to the transcode and analysis services.
type VideoAPI struct {
	client *req.Client
}

func newVideoAPI(client *req.Client) *VideoAPI {
	return &VideoAPI{client: client}
}

// Transcode normalizes an uploaded video to a browser-compatible codec.
// Callers treat failures as non-fatal; the original path stays usable.
func (v *VideoAPI) Transcode(ctx context.Context, params *TranscodeParams) (*TranscodeResponse, error) {
	var result *TranscodeResponse
	resp, err := v.client.R().
		SetContext(ctx).
		SetBody(params).
		SetSuccessResult(&result).
		Post(v1VideoTranscode)
	if err := handleAPIError(resp, err, "video transcode"); err != nil {
		return nil, err
	}
	if result == nil || result.VideoPath == "" {
		return nil, fmt.Errorf("video transcode: invalid response")
	}
	return result, nil
}

// Analyze submits the final video for event detection and returns the
// detected match events.
func (v *VideoAPI) Analyze(ctx context.Context, params *AnalyzeParams) (*AnalyzeResponse, error) {
	var result *AnalyzeResponse
	resp, err := v.client.R().
		SetContext(ctx).
		SetBody(params).
		SetSuccessResult(&result).
		Post(v1VideoAnalyze)
	if err := handleAPIError(resp, err, "video analyze"); err != nil {
		return nil, err
	}
	if result == nil || result.Analysis == nil {
		return nil, fmt.Errorf("video analyze: invalid response")
	}
	return result, nil
}
