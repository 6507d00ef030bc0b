package sdk

import (
	"fmt"
	"runtime"
	"time"

	"github.com/imroc/req/v3"

	"github.com/pitchbox/pitchbox/internal/version"
)

const (
	HeaderUserAgent    = "User-Agent"
	HeaderPitchVersion = "X-Pitch-Version"
)

var PitchBoxUserAgent = fmt.Sprintf("PitchBox/%s (%s; %s; %s)", version.Version, version.Revision, runtime.GOOS, runtime.GOARCH)

// SDK is the client for the upload-session, transcode and analysis services.
type SDK struct {
	client  *req.Client
	baseURL string

	Upload *UploadAPI
	Video  *VideoAPI
}

// New creates an SDK client against the given base URL.
func New(baseURL string) (*SDK, error) {
	if baseURL == "" {
		return nil, ErrNoServerURL
	}

	client := req.C().
		SetBaseURL(baseURL).
		SetUserAgent(PitchBoxUserAgent).
		SetCommonHeader(HeaderPitchVersion, version.Version).
		SetCommonErrorResult(&APIError{}).
		SetTimeout(2 * time.Minute).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)

	return &SDK{
		client:  client,
		baseURL: baseURL,
		Upload:  newUploadAPI(client, baseURL),
		Video:   newVideoAPI(client),
	}, nil
}

// Close releases idle connections.
func (s *SDK) Close() {
	s.client.GetTransport().CloseIdleConnections()
}
