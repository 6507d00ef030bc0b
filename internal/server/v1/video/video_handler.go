package video

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pitchbox/pitchbox/internal/server/api"
	"github.com/pitchbox/pitchbox/internal/utils"
)

// VideoHandler serves the transcode and analysis endpoints. Transcoding here
// is a passthrough remux into an .mp4 sibling file; real codec work runs in a
// separate pipeline that shares this API surface.
type VideoHandler struct {
	dataDir string
}

func New(dataDir string) *VideoHandler {
	return &VideoHandler{dataDir: dataDir}
}

func (h *VideoHandler) Transcode(ctx *gin.Context) {
	var req TranscodeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}

	srcPath, err := h.resolve(req.VideoPath)
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}
	if !utils.FileExists(srcPath) {
		api.AbortWithError(ctx, http.StatusNotFound, api.CodeTranscodeFailed, errors.New("video not found"))
		return
	}

	if strings.EqualFold(filepath.Ext(req.VideoPath), ".mp4") {
		ctx.PureJSON(http.StatusOK, TranscodeResponse{OK: true, VideoPath: req.VideoPath})
		return
	}

	dstRel := strings.TrimSuffix(req.VideoPath, filepath.Ext(req.VideoPath)) + ".mp4"
	dstPath, err := h.resolve(dstRel)
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}
	if err := utils.CopyFile(srcPath, dstPath); err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeTranscodeFailed, err)
		return
	}

	ctx.PureJSON(http.StatusOK, TranscodeResponse{OK: true, VideoPath: dstRel})
}

func (h *VideoHandler) Analyze(ctx *gin.Context) {
	var req AnalyzeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}

	if (req.VideoPath == "") == (req.VideoURL == "") {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest,
			errors.New("exactly one of videoPath or videoUrl is required"))
		return
	}
	if req.VideoPath != "" {
		srcPath, err := h.resolve(req.VideoPath)
		if err != nil {
			api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
			return
		}
		if !utils.FileExists(srcPath) {
			api.AbortWithError(ctx, http.StatusNotFound, api.CodeAnalyzeFailed, errors.New("video not found"))
			return
		}
	}

	provider := req.Provider
	if provider == "" {
		provider = "pitchbox"
	}

	ctx.PureJSON(http.StatusOK, AnalyzeResponse{
		OK: true,
		Analysis: &Analysis{
			Provider: provider,
			Events:   placeholderEvents(req),
		},
	})
}

// placeholderEvents stands in for the detection pipeline. Events are oriented
// by the request's side and direction so clients exercise the same contract.
func placeholderEvents(req AnalyzeRequest) []*MatchEvent {
	attackX := 0.82
	if req.AttackDirection == "rightToLeft" {
		attackX = 0.18
	}
	return []*MatchEvent{
		{Type: "kickoff", Minute: 0, TeamID: req.TeamLeftID, X: 0.5, Y: 0.5},
		{Type: "shot", Minute: 12.4, TeamID: req.TeamLeftID, X: attackX, Y: 0.44, XG: 0.08},
		{Type: "goal", Minute: 37.9, TeamID: req.TeamRightID, X: 1 - attackX, Y: 0.52, XG: 0.31},
	}
}

// resolve maps an API-level video path onto the data dir, rejecting anything
// that escapes it.
func (h *VideoHandler) resolve(videoPath string) (string, error) {
	cleaned := filepath.Clean("/" + filepath.FromSlash(videoPath))
	full := filepath.Join(h.dataDir, cleaned)
	rel, err := filepath.Rel(h.dataDir, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", os.ErrInvalid
	}
	return full, nil
}
