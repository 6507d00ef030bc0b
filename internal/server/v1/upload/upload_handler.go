package upload

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pitchbox/pitchbox/internal/server/api"
	"github.com/pitchbox/pitchbox/internal/server/sessions"
)

// UploadHandler exposes the upload-session service over HTTP.
type UploadHandler struct {
	svc *sessions.Service
}

func New(svc *sessions.Service) *UploadHandler {
	return &UploadHandler{svc: svc}
}

func (h *UploadHandler) Init(ctx *gin.Context) {
	var req InitRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}

	session, err := h.svc.Init(ctx.Request.Context(), req.MatchID, req.FileName, req.FileSize, req.ChunkSize)
	switch {
	case errors.Is(err, sessions.ErrFileTooLarge):
		api.AbortWithError(ctx, http.StatusRequestEntityTooLarge, api.CodeUploadTooLarge, err)
		return
	case errors.Is(err, sessions.ErrDiskPressure):
		api.AbortWithError(ctx, http.StatusInsufficientStorage, api.CodeUploadDiskPressure, err)
		return
	case err != nil:
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeUploadStoreFailed, err)
		return
	}

	ctx.PureJSON(http.StatusOK, InitResponse{
		OK:        true,
		UploadID:  session.UploadID,
		ChunkSize: session.ChunkSize,
	})
}

// Status answers with an empty part list for unknown upload ids. Clients use
// this endpoint to reconcile after a restart, when the session may have been
// expired server-side.
func (h *UploadHandler) Status(ctx *gin.Context) {
	var req StatusRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}

	parts, etags, err := h.svc.Status(ctx.Request.Context(), req.UploadID)
	if errors.Is(err, sessions.ErrSessionNotFound) {
		parts, etags = []int{}, nil
	} else if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeUploadStoreFailed, err)
		return
	}

	ctx.PureJSON(http.StatusOK, StatusResponse{
		OK:            true,
		UploadID:      req.UploadID,
		UploadedParts: parts,
		ETags:         etags,
	})
}

// Part stores one raw chunk. Unlike the JSON endpoints this one answers
// errors in the PartResponse shape, so the client can surface the reason
// alongside the status code.
func (h *UploadHandler) Part(ctx *gin.Context) {
	var req PartRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		ctx.PureJSON(http.StatusBadRequest, PartResponse{Error: err.Error()})
		return
	}

	etag, err := h.svc.StorePart(ctx.Request.Context(), req.UploadID, req.PartNumber, ctx.Request.Body)
	switch {
	case errors.Is(err, sessions.ErrSessionNotFound):
		ctx.PureJSON(http.StatusNotFound, PartResponse{Error: "unknown upload session"})
		return
	case errors.Is(err, sessions.ErrPartOutOfRange), errors.Is(err, sessions.ErrCompleted):
		ctx.PureJSON(http.StatusBadRequest, PartResponse{Error: err.Error()})
		return
	case err != nil:
		ctx.PureJSON(http.StatusInternalServerError, PartResponse{Error: err.Error()})
		return
	}

	ctx.PureJSON(http.StatusOK, PartResponse{OK: true, ETag: etag})
}

func (h *UploadHandler) Complete(ctx *gin.Context) {
	var req CompleteRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}

	parts := make([]*sessions.CompletedPart, 0, len(req.Parts))
	for _, part := range req.Parts {
		parts = append(parts, &sessions.CompletedPart{
			PartNumber: part.PartNumber,
			ETag:       part.ETag,
		})
	}

	videoPath, err := h.svc.Complete(ctx.Request.Context(), req.UploadID, parts)
	switch {
	case errors.Is(err, sessions.ErrSessionNotFound):
		api.AbortWithError(ctx, http.StatusNotFound, api.CodeUploadNotFound, err)
		return
	case errors.Is(err, sessions.ErrIncomplete):
		api.AbortWithError(ctx, http.StatusConflict, api.CodeUploadIncomplete, err)
		return
	case err != nil:
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeUploadStoreFailed, err)
		return
	}

	ctx.PureJSON(http.StatusOK, CompleteResponse{OK: true, VideoPath: videoPath})
}

// Single accepts a whole small file in one multipart-form request.
func (h *UploadHandler) Single(ctx *gin.Context) {
	var req SingleRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}

	file, err := ctx.FormFile("file")
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("invalid file: %w", err))
		return
	}
	if file.Size <= 0 {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, errors.New("invalid file: size is 0"))
		return
	}

	fd, err := file.Open()
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("invalid file: %w", err))
		return
	}
	defer fd.Close()

	videoPath, err := h.svc.StoreSingle(ctx.Request.Context(), req.MatchID, file.Filename, fd)
	switch {
	case errors.Is(err, sessions.ErrFileTooLarge):
		api.AbortWithError(ctx, http.StatusRequestEntityTooLarge, api.CodeUploadTooLarge, err)
		return
	case errors.Is(err, sessions.ErrDiskPressure):
		api.AbortWithError(ctx, http.StatusInsufficientStorage, api.CodeUploadDiskPressure, err)
		return
	case err != nil:
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeUploadStoreFailed, err)
		return
	}

	ctx.PureJSON(http.StatusOK, CompleteResponse{OK: true, VideoPath: videoPath})
}
