package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"iamstagram_engine/internal/httputil"
	"iamstagram_engine/internal/model"
	"iamstagram_engine/internal/service"
)

type MediaHandler struct {
	content *service.ContentService
	logger  *zap.Logger
}

func NewMediaHandler(content *service.ContentService, logger *zap.Logger) *MediaHandler {
	return &MediaHandler{
		content: content,
		logger:  logger.Named("media_handler"),
	}
}

// Presign handles POST /media/presign
// Returns a presigned URL for uploading media directly to the bucket.
func (h *MediaHandler) Presign(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB is plenty for JSON
	var req model.PresignUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	req.ContentType = strings.TrimSpace(req.ContentType)
	if req.ContentType == "" {
		httputil.WriteBadRequest(w, "content_type is required")
		return
	}

	res, err := h.content.PresignUpload(r.Context(), userID, &req)
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err, "Failed to create upload URL")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}
