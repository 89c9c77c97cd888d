package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"iamstagram_engine/internal/httputil"
	"iamstagram_engine/internal/model"
	"iamstagram_engine/internal/service"
)

type CommentHandler struct {
	content *service.ContentService
	loader  *service.Loader
	logger  *zap.Logger
}

func NewCommentHandler(content *service.ContentService, loader *service.Loader, logger *zap.Logger) *CommentHandler {
	return &CommentHandler{
		content: content,
		loader:  loader,
		logger:  logger.Named("comment_handler"),
	}
}

// List handles GET /content/{kind}/{id}/comments
func (h *CommentHandler) List(w http.ResponseWriter, r *http.Request) {
	parent, err := contentRef(r)
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err, "Invalid content")
		return
	}
	cursor, cfg, ok := pageParams(w, r, h.loader.Defaults())
	if !ok {
		return
	}

	page := h.loader.LoadComments(r.Context(), parent, cursor, cfg)
	writePage(w, h.logger, page, "Failed to fetch comments")
}

// Create handles POST /content/{kind}/{id}/comments
func (h *CommentHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	parent, err := contentRef(r)
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err, "Invalid content")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req model.CreateCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	comment, err := h.content.AddComment(r.Context(), parent, userID, &req)
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err, "Failed to create comment")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, comment)
}
