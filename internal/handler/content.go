package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"iamstagram_engine/internal/httputil"
	"iamstagram_engine/internal/model"
	"iamstagram_engine/internal/service"
)

type ContentHandler struct {
	content *service.ContentService
	logger  *zap.Logger
}

func NewContentHandler(content *service.ContentService, logger *zap.Logger) *ContentHandler {
	return &ContentHandler{
		content: content,
		logger:  logger.Named("content_handler"),
	}
}

// Create handles POST /content/{kind} for posts and reels.
func (h *ContentHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	kind, err := model.ParseContentKind(chi.URLParam(r, "kind"))
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err, "Invalid content kind")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req model.CreateContentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	item, err := h.content.CreateContent(r.Context(), userID, kind, &req)
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err, "Failed to create content")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, item)
}

// Get handles GET /content/{kind}/{id}
func (h *ContentHandler) Get(w http.ResponseWriter, r *http.Request) {
	ref, err := contentRef(r)
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err, "Invalid content")
		return
	}

	item, err := h.content.GetContent(r.Context(), ref)
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err, "Failed to fetch content")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, item)
}

// Delete handles DELETE /content/{kind}/{id}. Comments pass their parent as
// ?parent=kind:id. Only the author may delete.
func (h *ContentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	ref, err := contentRef(r)
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err, "Invalid content")
		return
	}

	if err := h.content.DeleteContent(r.Context(), ref, userID); err != nil {
		httputil.WriteServiceError(w, h.logger, err, "Failed to delete content")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
