package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"iamstagram_engine/internal/httputil"
	"iamstagram_engine/internal/service"
)

type FollowHandler struct {
	graph  *service.SocialGraph
	loader *service.Loader
	logger *zap.Logger
}

func NewFollowHandler(graph *service.SocialGraph, loader *service.Loader, logger *zap.Logger) *FollowHandler {
	return &FollowHandler{
		graph:  graph,
		loader: loader,
		logger: logger.Named("follow_handler"),
	}
}

// IsFollowing handles GET /users/{id}/follow
func (h *FollowHandler) IsFollowing(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := requireUser(w, r)
	if !ok {
		return
	}

	following, err := h.graph.IsFollowing(r.Context(), viewerID, chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err, "Failed to check follow status")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"is_following": following})
}

// Follow handles POST /users/{id}/follow. Following twice is not an error;
// the response reports whether anything changed.
func (h *FollowHandler) Follow(w http.ResponseWriter, r *http.Request) {
	followerID, ok := requireUser(w, r)
	if !ok {
		return
	}

	status, err := h.graph.Follow(r.Context(), followerID, chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err, "Failed to follow user")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

// Unfollow handles DELETE /users/{id}/follow
func (h *FollowHandler) Unfollow(w http.ResponseWriter, r *http.Request) {
	followerID, ok := requireUser(w, r)
	if !ok {
		return
	}

	status, err := h.graph.Unfollow(r.Context(), followerID, chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err, "Failed to unfollow user")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

// GetCounts handles GET /users/{id}/counts. It never fails; the source
// field says how fresh the numbers are.
func (h *FollowHandler) GetCounts(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.graph.GetFollowCounts(r.Context(), chi.URLParam(r, "id")))
}

func (h *FollowHandler) GetFollowers(w http.ResponseWriter, r *http.Request) {
	cursor, cfg, ok := pageParams(w, r, h.loader.Defaults())
	if !ok {
		return
	}
	page := h.loader.LoadFollowers(r.Context(), chi.URLParam(r, "id"), cursor, cfg)
	writePage(w, h.logger, page, "Failed to fetch followers")
}

func (h *FollowHandler) GetFollowing(w http.ResponseWriter, r *http.Request) {
	cursor, cfg, ok := pageParams(w, r, h.loader.Defaults())
	if !ok {
		return
	}
	page := h.loader.LoadFollowing(r.Context(), chi.URLParam(r, "id"), cursor, cfg)
	writePage(w, h.logger, page, "Failed to fetch following")
}
