package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"iamstagram_engine/internal/httputil"
	"iamstagram_engine/internal/model"
	"iamstagram_engine/internal/service"
	"iamstagram_engine/internal/transport/http/middleware"
)

type UserHandler struct {
	users    *service.UserService
	profiles *service.ProfileAggregator
	loader   *service.Loader
	logger   *zap.Logger
}

func NewUserHandler(users *service.UserService, profiles *service.ProfileAggregator, loader *service.Loader, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		users:    users,
		profiles: profiles,
		loader:   loader,
		logger:   logger.Named("user_handler"),
	}
}

// GetProfile handles GET /users/{id}. Anonymous viewers see public
// profiles only.
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	viewerID, _ := middleware.GetUserIDFromContext(r.Context())

	profile, err := h.profiles.LoadProfile(r.Context(), chi.URLParam(r, "id"), viewerID)
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err, "Failed to load profile")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, profile)
}

// UpdateMe handles PUT /users/me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req model.UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	user, err := h.users.UpdateProfile(r.Context(), userID, &req)
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err, "Failed to update profile")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

// UploadAvatar handles POST /users/me/avatar (multipart field "file").
func (h *UserHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, model.MaxAvatarSizeBytes+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteBadRequest(w, "file is required")
		return
	}
	defer file.Close()
	if header.Size > model.MaxAvatarSizeBytes {
		httputil.WriteBadRequestWithCode(w, model.CodeFileTooLarge, "Avatar exceeds 5MB limit")
		return
	}

	user, err := h.users.UploadAvatar(r.Context(), userID, file, header.Header.Get("Content-Type"))
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err, "Failed to upload avatar")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

func (h *UserHandler) GetUserPosts(w http.ResponseWriter, r *http.Request) {
	cursor, cfg, ok := pageParams(w, r, h.loader.Defaults())
	if !ok {
		return
	}
	if !h.canView(w, r) {
		return
	}
	page := h.loader.LoadPosts(r.Context(), chi.URLParam(r, "id"), cursor, cfg)
	writePage(w, h.logger, page, "Failed to fetch posts")
}

func (h *UserHandler) GetUserReels(w http.ResponseWriter, r *http.Request) {
	cursor, cfg, ok := pageParams(w, r, h.loader.Defaults())
	if !ok {
		return
	}
	if !h.canView(w, r) {
		return
	}
	page := h.loader.LoadReels(r.Context(), chi.URLParam(r, "id"), cursor, cfg)
	writePage(w, h.logger, page, "Failed to fetch reels")
}

// canView applies the profile privacy gate to the content list routes. The
// composed profile is cached, so this is usually a cache hit.
func (h *UserHandler) canView(w http.ResponseWriter, r *http.Request) bool {
	viewerID, _ := middleware.GetUserIDFromContext(r.Context())
	profile, err := h.profiles.LoadProfile(r.Context(), chi.URLParam(r, "id"), viewerID)
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err, "Failed to load profile")
		return false
	}
	if !profile.CanView {
		httputil.WriteForbidden(w, "This account is private")
		return false
	}
	return true
}
