package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"iamstagram_engine/internal/httputil"
	"iamstagram_engine/internal/model"
	"iamstagram_engine/internal/service"
	"iamstagram_engine/internal/transport/http/middleware"
)

const maxPageLimit = 100

// requireUser writes a 401 and returns false when the request is anonymous.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
	}
	return userID, ok
}

// pageParams reads ?cursor= and ?limit=. A limit overrides both the initial
// and batch sizes of the defaults.
func pageParams(w http.ResponseWriter, r *http.Request, defaults service.PageConfig) (string, service.PageConfig, bool) {
	cfg := defaults
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 || limit > maxPageLimit {
			httputil.WriteBadRequest(w, "Limit must be between 1 and 100")
			return "", cfg, false
		}
		cfg.InitialLoad = limit
		cfg.BatchSize = limit
	}
	if r.URL.Query().Get("preload") == "false" {
		cfg.PreloadNext = false
	}
	return r.URL.Query().Get("cursor"), cfg, true
}

// contentRef builds a ref from the {kind} and {id} URL params. Comments
// carry their parent as ?parent=kind:id.
func contentRef(r *http.Request) (model.ContentRef, error) {
	kind, err := model.ParseContentKind(chi.URLParam(r, "kind"))
	if err != nil {
		return model.ContentRef{}, err
	}
	ref := model.ContentRef{Kind: kind, ID: chi.URLParam(r, "id")}
	if kind == model.KindComment {
		ref.ParentKind, ref.ParentID, err = model.ParseParent(r.URL.Query().Get("parent"))
		if err != nil {
			return model.ContentRef{}, err
		}
	}
	return ref, ref.Validate()
}

// writePage writes a loaded page, or the error that emptied it.
func writePage[T any](w http.ResponseWriter, logger *zap.Logger, page model.Page[T], fallback string) {
	if page.Err != nil {
		httputil.WriteServiceError(w, logger, page.Err, fallback)
		return
	}
	if page.Items == nil {
		page.Items = []T{}
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}
