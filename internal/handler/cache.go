package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"iamstagram_engine/internal/httputil"
	"iamstagram_engine/internal/service"
)

type CacheHandler struct {
	engine *service.Engine
	logger *zap.Logger
}

func NewCacheHandler(engine *service.Engine, logger *zap.Logger) *CacheHandler {
	return &CacheHandler{
		engine: engine,
		logger: logger.Named("cache_handler"),
	}
}

// Clear handles DELETE /cache, dropping every cached value. Clients call
// it on logout.
func (h *CacheHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	h.engine.ClearCache()
	w.WriteHeader(http.StatusNoContent)
}

// ClearUser handles DELETE /cache/users/{id}
func (h *CacheHandler) ClearUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	n := h.engine.ClearCacheForUser(chi.URLParam(r, "id"))
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"cleared": n})
}
