package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"iamstagram_engine/internal/httputil"
	"iamstagram_engine/internal/model"
	"iamstagram_engine/internal/service"
)

const maxFeedBatch = 50

type FeedHandler struct {
	pool   *service.FeedPool
	loader *service.Loader
	logger *zap.Logger
}

func NewFeedHandler(pool *service.FeedPool, loader *service.Loader, logger *zap.Logger) *FeedHandler {
	return &FeedHandler{
		pool:   pool,
		loader: loader,
		logger: logger.Named("feed_handler"),
	}
}

// servesKind reports whether the {kind} path segment names the pool's
// content kind, singular or plural ("reel" or "reels").
func (h *FeedHandler) servesKind(w http.ResponseWriter, r *http.Request) bool {
	param := strings.ToLower(chi.URLParam(r, "kind"))
	kind := h.pool.Kind()
	if param == string(kind) || param == kind.Collection() {
		return true
	}
	httputil.WriteNotFound(w, "No shuffled feed for "+param)
	return false
}

// Init handles POST /feed/{kind}/init, reloading the ID corpus and
// starting a new shuffle.
func (h *FeedHandler) Init(w http.ResponseWriter, r *http.Request) {
	if !h.servesKind(w, r) {
		return
	}
	if err := h.pool.Initialize(r.Context()); err != nil {
		httputil.WriteServiceError(w, h.logger, err, "Failed to initialize feed")
		return
	}
	total, used := h.pool.Stats()
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"kind":  h.pool.Kind(),
		"total": total,
		"used":  used,
	})
}

// Next handles GET /feed/{kind}
//
// Query params:
//   - n: optional, batch size (default from FEED_BATCH_SIZE, max 50)
func (h *FeedHandler) Next(w http.ResponseWriter, r *http.Request) {
	if !h.servesKind(w, r) {
		return
	}
	n := 0
	if s := r.URL.Query().Get("n"); s != "" {
		parsed, err := strconv.Atoi(s)
		if err != nil || parsed < 1 || parsed > maxFeedBatch {
			httputil.WriteBadRequest(w, "n must be between 1 and 50")
			return
		}
		n = parsed
	}

	batch, err := h.pool.NextBatch(r.Context(), n)
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err, "Failed to get feed")
		return
	}
	if batch.Items == nil {
		batch.Items = []model.ContentItem{}
	}
	httputil.WriteJSON(w, http.StatusOK, batch)
}

// Latest handles GET /feed/{kind}/latest, a chronological page of every
// author's content.
func (h *FeedHandler) Latest(w http.ResponseWriter, r *http.Request) {
	kind, err := model.ParseContentKind(chi.URLParam(r, "kind"))
	if err == nil && kind == model.KindComment {
		err = model.ErrInvalidContentKind
	}
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err, "Invalid content kind")
		return
	}
	cursor, cfg, ok := pageParams(w, r, h.loader.Defaults())
	if !ok {
		return
	}

	page := h.loader.LoadLatest(r.Context(), kind, cursor, cfg)
	writePage(w, h.logger, page, "Failed to get feed")
}
