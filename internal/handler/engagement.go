package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"iamstagram_engine/internal/httputil"
	"iamstagram_engine/internal/model"
	"iamstagram_engine/internal/service"
)

const (
	streamBuffer    = 32
	streamHeartbeat = 15 * time.Second
	toggleTimeout   = 30 * time.Second
)

type EngagementHandler struct {
	engagement *service.EngagementManager
	loader     *service.Loader
	logger     *zap.Logger
}

func NewEngagementHandler(engagement *service.EngagementManager, loader *service.Loader, logger *zap.Logger) *EngagementHandler {
	return &EngagementHandler{
		engagement: engagement,
		loader:     loader,
		logger:     logger.Named("engagement_handler"),
	}
}

func engagementTarget(r *http.Request) (model.ContentRef, model.EngagementKind, error) {
	ref, err := contentRef(r)
	if err != nil {
		return ref, "", err
	}
	kind, err := model.ParseEngagementKind(chi.URLParam(r, "engagement"))
	return ref, kind, err
}

// Toggle handles POST /content/{kind}/{id}/{like|save}. By default it
// waits for the server and returns the confirmed or rolled-back state.
// With ?wait=false it returns the optimistic state immediately; the
// outcome arrives on the engagement stream.
func (h *EngagementHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	ref, kind, err := engagementTarget(r)
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err, "Invalid engagement")
		return
	}

	// The remote write outlives the request so a disconnect does not roll it back.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), toggleTimeout)
	toggle, err := h.engagement.Begin(ctx, ref, userID, kind)
	if err != nil {
		cancel()
		httputil.WriteServiceError(w, h.logger, err, "Failed to toggle engagement")
		return
	}
	go func() {
		<-toggle.Done()
		cancel()
	}()
	if r.URL.Query().Get("wait") == "false" {
		httputil.WriteJSON(w, http.StatusAccepted, toggle.Optimistic())
		return
	}

	select {
	case <-toggle.Done():
	case <-r.Context().Done():
		// Client gone; the toggle settles on its own.
		return
	}
	state, err := toggle.Wait(context.Background())
	if err != nil {
		// The state is already rolled back; report it together with the cause.
		status, code := httputil.StatusFor(err)
		httputil.WriteJSON(w, status, map[string]any{
			"state": state,
			"error": httputil.ErrorDetail{Code: code, Message: err.Error()},
		})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, state)
}

// State handles GET /content/{kind}/{id}/{like|save}
func (h *EngagementHandler) State(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	ref, kind, err := engagementTarget(r)
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err, "Invalid engagement")
		return
	}

	state, err := h.engagement.State(r.Context(), ref, userID, kind)
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err, "Failed to load engagement")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, state)
}

// Engagers handles GET /content/{kind}/{id}/{like|save}/users
func (h *EngagementHandler) Engagers(w http.ResponseWriter, r *http.Request) {
	ref, kind, err := engagementTarget(r)
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err, "Invalid engagement")
		return
	}
	cursor, cfg, ok := pageParams(w, r, h.loader.Defaults())
	if !ok {
		return
	}

	page := h.loader.LoadEngagers(r.Context(), ref, kind, cursor, cfg)
	writePage(w, h.logger, page, "Failed to fetch users")
}

// Stream handles GET /engagement/stream, pushing the caller's engagement
// transitions as server-sent events until the client disconnects.
func (h *EngagementHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteInternalError(w, "Streaming not supported")
		return
	}

	sub := h.engagement.Subscribe(userID, streamBuffer)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case update, ok := <-sub.C:
			if !ok {
				return
			}
			data, err := json.Marshal(update)
			if err != nil {
				h.logger.Warn("Encode engagement update failed", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: engagement\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
