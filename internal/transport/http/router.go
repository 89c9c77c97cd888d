package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"iamstagram_engine/internal/handler"
	"iamstagram_engine/internal/httputil"
	"iamstagram_engine/internal/logger"
	"iamstagram_engine/internal/service"
	authmw "iamstagram_engine/internal/transport/http/middleware"
)

// RouterConfig holds the dependencies needed to create routes
type RouterConfig struct {
	UserHandler       *handler.UserHandler
	FollowHandler     *handler.FollowHandler
	ContentHandler    *handler.ContentHandler
	CommentHandler    *handler.CommentHandler
	EngagementHandler *handler.EngagementHandler
	FeedHandler       *handler.FeedHandler
	MediaHandler      *handler.MediaHandler
	CacheHandler      *handler.CacheHandler
	JWTSecret         string
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// HandlersFor builds every handler over one engine.
func HandlersFor(engine *service.Engine, jwtSecret string, logger *zap.Logger) RouterConfig {
	return RouterConfig{
		UserHandler:       handler.NewUserHandler(engine.Users, engine.Profiles, engine.Loader, logger),
		FollowHandler:     handler.NewFollowHandler(engine.SocialGraph, engine.Loader, logger),
		ContentHandler:    handler.NewContentHandler(engine.Content, logger),
		CommentHandler:    handler.NewCommentHandler(engine.Content, engine.Loader, logger),
		EngagementHandler: handler.NewEngagementHandler(engine.Engagement, engine.Loader, logger),
		FeedHandler:       handler.NewFeedHandler(engine.FeedPool, engine.Loader, logger),
		MediaHandler:      handler.NewMediaHandler(engine.Content, logger),
		CacheHandler:      handler.NewCacheHandler(engine, logger),
		JWTSecret:         jwtSecret,
		Logger:            logger,
	}
}

// NewRouter creates and configures a new Chi router with all route groups
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(authmw.RequestLogger(logger.OrNop(cfg.Logger).Named("http")))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	optional := authmw.OptionalAuthMiddleware(cfg.JWTSecret)

	// Public reads with optional authentication
	r.Group(func(r chi.Router) {
		r.Use(optional)

		r.Get("/users/{id}", cfg.UserHandler.GetProfile)
		r.Get("/users/{id}/counts", cfg.FollowHandler.GetCounts)
		r.Get("/users/{id}/followers", cfg.FollowHandler.GetFollowers)
		r.Get("/users/{id}/following", cfg.FollowHandler.GetFollowing)
		r.Get("/users/{id}/posts", cfg.UserHandler.GetUserPosts)
		r.Get("/users/{id}/reels", cfg.UserHandler.GetUserReels)

		r.Get("/content/{kind}/{id}", cfg.ContentHandler.Get)
		r.Get("/content/{kind}/{id}/comments", cfg.CommentHandler.List)
		r.Get("/content/{kind}/{id}/{engagement}/users", cfg.EngagementHandler.Engagers)

		r.Get("/feed/{kind}/latest", cfg.FeedHandler.Latest)
	})

	// Protected routes - require authentication
	r.Group(func(r chi.Router) {
		r.Use(authmw.AuthMiddleware(cfg.JWTSecret))

		r.Put("/users/me", cfg.UserHandler.UpdateMe)
		r.Post("/users/me/avatar", cfg.UserHandler.UploadAvatar)

		r.Get("/users/{id}/follow", cfg.FollowHandler.IsFollowing)
		r.Post("/users/{id}/follow", cfg.FollowHandler.Follow)
		r.Delete("/users/{id}/follow", cfg.FollowHandler.Unfollow)

		r.Post("/content/{kind}", cfg.ContentHandler.Create)
		r.Delete("/content/{kind}/{id}", cfg.ContentHandler.Delete)
		r.Post("/content/{kind}/{id}/comments", cfg.CommentHandler.Create)
		r.Get("/content/{kind}/{id}/{engagement}", cfg.EngagementHandler.State)
		r.Post("/content/{kind}/{id}/{engagement}", cfg.EngagementHandler.Toggle)

		r.Get("/engagement/stream", cfg.EngagementHandler.Stream)

		r.Post("/feed/{kind}/init", cfg.FeedHandler.Init)
		r.Get("/feed/{kind}", cfg.FeedHandler.Next)

		r.Post("/media/presign", cfg.MediaHandler.Presign)

		r.Delete("/cache", cfg.CacheHandler.Clear)
		r.Delete("/cache/users/{id}", cfg.CacheHandler.ClearUser)
	})

	return r
}
