package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing, which keeps tests and embedders free of registry setup.
type Metrics struct {
	CacheHitsTotal      *prometheus.CounterVec
	CacheMissesTotal    *prometheus.CounterVec
	CacheEvictionsTotal *prometheus.CounterVec

	FollowOpsTotal        *prometheus.CounterVec
	FollowCountResolution *prometheus.CounterVec

	ToggleTotal     *prometheus.CounterVec
	ToggleRollbacks *prometheus.CounterVec
	ToggleCollapsed *prometheus.CounterVec

	PageLoadsTotal *prometheus.CounterVec
	FeedReshuffles prometheus.Counter
	FeedFallbacks  prometheus.Counter
	PreloadErrors  *prometheus.CounterVec
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CacheHitsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_cache_hits_total",
			Help: "TTL cache hits by key family",
		}, []string{"family"}),
		CacheMissesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_cache_misses_total",
			Help: "TTL cache misses by key family",
		}, []string{"family"}),
		CacheEvictionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_cache_evictions_total",
			Help: "Entries evicted on read because they expired",
		}, []string{"family"}),
		FollowOpsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_follow_ops_total",
			Help: "Follow/unfollow calls by operation and outcome",
		}, []string{"op", "outcome"}),
		FollowCountResolution: f.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_follow_count_resolutions_total",
			Help: "Follow count resolutions by the tier that answered",
		}, []string{"source"}),
		ToggleTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_engagement_toggles_total",
			Help: "Engagement toggles by kind and outcome",
		}, []string{"kind", "outcome"}),
		ToggleRollbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_engagement_rollbacks_total",
			Help: "Optimistic engagement mutations rolled back",
		}, []string{"kind"}),
		ToggleCollapsed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_engagement_collapsed_total",
			Help: "Toggle calls that joined an in-flight toggle instead of issuing a remote call",
		}, []string{"kind"}),
		PageLoadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_page_loads_total",
			Help: "Paginated loads by list kind and source",
		}, []string{"list", "source"}),
		FeedReshuffles: f.NewCounter(prometheus.CounterOpts{
			Name: "engine_feed_pool_reshuffles_total",
			Help: "Feed pool exhaustion reshuffles",
		}),
		FeedFallbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "engine_feed_pool_fallbacks_total",
			Help: "Feed batches served by the plain loader after a resolution error",
		}),
		PreloadErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_preload_errors_total",
			Help: "Background preload failures (never surfaced to callers)",
		}, []string{"component"}),
	}
}

func (m *Metrics) CacheHit(family string) {
	if m != nil {
		m.CacheHitsTotal.WithLabelValues(family).Inc()
	}
}

func (m *Metrics) CacheMiss(family string) {
	if m != nil {
		m.CacheMissesTotal.WithLabelValues(family).Inc()
	}
}

func (m *Metrics) CacheEviction(family string) {
	if m != nil {
		m.CacheEvictionsTotal.WithLabelValues(family).Inc()
	}
}

func (m *Metrics) FollowOp(op, outcome string) {
	if m != nil {
		m.FollowOpsTotal.WithLabelValues(op, outcome).Inc()
	}
}

func (m *Metrics) CountResolved(source string) {
	if m != nil {
		m.FollowCountResolution.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) Toggle(kind, outcome string) {
	if m != nil {
		m.ToggleTotal.WithLabelValues(kind, outcome).Inc()
	}
}

func (m *Metrics) Rollback(kind string) {
	if m != nil {
		m.ToggleRollbacks.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Collapsed(kind string) {
	if m != nil {
		m.ToggleCollapsed.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) PageLoad(list, source string) {
	if m != nil {
		m.PageLoadsTotal.WithLabelValues(list, source).Inc()
	}
}

func (m *Metrics) Reshuffle() {
	if m != nil {
		m.FeedReshuffles.Inc()
	}
}

func (m *Metrics) FeedFallback() {
	if m != nil {
		m.FeedFallbacks.Inc()
	}
}

func (m *Metrics) PreloadError(component string) {
	if m != nil {
		m.PreloadErrors.WithLabelValues(component).Inc()
	}
}
