// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the public operations.
type Metrics struct {
	RecommendationReads *prometheus.CounterVec // by source: database | generated
	GenerationSeconds   prometheus.Histogram
	GenerationErrors    prometheus.Counter
	PreGenerated        *prometheus.CounterVec // by status: generated | skipped | failed
	ActiveSessions      prometheus.Gauge
	VisitsProcessed     prometheus.Counter
	SessionSaves        *prometheus.CounterVec // by outcome: ok | conflict | failed
	NarrativeRequests   *prometheus.CounterVec // by outcome: ok | rate_limited | upstream_busy
}

// New registers the collectors on the default registry.
func New() *Metrics {
	return &Metrics{
		RecommendationReads: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stockadvisor_recommendation_reads_total",
			Help: "Recommendation reads served, by source.",
		}, []string{"source"}),
		GenerationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stockadvisor_generation_seconds",
			Help:    "Wall-clock duration of recommendation generation.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		GenerationErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stockadvisor_generation_errors_total",
			Help: "Failed recommendation generations.",
		}),
		PreGenerated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stockadvisor_pregenerated_routes_total",
			Help: "Nightly pre-generation outcomes, by status.",
		}, []string{"status"}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stockadvisor_active_sessions",
			Help: "Live supervision sessions held in memory.",
		}),
		VisitsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stockadvisor_visits_processed_total",
			Help: "Accepted process_visit calls.",
		}),
		SessionSaves: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stockadvisor_session_saves_total",
			Help: "Session save outcomes.",
		}, []string{"outcome"}),
		NarrativeRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stockadvisor_narrative_requests_total",
			Help: "Narrative analysis outcomes.",
		}, []string{"outcome"}),
	}
}
