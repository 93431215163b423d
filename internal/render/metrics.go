package render

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments a Pipeline.
type Metrics struct {
	JobsSubmitted     prometheus.Counter
	JobsCoalesced     prometheus.Counter
	JobsCompleted     *prometheus.CounterVec
	JobsCancelled     *prometheus.CounterVec
	OverlaysPublished *prometheus.CounterVec
	RefinementPasses  prometheus.Counter
	JobDuration       *prometheus.HistogramVec
}

// NewMetrics creates pipeline metrics registered with reg. A nil reg creates
// unregistered collectors, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "overlay_jobs_submitted_total",
			Help: "Number of overlay render requests.",
		}),
		JobsCoalesced: factory.NewCounter(prometheus.CounterOpts{
			Name: "overlay_jobs_coalesced_total",
			Help: "Number of pending requests replaced by a newer one before running.",
		}),
		JobsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "overlay_jobs_completed_total",
			Help: "Number of overlay jobs that ran to completion.",
		}, []string{"mode"}),
		JobsCancelled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "overlay_jobs_cancelled_total",
			Help: "Number of overlay jobs interrupted by a newer request.",
		}, []string{"mode"}),
		OverlaysPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "overlay_published_total",
			Help: "Number of overlays handed to the display.",
		}, []string{"mode"}),
		RefinementPasses: factory.NewCounter(prometheus.CounterOpts{
			Name: "overlay_refinement_passes_total",
			Help: "Number of surface refinement passes published.",
		}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "overlay_job_duration_seconds",
			Help:    "Duration of overlay jobs.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"mode"}),
	}
}
