package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the inspection server.
type Metrics struct {
	InspectionsTotal   *prometheus.CounterVec
	InspectionDuration *prometheus.HistogramVec

	ROIResultsTotal *prometheus.CounterVec

	GoldenComparisons *prometheus.CounterVec
	GoldenPromotions  *prometheus.CounterVec
	PromotionFailures *prometheus.CounterVec

	LinkRequestsTotal *prometheus.CounterVec
	LinkDuration      prometheus.Histogram

	ActiveSessions  prometheus.Gauge
	SessionsReaped  prometheus.Counter
	DegradedSources *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		InspectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aoi_inspections_total",
				Help: "Total inspections processed",
			},
			[]string{"product", "result"}, // result: pass, fail, timeout
		),

		InspectionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aoi_inspection_duration_seconds",
				Help:    "End-to-end duration of one inspection",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"product"},
		),

		ROIResultsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aoi_roi_results_total",
				Help: "Per-ROI verdicts by type",
			},
			[]string{"roi_type", "result"}, // result: pass, fail, error, timeout
		),

		GoldenComparisons: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aoi_golden_comparisons_total",
				Help: "Candidate similarity computations in the golden matcher",
			},
			[]string{"product", "method"},
		),

		GoldenPromotions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aoi_golden_promotions_total",
				Help: "Successful best_golden promotions",
			},
			[]string{"product"},
		),

		PromotionFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aoi_golden_promotion_failures_total",
				Help: "Promotions that failed and were rolled back",
			},
			[]string{"product"},
		),

		LinkRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aoi_barcode_link_requests_total",
				Help: "Barcode linking attempts by outcome",
			},
			[]string{"outcome"}, // outcome: linked, cached, unavailable, skipped
		),

		LinkDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "aoi_barcode_link_duration_seconds",
				Help:    "Round-trip time of the linking RPC",
				Buckets: prometheus.DefBuckets,
			},
		),

		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "aoi_active_sessions",
				Help: "Currently registered sessions",
			},
		),

		SessionsReaped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "aoi_sessions_reaped_total",
				Help: "Session directories removed by the age reaper",
			},
		),

		DegradedSources: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aoi_image_sources_total",
				Help: "Image source variants used per group (inline base64 counts as degraded)",
			},
			[]string{"variant"}, // variant: path, filename, inline
		),
	}
}

// RecordInspection records an inspection outcome and its duration.
func (m *Metrics) RecordInspection(product, result string, seconds float64) {
	m.InspectionsTotal.WithLabelValues(product, result).Inc()
	m.InspectionDuration.WithLabelValues(product).Observe(seconds)
}

// RecordROI records one per-ROI verdict.
func (m *Metrics) RecordROI(roiType, result string) {
	m.ROIResultsTotal.WithLabelValues(roiType, result).Inc()
}
