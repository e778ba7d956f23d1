package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the service's Prometheus collectors. A single instance is
// created in main and handed to the layers that record into it.
type Metrics struct {
	RecordsCreated     *prometheus.CounterVec
	ChainVerifications *prometheus.CounterVec
	BatchAttempts      *prometheus.CounterVec
	GuardRefusals      *prometheus.CounterVec
	SubmissionSeconds  prometheus.Histogram
	QueuedBatches      prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RecordsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verifactu_records_created_total",
			Help: "Invoice records appended to tenant chains.",
		}, []string{"tenant_id", "record_type"}),
		ChainVerifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verifactu_chain_verifications_total",
			Help: "Chain verification passes by outcome.",
		}, []string{"result"}),
		BatchAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verifactu_batch_attempts_total",
			Help: "AEAT submission attempts by final status.",
		}, []string{"status"}),
		GuardRefusals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verifactu_guard_refusals_total",
			Help: "Submissions refused before the network call.",
		}, []string{"guard"}),
		SubmissionSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "verifactu_submission_duration_seconds",
			Help:    "Wall time of completed AEAT submission attempts.",
			Buckets: prometheus.DefBuckets,
		}),
		QueuedBatches: factory.NewGauge(prometheus.GaugeOpts{
			Name: "verifactu_queued_batches",
			Help: "Batches currently waiting for an attempt.",
		}),
	}
}
