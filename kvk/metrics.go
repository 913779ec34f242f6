package kvk

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the ingestion collectors. A nil *Metrics records nothing.
type Metrics struct {
	recordsIngested prometheus.Counter
	rowsSkipped     prometheus.Counter
	batches         *prometheus.CounterVec
	ingests         *prometheus.CounterVec
	ingestDuration  prometheus.Histogram
	uploadsDeleted  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		recordsIngested: f.NewCounter(prometheus.CounterOpts{
			Namespace: "kvk",
			Name:      "ingest_records_total",
			Help:      "Player stat records persisted by ingestion.",
		}),
		rowsSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "kvk",
			Name:      "ingest_skipped_rows_total",
			Help:      "Data rows dropped for a missing or zero lord_id.",
		}),
		batches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvk",
			Name:      "ingest_batches_total",
			Help:      "Player stat batches written, by result.",
		}, []string{"result"}),
		ingests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvk",
			Name:      "ingests_total",
			Help:      "Ingest requests, by result.",
		}, []string{"result"}),
		ingestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kvk",
			Name:      "ingest_duration_seconds",
			Help:      "Wall time of successful ingest requests.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		uploadsDeleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "kvk",
			Name:      "uploads_deleted_total",
			Help:      "Uploads removed together with their records.",
		}),
	}
}

func (m *Metrics) batch(ok bool) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) ingest(ok bool, records, skipped int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ingests.WithLabelValues(result(ok)).Inc()
	m.rowsSkipped.Add(float64(skipped))
	if ok {
		m.recordsIngested.Add(float64(records))
		m.ingestDuration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) deleted() {
	if m == nil {
		return
	}
	m.uploadsDeleted.Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
