package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "threatlink"

// CorrelationMetrics contains Prometheus metrics for the analysis pipeline.
// It implements Recorder; operations with a dedicated collector are routed
// to it in addition to the generic vectors.
type CorrelationMetrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	ErrorsTotal       *prometheus.CounterVec

	DocumentsProcessed     *prometheus.CounterVec
	CandidatesPerDocument  prometheus.Histogram
	RelationshipsPersisted prometheus.Counter
	CampaignsDetected      *prometheus.CounterVec
	EntityUpserts          *prometheus.CounterVec
	StoreRetries           *prometheus.CounterVec
	EmbeddingRequests      *prometheus.CounterVec
	EmbeddingCache         *prometheus.CounterVec
	Notifications          *prometheus.CounterVec

	collectors []prometheus.Collector
}

// NewCorrelationMetrics creates and registers the collectors.
func NewCorrelationMetrics(registry prometheus.Registerer) (*CorrelationMetrics, error) {
	m := &CorrelationMetrics{}
	m.initMetrics()
	for _, c := range m.collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register correlation metrics: %w", err)
		}
	}
	return m, nil
}

func (m *CorrelationMetrics) initMetrics() {
	m.OperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Total number of operations by name and status",
	}, []string{"operation", "status"})

	m.OperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Duration of pipeline stages and other operations",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"operation"})

	m.ErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Total number of errors by operation and category",
	}, []string{"operation", "error_type"})

	m.DocumentsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "documents_processed_total",
		Help:      "Documents analyzed, by outcome",
	}, []string{"status"})

	m.CandidatesPerDocument = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "candidates_per_document",
		Help:      "Number of candidate documents found per analysis",
		Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 500},
	})

	m.RelationshipsPersisted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "relationships_persisted_total",
		Help:      "Relationships written or refreshed",
	})

	m.CampaignsDetected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "campaign_detections_total",
		Help:      "Campaign detection outcomes",
	}, []string{"outcome"})

	m.EntityUpserts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "entity_upserts_total",
		Help:      "Canonical entity writes by kind",
	}, []string{"kind"})

	m.StoreRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_retries_total",
		Help:      "Store transactions retried after a transient conflict",
	}, []string{"operation"})

	m.EmbeddingRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "embedding_requests_total",
		Help:      "Embedding backend calls by status",
	}, []string{"status"})

	m.EmbeddingCache = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "embedding_cache_lookups_total",
		Help:      "Embedding cache lookups by result",
	}, []string{"result"})

	m.Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Notifications sent by channel",
	}, []string{"channel"})

	m.collectors = []prometheus.Collector{
		m.OperationsTotal, m.OperationDuration, m.ErrorsTotal,
		m.DocumentsProcessed, m.CandidatesPerDocument, m.RelationshipsPersisted,
		m.CampaignsDetected, m.EntityUpserts, m.StoreRetries,
		m.EmbeddingRequests, m.EmbeddingCache, m.Notifications,
	}
}

// RecordOperation implements Recorder.
func (m *CorrelationMetrics) RecordOperation(operation, status string) {
	m.OperationsTotal.WithLabelValues(operation, status).Inc()

	switch operation {
	case OpDocument:
		m.DocumentsProcessed.WithLabelValues(status).Inc()
	case OpEntityUpsert:
		m.EntityUpserts.WithLabelValues(status).Inc()
	case OpCampaign:
		m.CampaignsDetected.WithLabelValues(status).Inc()
	case OpStoreRetry:
		m.StoreRetries.WithLabelValues(status).Inc()
	case OpEmbedding:
		m.EmbeddingRequests.WithLabelValues(status).Inc()
	case OpEmbeddingCache:
		m.EmbeddingCache.WithLabelValues(status).Inc()
	case OpNotify:
		m.Notifications.WithLabelValues(status).Inc()
	}
}

// RecordDuration implements Recorder.
func (m *CorrelationMetrics) RecordDuration(operation string, seconds float64) {
	m.OperationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordError implements Recorder.
func (m *CorrelationMetrics) RecordError(operation, errorType string) {
	m.ErrorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordCount implements Recorder.
func (m *CorrelationMetrics) RecordCount(operation string, n float64) {
	switch operation {
	case OpCandidates:
		m.CandidatesPerDocument.Observe(n)
	case OpRelationship:
		m.RelationshipsPersisted.Add(n)
	}
}

var _ Recorder = (*CorrelationMetrics)(nil)
