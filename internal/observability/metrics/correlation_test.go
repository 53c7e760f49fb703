package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestCorrelationMetricsRouting(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewCorrelationMetrics(registry)
	require.NoError(t, err)

	m.RecordOperation(OpDocument, StatusSuccess)
	m.RecordOperation(OpDocument, StatusSuccess)
	m.RecordOperation(OpEntityUpsert, "indicator")
	m.RecordOperation(OpEmbeddingCache, StatusHit)
	m.RecordCount(OpRelationship, 3)
	m.RecordCount(OpCandidates, 7)
	m.RecordDuration(OpScore, 0.01)
	m.RecordError(OpCampaign, "processing")

	assert.InDelta(t, 2, counterValue(t, m.DocumentsProcessed.WithLabelValues(StatusSuccess)), 1e-9)
	assert.InDelta(t, 1, counterValue(t, m.EntityUpserts.WithLabelValues("indicator")), 1e-9)
	assert.InDelta(t, 1, counterValue(t, m.EmbeddingCache.WithLabelValues(StatusHit)), 1e-9)
	assert.InDelta(t, 3, counterValue(t, m.RelationshipsPersisted), 1e-9)
	assert.InDelta(t, 1, counterValue(t, m.ErrorsTotal.WithLabelValues(OpCampaign, "processing")), 1e-9)
	assert.InDelta(t, 2, counterValue(t, m.OperationsTotal.WithLabelValues(OpDocument, StatusSuccess)), 1e-9)

	families, err := registry.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["threatlink_candidates_per_document"])
	assert.True(t, names["threatlink_operation_duration_seconds"])
}

func TestCorrelationMetricsDoubleRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewCorrelationMetrics(registry)
	require.NoError(t, err)
	_, err = NewCorrelationMetrics(registry)
	require.Error(t, err)
}

func TestTestRecorder(t *testing.T) {
	t.Parallel()

	r := NewTestRecorder()
	r.RecordOperation(OpCampaign, "created")
	r.RecordOperation(OpCampaign, "created")
	r.RecordDuration(OpScore, 0.5)
	r.RecordError(OpPriority, "database")
	r.RecordCount(OpRelationship, 2)
	r.RecordCount(OpRelationship, 1)

	assert.Equal(t, 2, r.GetOperationCount(OpCampaign, "created"))
	assert.Zero(t, r.GetOperationCount(OpCampaign, "joined"))
	assert.Equal(t, []float64{0.5}, r.GetDurations(OpScore))
	assert.Nil(t, r.GetDurations("missing"))
	assert.Equal(t, 1, r.GetErrorCount(OpPriority, "database"))
	assert.InDelta(t, 3, r.GetCount(OpRelationship), 1e-9)
}
