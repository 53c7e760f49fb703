package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/threatlink/internal/observability/metrics"
)

func TestMetricsHandlerExposesCorrelationMetrics(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	m.Correlation.RecordOperation(metrics.OpDocument, metrics.StatusSuccess)

	srv := httptest.NewServer(m.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `threatlink_documents_processed_total{status="success"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
