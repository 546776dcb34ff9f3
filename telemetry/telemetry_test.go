package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec
}

// Initialize is process-wide, so the disabled and enabled cases share a test.
func TestInitialize(t *testing.T) {
	assert.IsType(t, NoopStat{}, EntriesReadTotal)
	EntriesReadTotal.Inc()
	FaultsTotal.With("error").Inc()
	assert.Equal(t, http.StatusNotFound, scrape(t).Code)

	Initialize("test-instance")
	Initialize("ignored")

	EntriesReadTotal.Add(3)
	FaultsTotal.With("close").Inc()
	PublishedTotal.With("kafka", "ok").Inc()
	ConnectorState.Set(2)

	rec := scrape(t)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `mongocdc_entries_read_total{instance_id="test-instance"} 3`)
	assert.Contains(t, body, `mongocdc_faults_total{instance_id="test-instance",kind="close"} 1`)
	assert.Contains(t, body, `mongocdc_published_total{instance_id="test-instance",result="ok",sink="kafka"} 1`)
	assert.Contains(t, body, `mongocdc_connector_state{instance_id="test-instance"} 2`)
	assert.Contains(t, body, "go_goroutines")
}
