package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCollectors(t *testing.T) {
	reg := NewRegistry()
	IngestEvents.WithLabelValues("ross", OutcomeCreated).Inc()
	SignIns.WithLabelValues("ok").Inc()
	ScrapeDuration.WithLabelValues("ross").Observe(1.2)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	res, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, `campusevents_ingest_events_total{outcome="created",source="ross"}`)
	assert.Contains(t, text, `campusevents_signins_total{outcome="ok"}`)
	assert.Contains(t, text, `campusevents_scrape_duration_seconds_count{source="ross"}`)
	assert.Contains(t, text, "go_goroutines")
}

func TestNewRegistryIsRepeatable(t *testing.T) {
	assert.NotPanics(t, func() {
		NewRegistry()
		NewRegistry()
	})
}
