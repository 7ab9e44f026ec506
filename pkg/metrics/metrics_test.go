package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// value returns the value of the first sample of a family whose labels
// match, or -1.
func value(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if !labelsMatch(metric.GetLabel(), labels) {
				continue
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue()
			}
		}
	}
	return -1
}

func labelsMatch(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if want[p.GetName()] != p.GetValue() {
			return false
		}
	}
	return true
}

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveTitle(OutcomeResolved, "")
	m.ObserveTitle(OutcomeMiss, "search")
	m.ObserveTitle(OutcomeMiss, "search")
	m.ObserveBootstrap(true)
	m.ObserveBootstrap(false)
	m.IncSessionInvalidations()

	assert.Equal(t, 1.0, value(t, m, "scscraper_titles_total", map[string]string{"outcome": OutcomeResolved, "stage": "none"}))
	assert.Equal(t, 2.0, value(t, m, "scscraper_titles_total", map[string]string{"outcome": OutcomeMiss, "stage": "search"}))
	assert.Equal(t, 1.0, value(t, m, "scscraper_bootstrap_attempts_total", map[string]string{"result": "error"}))
	assert.Equal(t, 1.0, value(t, m, "scscraper_session_invalidations_total", nil))

	done := m.TrackInflight()
	assert.Equal(t, 1.0, value(t, m, "scscraper_titles_inflight", nil))
	done()
	assert.Equal(t, 0.0, value(t, m, "scscraper_titles_inflight", nil))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveTitle(OutcomeFail, "bootstrap")
	m.ObserveStage("search", time.Second)
	m.ObserveBootstrap(true)
	m.IncSessionInvalidations()
	m.TrackInflight()()
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveStage("resolve", 120*time.Millisecond)
	m.ObserveTitle(OutcomeFail, "playlist")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	for _, name := range []string{
		"scscraper_titles_total",
		"scscraper_stage_duration_seconds",
		"scscraper_titles_inflight",
	} {
		assert.Contains(t, string(body), name)
	}
}
