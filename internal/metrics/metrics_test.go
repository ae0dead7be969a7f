package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Search(PathLocal)
	m.Search(PathLocal)
	m.Search(PathMiss)
	m.ProviderRequest("giphy", true)
	m.LivenessCheck("dead")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.searches.WithLabelValues(PathLocal)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.searches.WithLabelValues(PathMiss)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerRequests.WithLabelValues("giphy", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.livenessChecks.WithLabelValues("dead")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Search(PathCache)
		m.ProviderRequest("tenor", false)
		m.Ingest("created")
		m.LivenessCheck("alive")
		m.LivenessPass(1)
	})
	assert.Nil(t, m.Registry())
}
