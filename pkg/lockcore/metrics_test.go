package lockcore

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_NilRegistrySkipsRegistration(t *testing.T) {
	t.Parallel()

	m := NewMetrics(nil)
	require.NotNil(t, m)
	// Methods on an unregistered Metrics must still be safe to call.
	m.ObserveGrant("read", StatusGranted)
	m.ObserveRelease(ReasonExplicit)
	m.SetActive("read", 3)
	m.SetBlocked(1)
	m.ObserveLimitHit(ReasonExplicit)
}

func TestNilMetrics_AllMethodsAreNoOps(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveGrant("read", StatusGranted)
		m.ObserveRelease(ReasonExplicit)
		m.SetActive("read", 1)
		m.SetBlocked(1)
		m.ObserveLimitHit(ReasonExplicit)
		m.Describe(make(chan *prometheus.Desc, 8))
		m.Collect(make(chan prometheus.Metric, 8))
	})
}

func TestMetrics_ObserveGrant_IncrementsCounter(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ObserveGrant("write", StatusGranted)
	m.ObserveGrant("write", StatusGranted)

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range families {
		if mf.GetName() != "lockcore_locks_grant_total" {
			continue
		}
		for _, metric := range mf.Metric {
			if labelsMatch(metric, map[string]string{LabelKind: "write", LabelStatus: StatusGranted}) {
				found = true
				assert.Equal(t, float64(2), metric.GetCounter().GetValue())
			}
		}
	}
	assert.True(t, found, "expected a grant_total series for write/granted")
}

func labelsMatch(m *io_prometheus_client.Metric, want map[string]string) bool {
	got := make(map[string]string, len(m.Label))
	for _, l := range m.Label {
		got[l.GetName()] = l.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}
