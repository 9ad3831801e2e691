package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAccessCheck(true)
		m.ObserveAccessRequest("created")
		m.ObserveGrantTransition("approved")
		m.ObservePINChallenge("ok")
		m.ObserveAuditFailure("log")
	})
}

func TestMetricsRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "santetogo", "test")

	m.ObserveAccessCheck(true)
	m.ObserveAccessCheck(false)
	m.ObserveAccessCheck(false)
	m.ObserveGrantTransition("revoked")

	families, err := reg.Gather()
	require.NoError(t, err)

	counts := make(map[string]float64)
	for _, fam := range families {
		for _, metric := range fam.GetMetric() {
			key := fam.GetName()
			for _, label := range metric.GetLabel() {
				key += "/" + label.GetValue()
			}
			counts[key] = metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, counts["santetogo_test_access_checks_total/allowed"])
	assert.Equal(t, 2.0, counts["santetogo_test_access_checks_total/denied"])
	assert.Equal(t, 1.0, counts["santetogo_test_access_grant_transitions_total/revoked"])
}
