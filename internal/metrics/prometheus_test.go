package metrics_test

import (
	"testing"

	"github.com/devrev/softmatch/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	m.QueueJoins.WithLabelValues("solo").Inc()
	m.SessionTransitions.WithLabelValues("completed", "").Inc()
	m.SessionsActive.Set(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueueJoins.WithLabelValues("solo")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SessionsActive))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	// a second registry must not collide
	assert.NotPanics(t, func() { metrics.NewMetrics(prometheus.NewRegistry()) })
}
