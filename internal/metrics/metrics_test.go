package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestAppendsTotalIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.AppendsTotal.WithLabelValues("a").Inc()
	m.AppendsTotal.WithLabelValues("a").Inc()

	var metric dto.Metric
	require.NoError(t, m.AppendsTotal.WithLabelValues("a").Write(&metric))
	require.Equal(t, float64(2), metric.GetCounter().GetValue())
}

func TestSubscribersActiveGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SubscribersActive.Inc()
	m.SubscribersActive.Inc()
	m.SubscribersActive.Dec()

	var metric dto.Metric
	require.NoError(t, m.SubscribersActive.Write(&metric))
	require.Equal(t, float64(1), metric.GetGauge().GetValue())
}
