package monitoring

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

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

func TestRunFinished(t *testing.T) {
	m := NewMetricsForTesting()
	m.RunFinished(nil)
	m.RunFinished(nil)
	m.RunFinished(errors.New("boom"))

	assert.Equal(t, 2.0, counterValue(t, m.RunsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, counterValue(t, m.RunsTotal.WithLabelValues("error")))
}

func TestObserveStage(t *testing.T) {
	m := NewMetricsForTesting()
	m.ObserveStage("composite", time.Now().Add(-time.Second))

	var out dto.Metric
	h := m.StageDuration.WithLabelValues("composite").(prometheus.Histogram)
	require.NoError(t, h.Write(&out))
	assert.Equal(t, uint64(1), out.GetHistogram().GetSampleCount())
	assert.GreaterOrEqual(t, out.GetHistogram().GetSampleSum(), 1.0)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveStage("x", time.Now())
		m.RunFinished(nil)
	})
}

func TestNewMetricsForTesting_Independent(t *testing.T) {
	a := NewMetricsForTesting()
	b := NewMetricsForTesting()
	a.RoutesScored.Add(3)
	assert.Equal(t, 3.0, counterValue(t, a.RoutesScored))
	assert.Equal(t, 0.0, counterValue(t, b.RoutesScored))
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsFor(reg)
	m.RunFinished(nil)
	m.RoutesScored.Add(4)
	m.MinIndex.Set(1.5)

	path := filepath.Join(t.TempDir(), "snowroute.prom")
	require.NoError(t, WriteTextfile(path, reg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `snowroute_runs_total{outcome="success"} 1`)
	assert.Contains(t, text, "snowroute_routes_scored_total 4")
	assert.Contains(t, text, "snowroute_min_danger_index 1.5")

	err = WriteTextfile(filepath.Join(t.TempDir(), "missing", "x.prom"), reg)
	require.Error(t, err)
}
