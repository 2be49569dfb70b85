package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.PipelineRuns.WithLabelValues("ssyk2012", "success").Inc()
	m.CacheLookups.WithLabelValues("hit").Inc()
	m.RowsPublished.Add(3)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "daioe_pipeline_runs_total")
	assert.Contains(t, names, "daioe_cache_lookups_total")

	assert.Panics(t, func() { NewMetricsWithRegistry(reg) }, "duplicate registration")
}
