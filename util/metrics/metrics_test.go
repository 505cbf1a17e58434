package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllMetricNamesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	collectors := []prometheus.Collector{
		FlushTimeSeconds, CumulativeFlushTime, FlushCount, FlushedBytes,
		CommittedHeightGauge, PendingBytesGauge, TransactRetryCount,
		FlushRetryCount, ImportedRowsCount,
	}
	for _, c := range collectors {
		require.NoError(t, reg.Register(c))
	}
	// vectors are only gathered once a label set exists
	ImportedRowsCount.WithLabelValues("transfers").Add(0)

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}

	for _, name := range AllMetricNames {
		assert.Contains(t, names, subsystem+"_"+name)
	}
}

func TestRegisterPrometheusMetricsTwice(t *testing.T) {
	assert.NotPanics(t, func() {
		RegisterPrometheusMetrics()
		RegisterPrometheusMetrics()
	})
}
