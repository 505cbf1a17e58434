package metrics

import "github.com/prometheus/client_golang/prometheus"

// RegisterPrometheusMetrics register all prometheus metrics with the global
// metrics handler.
func RegisterPrometheusMetrics() {
	prometheus.Register(FlushTimeSeconds)
	prometheus.Register(CumulativeFlushTime)
	prometheus.Register(FlushCount)
	prometheus.Register(FlushedBytes)
	prometheus.Register(CommittedHeightGauge)
	prometheus.Register(PendingBytesGauge)
	prometheus.Register(TransactRetryCount)
	prometheus.Register(FlushRetryCount)
	prometheus.Register(ImportedRowsCount)
}

// Prometheus metric names broken out for reuse.
const (
	FlushTimeName           = "average_flush_time_sec"
	CumulativeFlushTimeName = "cumulative_flush_time_sec"
	FlushCountName          = "flush_count"
	FlushedBytesName        = "flushed_bytes"
	CommittedHeightName     = "committed_height"
	PendingBytesName        = "pending_bytes"
	TransactRetryName       = "transact_retry_count"
	FlushRetryName          = "flush_retry_count"
	ImportedRowsName        = "imported_rows"
)

const subsystem = "csvstore"

// Initialize the prometheus objects.
var (
	// AllMetricNames is a reference for all the custom metric names.
	AllMetricNames = []string{
		FlushTimeName,
		CumulativeFlushTimeName,
		FlushCountName,
		FlushedBytesName,
		CommittedHeightName,
		PendingBytesName,
		TransactRetryName,
		FlushRetryName,
		ImportedRowsName}

	FlushTimeSeconds = prometheus.NewSummary(
		prometheus.SummaryOpts{
			Subsystem: subsystem,
			Name:      FlushTimeName,
			Help:      "Time in seconds to render and write one chunk.",
		})

	CumulativeFlushTime = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      CumulativeFlushTimeName,
			Help:      "Total time in seconds spent flushing chunks.",
		})

	FlushCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      FlushCountName,
			Help:      "Chunks committed to the destination.",
		})

	FlushedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      FlushedBytesName,
			Help:      "Encoded bytes of table files written.",
		})

	CommittedHeightGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Subsystem: subsystem,
			Name:      CommittedHeightName,
			Help:      "The height recorded by the last status write.",
		})

	PendingBytesGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Subsystem: subsystem,
			Name:      PendingBytesName,
			Help:      "Rendered size of the chunk waiting to be flushed.",
		})

	TransactRetryCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      TransactRetryName,
			Help:      "Transact attempts repeated after a storage conflict.",
		})

	FlushRetryCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      FlushRetryName,
			Help:      "Flush attempts repeated after a storage conflict.",
		})

	ImportedRowsCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      ImportedRowsName,
			Help:      "Rows appended by the importer, per table.",
		}, []string{"table"})
)
