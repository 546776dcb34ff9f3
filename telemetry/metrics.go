package telemetry

var (
	// BatchSizeBuckets covers the default maxSendCount of 300.
	BatchSizeBuckets = []float64{1, 5, 10, 25, 50, 100, 200, 300, 500, 1000}

	// CorrelationBuckets for the bulk document read of one batch.
	CorrelationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
)

// Oplog reader
var (
	EntriesReadTotal Counter = NoopStat{}

	// FaultsTotal counts cursor terminations by kind (error, close, exit).
	FaultsTotal CounterVec = noopCounterVec{}

	ReconnectsTotal Counter = NoopStat{}

	// ConnectorState reports the reconnection controller state as its ordinal.
	ConnectorState Gauge = NoopStat{}
)

// Pipeline
var (
	// EntriesFilteredTotal counts filter outcomes. The stale result marks
	// entries of a withdrawn session.
	EntriesFilteredTotal CounterVec = noopCounterVec{}

	BatchesTotal Counter = NoopStat{}

	BatchSize Histogram = NoopStat{}

	CorrelationSeconds Histogram = NoopStat{}

	EnvelopesEmittedTotal Counter = NoopStat{}

	HandlerErrorsTotal Counter = NoopStat{}

	TransformCompilesTotal CounterVec = noopCounterVec{}
)

// Publisher
var (
	// PublishedTotal counts publish attempts by sink and result.
	PublishedTotal CounterVec = noopCounterVec{}

	CheckpointSavesTotal CounterVec = noopCounterVec{}
)

// InitMetrics creates the collectors. Initialize calls it.
func InitMetrics() {
	EntriesReadTotal = NewCounter("entries_read_total", "Oplog entries pulled from the tailing cursor")
	FaultsTotal = NewCounterVec("faults_total", "Oplog cursor terminations by kind", []string{"kind"})
	ReconnectsTotal = NewCounter("reconnects_total", "Scheduled reconnect attempts")
	ConnectorState = NewGauge("connector_state", "Reconnection controller state ordinal")

	EntriesFilteredTotal = NewCounterVec("entries_filtered_total", "Filter outcomes per oplog entry", []string{"result"})
	BatchesTotal = NewCounter("batches_total", "Batches flushed to the correlator")
	BatchSize = NewHistogram("batch_size", "Entries per flushed batch", BatchSizeBuckets)
	CorrelationSeconds = NewHistogram("correlation_seconds", "Bulk document read latency per batch", CorrelationBuckets)
	EnvelopesEmittedTotal = NewCounter("envelopes_emitted_total", "Envelopes emitted downstream")
	HandlerErrorsTotal = NewCounter("handler_errors_total", "Transform handler failures")
	TransformCompilesTotal = NewCounterVec("transform_compiles_total", "Transform compilations by result", []string{"result"})

	PublishedTotal = NewCounterVec("published_total", "Publish attempts by sink and result", []string{"sink", "result"})
	CheckpointSavesTotal = NewCounterVec("checkpoint_saves_total", "Checkpoint writes by result", []string{"result"})
}
