package apilog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// pipelineMetrics holds the Prometheus collectors for the pipeline.
// Registered once with the default registry; shared by all pipelines in
// the process.
type pipelineMetrics struct {
	queueDepth       prometheus.Gauge
	recordsSubmitted prometheus.Counter
	batchesFlushed   prometheus.Counter
	recordsFlushed   prometheus.Counter
	flushErrors      *prometheus.CounterVec
	dispatchPanics   prometheus.Counter
}

var metrics = newPipelineMetrics()

func newPipelineMetrics() *pipelineMetrics {
	return &pipelineMetrics{
		queueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "apilogger_queue_depth",
			Help: "Number of records currently buffered for flushing",
		}),
		recordsSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "apilogger_records_submitted_total",
			Help: "Total number of records submitted to the pipeline",
		}),
		batchesFlushed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "apilogger_batches_flushed_total",
			Help: "Total number of batches written to the sink",
		}),
		recordsFlushed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "apilogger_records_flushed_total",
			Help: "Total number of records written to the sink",
		}),
		flushErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "apilogger_flush_errors_total",
			Help: "Total number of failed sink writes",
		}, []string{"kind"}),
		dispatchPanics: promauto.NewCounter(prometheus.CounterOpts{
			Name: "apilogger_dispatch_panics_total",
			Help: "Total number of subscriber panics recovered during dispatch",
		}),
	}
}
