package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Trigger что запустило сброс пачки
type Trigger string

const (
	TriggerPeriodic Trigger = "periodic"
	TriggerLatency  Trigger = "latency"
	TriggerShutdown Trigger = "shutdown"
)

// Result чем закончился сброс пачки
type Result string

const (
	ResultOK        Result = "ok"
	ResultRejected  Result = "rejected"
	ResultExhausted Result = "exhausted"
	ResultCanceled  Result = "canceled"
)

const metricsPrefix = "status_collector_"

type Metrics struct {
	flushes        *prometheus.CounterVec
	retries        prometheus.Counter
	flushedReports prometheus.Counter
	deadLettered   prometheus.Counter
	flushDuration  *prometheus.HistogramVec
	batchSize      prometheus.Histogram
}

// NewMetrics регистрирует метрики планировщика в reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		flushes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "flushes_total",
			Help: "Number of batch flushes grouped by trigger and result",
		}, []string{"trigger", "result"}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "flush_retries_total",
			Help: "Number of repeated write attempts after transient storage errors",
		}),
		flushedReports: factory.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "reports_flushed_total",
			Help: "Number of reports written to storage",
		}),
		deadLettered: factory.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "dead_lettered_reports_total",
			Help: "Number of reports that could not be written and were dead-lettered",
		}),
		flushDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricsPrefix + "flush_duration_seconds",
			Help:    "Batch flush duration including retries",
			Buckets: prometheus.DefBuckets,
		}, []string{"trigger"}),
		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    metricsPrefix + "batch_size",
			Help:    "Number of reports per flushed batch",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
}

func (m *Metrics) RecordFlush(trigger Trigger, result Result, rows int, duration time.Duration) {
	m.flushes.With(map[string]string{"trigger": string(trigger), "result": string(result)}).Inc()
	m.flushDuration.With(map[string]string{"trigger": string(trigger)}).Observe(duration.Seconds())
	m.batchSize.Observe(float64(rows))
	if result == ResultOK {
		m.flushedReports.Add(float64(rows))
	} else {
		m.deadLettered.Add(float64(rows))
	}
}

func (m *Metrics) RecordRetry() {
	m.retries.Inc()
}
