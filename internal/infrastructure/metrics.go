package infrastructure

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "market_gateway"

var (
	FeedLinesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "feed_lines_total",
		Help:      "Feed lines received, by decoded kind.",
	}, []string{"kind"})

	FeedDecodeErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "feed_decode_errors_total",
		Help:      "Feed lines that failed to decode.",
	})

	FeedErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "feed_errors_total",
		Help:      "Feed protocol errors, by code.",
	}, []string{"code"})

	FeedConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "feed_connected",
		Help:      "1 when the feed session is authenticated.",
	})

	PipelineTicksStored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "pipeline_ticks_stored_total",
		Help:      "Ticks persisted to the durable store.",
	})

	PipelineTicksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "pipeline_ticks_dropped_total",
		Help:      "Ticks dropped because the write buffer overflowed.",
	})

	PipelineFlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "pipeline_flush_duration_seconds",
		Help:      "Duration of tick batch flushes.",
		Buckets:   prometheus.DefBuckets,
	})

	PipelineCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "pipeline_cache_lookups_total",
		Help:      "Cache lookups, by result.",
	}, []string{"result"})

	DistributionClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "distribution_clients",
		Help:      "Connected downstream clients.",
	})

	DistributionMessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "distribution_messages_sent_total",
		Help:      "Batched channel messages delivered to clients.",
	})

	DistributionMessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "distribution_messages_dropped_total",
		Help:      "Messages dropped, by reason.",
	}, []string{"reason"})

	RepublishErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "republish_errors_total",
		Help:      "Failed republish attempts, by sink.",
	}, []string{"sink"})
)
