package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// OutboxCollector records relay activity only. It is what a relay-only
// process exports.
type OutboxCollector struct {
	published     *prometheus.CounterVec
	publishFailed *prometheus.CounterVec
}

func NewOutboxCollector(reg prometheus.Registerer) *OutboxCollector {
	f := promauto.With(reg)
	return &OutboxCollector{
		published: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemOutbox,
			Name:      "published_total",
			Help:      "number of outbox messages published by topic",
		}, []string{LabelTopic}),
		publishFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemOutbox,
			Name:      "publish_failed_total",
			Help:      "number of failed outbox publish attempts by topic",
		}, []string{LabelTopic}),
	}
}

func (c *OutboxCollector) OutboxPublished(topic string) {
	c.published.WithLabelValues(topic).Inc()
}

func (c *OutboxCollector) OutboxFailed(topic string) {
	c.publishFailed.WithLabelValues(topic).Inc()
}
