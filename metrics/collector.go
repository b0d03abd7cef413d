package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "proofquorum"

	subsystemConsensus = "consensus"
	subsystemTrust     = "trust"
	subsystemHooks     = "hooks"
	subsystemDisputes  = "disputes"
	subsystemOutbox    = "outbox"

	LabelDecision = "decision"
	LabelStatus   = "status"
	LabelKind     = "kind"
	LabelHook     = "hook"
	LabelReason   = "reason"
	LabelTopic    = "topic"
)

// Collector records engine, ledger, hook, dispute and outbox activity on a
// Prometheus registry.
type Collector struct {
	*OutboxCollector

	reviews       *prometheus.CounterVec
	finalized     *prometheus.CounterVec
	voteRejected  *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	hookDelivered *prometheus.CounterVec
	hookFailed    *prometheus.CounterVec
	disputes      *prometheus.CounterVec
	settled       *prometheus.CounterVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		OutboxCollector: NewOutboxCollector(reg),

		reviews: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemConsensus,
			Name:      "reviews_recorded_total",
			Help:      "number of committed reviews by decision",
		}, []string{LabelDecision}),
		finalized: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemConsensus,
			Name:      "proofs_finalized_total",
			Help:      "number of proofs finalized by terminal status",
		}, []string{LabelStatus}),
		voteRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemConsensus,
			Name:      "votes_rejected_total",
			Help:      "number of votes refused, by error category",
		}, []string{LabelKind}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemTrust,
			Name:      "transitions_total",
			Help:      "number of trust profile transitions by kind",
		}, []string{LabelKind}),
		hookDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemHooks,
			Name:      "delivered_total",
			Help:      "number of successful post-commit hook deliveries",
		}, []string{LabelHook}),
		hookFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemHooks,
			Name:      "failed_total",
			Help:      "number of post-commit hook deliveries that gave up",
		}, []string{LabelHook}),
		disputes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDisputes,
			Name:      "opened_total",
			Help:      "number of disputes opened by reason",
		}, []string{LabelReason}),
		settled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDisputes,
			Name:      "settled_total",
			Help:      "number of disputes settled by status",
		}, []string{LabelStatus}),
	}
}

func (c *Collector) ReviewRecorded(decision string) {
	c.reviews.WithLabelValues(decision).Inc()
}

func (c *Collector) ProofFinalized(status string) {
	c.finalized.WithLabelValues(status).Inc()
}

func (c *Collector) VoteRejected(kind string) {
	c.voteRejected.WithLabelValues(kind).Inc()
}

func (c *Collector) TrustTransition(kind string) {
	c.transitions.WithLabelValues(kind).Inc()
}

func (c *Collector) HookDelivered(name string) {
	c.hookDelivered.WithLabelValues(name).Inc()
}

func (c *Collector) HookFailed(name string) {
	c.hookFailed.WithLabelValues(name).Inc()
}

func (c *Collector) DisputeOpened(reason string) {
	c.disputes.WithLabelValues(reason).Inc()
}

func (c *Collector) DisputeSettled(status string) {
	c.settled.WithLabelValues(status).Inc()
}
