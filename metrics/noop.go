package metrics

type NoopCollector struct{}

func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

func (nc *NoopCollector) ReviewRecorded(decision string) {}
func (nc *NoopCollector) ProofFinalized(status string)   {}
func (nc *NoopCollector) VoteRejected(kind string)       {}
func (nc *NoopCollector) TrustTransition(kind string)    {}
func (nc *NoopCollector) HookDelivered(name string)      {}
func (nc *NoopCollector) HookFailed(name string)         {}
func (nc *NoopCollector) DisputeOpened(reason string)    {}
func (nc *NoopCollector) DisputeSettled(status string)   {}
func (nc *NoopCollector) OutboxPublished(topic string)   {}
func (nc *NoopCollector) OutboxFailed(topic string)      {}
