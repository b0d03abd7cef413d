package proof

const (
	// RejectionVeto finalizes a proof as rejected regardless of the submitter's trust.
	RejectionVeto = 2
	// TrustedLevel is the trust level from which a single approval suffices.
	TrustedLevel = 2
	// TrustedApprovals is the approvals needed when the submitter is at TrustedLevel or above.
	TrustedApprovals = 1
	// BaseApprovals is the approvals needed for a level 1 submitter.
	BaseApprovals = 2
)

// Evaluate returns the status a proof with the given counters reaches for a
// submitter at trustLevel. Rejection is checked first: two rejections veto
// the proof even if the approval threshold is also met.
func Evaluate(approvals, rejections, trustLevel int) Status {
	if rejections >= RejectionVeto {
		return StatusRejected
	}
	if approvals >= RequiredApprovals(trustLevel) {
		return StatusVerified
	}
	return StatusPending
}

// RequiredApprovals is the consensus threshold for a submitter's trust level.
func RequiredApprovals(trustLevel int) int {
	if trustLevel >= TrustedLevel {
		return TrustedApprovals
	}
	return BaseApprovals
}
