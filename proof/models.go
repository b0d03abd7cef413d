package proof

import "time"

// Status is the verification state of a proof.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusRejected Status = "rejected"
)

// Final reports whether the status is terminal.
func (s Status) Final() bool {
	return s == StatusVerified || s == StatusRejected
}

// Decision is a reviewer's vote.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// Proof mirrors the proofs table. Counters only grow and are mutated by the
// consensus engine alone.
type Proof struct {
	ID             string
	SubmitterID    string
	Status         Status
	ApprovalCount  int
	RejectionCount int
	CreatedAt      time.Time
	FinalizedAt    *time.Time
}

// Votes returns the number of reviews counted on the proof.
func (p Proof) Votes() int {
	return p.ApprovalCount + p.RejectionCount
}

// Review mirrors the reviews table. At most one row exists per (ProofID, ReviewerID).
type Review struct {
	ID         string
	ProofID    string
	ReviewerID string
	Decision   Decision
	Comment    *string
	CreatedAt  time.Time
}
