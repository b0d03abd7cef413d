package dispute

import "time"

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusOpen      Status = "open"
	StatusResolved  Status = "resolved"
	StatusDismissed Status = "dismissed"
)

// Settled reports whether the dispute has left the open state.
func (s Status) Settled() bool {
	return s == StatusResolved || s == StatusDismissed
}

// Reason is the closed set of grounds a reporter can cite.
type Reason string

const (
	ReasonFakeEvidence         Reason = "fake_evidence"
	ReasonWrongChallenge       Reason = "wrong_challenge"
	ReasonInappropriateContent Reason = "inappropriate_content"
	ReasonDuplicateSubmission  Reason = "duplicate_submission"
	ReasonOther                Reason = "other"
)

func (r Reason) Valid() bool {
	switch r {
	case ReasonFakeEvidence, ReasonWrongChallenge, ReasonInappropriateContent, ReasonDuplicateSubmission, ReasonOther:
		return true
	}
	return false
}

// Record mirrors the disputes table.
type Record struct {
	ID          string
	ProofID     string
	ReporterID  string
	Reason      Reason
	Description string
	Status      Status
	ResolverID  *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ResolvedAt  *time.Time
}
