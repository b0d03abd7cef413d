package trust

import "time"

// Outcome is the finalized result of a proof, as seen by the ledger.
type Outcome string

const (
	OutcomeVerified Outcome = "verified"
	OutcomeRejected Outcome = "rejected"
)

// MinLevel is the trust floor; no profile is ever below it.
const MinLevel = 1

// Profile mirrors the trust_profiles table.
type Profile struct {
	UserID                string
	Level                 int
	ApprovedCount         int
	RejectedCount         int
	ConsecutiveRejections int
	IsUntrusted           bool
	TrustEarnedAt         *time.Time
	LastDemotionAt        *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// NewProfile returns the implicit starting profile for a user.
func NewProfile(userID string, at time.Time) Profile {
	return Profile{
		UserID:    userID,
		Level:     MinLevel,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// TotalProofs is the number of finalized proofs counted for the user.
func (p Profile) TotalProofs() int {
	return p.ApprovedCount + p.RejectedCount
}

// Transition describes what a single outcome did to a profile.
type Transition struct {
	UserID           string
	Outcome          Outcome
	LevelBefore      int
	LevelAfter       int
	Promoted         bool
	Demoted          bool
	FlaggedUntrusted bool
}

// Changed reports whether the outcome moved the level or set the untrusted flag.
func (t Transition) Changed() bool {
	return t.Promoted || t.Demoted || t.FlaggedUntrusted
}
