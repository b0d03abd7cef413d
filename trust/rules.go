package trust

import "time"

const (
	// PromotionApprovals is the cumulative approved count that lifts a level 1 user to level 2.
	PromotionApprovals = 5
	// PromotedLevel is the only level reachable by promotion.
	PromotedLevel = 2
	// DemotionStreak is the run of consecutive rejections that costs one level.
	DemotionStreak = 3
	// UntrustedMinProofs is the history length before the untrusted flag is considered.
	UntrustedMinProofs = 10
)

// Apply returns p after one outcome at time at. It is the only place trust
// rules live. The untrusted flag is never cleared here, and no rule lifts a
// user above PromotedLevel.
func Apply(p Profile, outcome Outcome, at time.Time) (Profile, Transition) {
	if p.Level < MinLevel {
		p.Level = MinLevel
	}
	t := Transition{
		UserID:      p.UserID,
		Outcome:     outcome,
		LevelBefore: p.Level,
	}

	switch outcome {
	case OutcomeVerified:
		p.ApprovedCount++
		p.ConsecutiveRejections = 0
		if p.Level == MinLevel && p.ApprovedCount >= PromotionApprovals {
			p.Level = PromotedLevel
			p.TrustEarnedAt = &at
			t.Promoted = true
		}
	case OutcomeRejected:
		p.RejectedCount++
		p.ConsecutiveRejections++
		if p.ConsecutiveRejections >= DemotionStreak && p.Level > MinLevel {
			p.Level--
			p.LastDemotionAt = &at
			p.ConsecutiveRejections = 0
			t.Demoted = true
		}
		// rejected/total > 0.5, kept in integers
		total := p.TotalProofs()
		if !p.IsUntrusted && total >= UntrustedMinProofs && 2*p.RejectedCount > total {
			p.IsUntrusted = true
			t.FlaggedUntrusted = true
		}
	}

	p.UpdatedAt = at
	t.LevelAfter = p.Level
	return p, t
}
