package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns queries that must come back empty on a consistent database.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_counts_match_reviews",
			SQL: `SELECT p.id, p.approval_count, p.rejection_count, r.approvals, r.rejections
                  FROM proofs p
                  LEFT JOIN LATERAL (
                      SELECT COUNT(*) FILTER (WHERE decision = 'approve') AS approvals,
                             COUNT(*) FILTER (WHERE decision = 'reject') AS rejections
                      FROM reviews WHERE proof_id = p.id) r ON true
                  WHERE p.approval_count <> r.approvals OR p.rejection_count <> r.rejections`,
		},
		{
			Name: "O2_no_self_review",
			SQL: `SELECT r.id FROM reviews r JOIN proofs p ON p.id = r.proof_id
                  WHERE r.reviewer_id = p.submitter_id`,
		},
		{
			Name: "O3_one_vote_per_reviewer",
			SQL: `SELECT proof_id, reviewer_id FROM reviews
                  GROUP BY proof_id, reviewer_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O4_finalized_at_matches_status",
			SQL: `SELECT id FROM proofs
                  WHERE (status = 'pending') <> (finalized_at IS NULL)`,
		},
		{
			Name: "O5_rejection_veto",
			SQL: `SELECT id FROM proofs
                  WHERE rejection_count > 2
                     OR (status = 'verified' AND rejection_count >= 2)
                     OR (status = 'pending' AND rejection_count >= 2)`,
		},
		{
			Name: "O6_pending_below_threshold",
			SQL: `SELECT p.id FROM proofs p
                  WHERE p.status = 'pending' AND p.approval_count >= 2`,
		},
		{
			Name: "O7_trust_counts_match_outcomes",
			SQL: `SELECT t.user_id FROM trust_profiles t
                  LEFT JOIN LATERAL (
                      SELECT COUNT(*) FILTER (WHERE status = 'verified') AS verified,
                             COUNT(*) FILTER (WHERE status = 'rejected') AS rejected
                      FROM proofs WHERE submitter_id = t.user_id) o ON true
                  WHERE t.approved_count <> o.verified OR t.rejected_count <> o.rejected
                     OR t.trust_level < 1 OR t.trust_level > 2
                  UNION ALL
                  SELECT DISTINCT p.submitter_id FROM proofs p
                  WHERE p.status <> 'pending'
                    AND NOT EXISTS (SELECT 1 FROM trust_profiles t WHERE t.user_id = p.submitter_id)`,
		},
		{
			Name: "O8_one_event_per_finalization",
			SQL: `SELECT payload->>'proof_id' FROM outbox
                  GROUP BY payload->>'proof_id' HAVING COUNT(*) > 1
                  UNION ALL
                  SELECT p.id::text FROM proofs p
                  WHERE p.status <> 'pending'
                    AND NOT EXISTS (SELECT 1 FROM outbox o WHERE o.payload->>'proof_id' = p.id::text)`,
		},
		{
			Name: "O9_one_open_dispute_per_reporter",
			SQL: `SELECT proof_id, reporter_id FROM disputes WHERE status = 'open'
                  GROUP BY proof_id, reporter_id HAVING COUNT(*) > 1
                  UNION ALL
                  SELECT d.proof_id, d.reporter_id FROM disputes d JOIN proofs p ON p.id = d.proof_id
                  WHERE p.status = 'pending'`,
		},
		{
			Name: "O10_proof_delete_guard",
			SQL: `SELECT 'missing_no_delete_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'proofs_no_delete')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
