package proof

import "testing"

func TestEvaluate(t *testing.T) {
	cases := []struct {
		name       string
		approvals  int
		rejections int
		level      int
		want       Status
	}{
		{"no votes", 0, 0, 1, StatusPending},
		{"one approval untrusted", 1, 0, 1, StatusPending},
		{"two approvals untrusted", 2, 0, 1, StatusVerified},
		{"one approval trusted", 1, 0, 2, StatusVerified},
		{"one rejection", 0, 1, 1, StatusPending},
		{"one of each untrusted", 1, 1, 1, StatusPending},
		{"veto", 0, 2, 2, StatusRejected},
		{"veto beats approvals", 2, 2, 1, StatusRejected},
		{"veto beats trusted approval", 1, 2, 2, StatusRejected},
		{"level floor", 1, 0, 0, StatusPending},
	}
	for _, tc := range cases {
		if got := Evaluate(tc.approvals, tc.rejections, tc.level); got != tc.want {
			t.Errorf("%s: Evaluate(%d, %d, %d) = %s, want %s", tc.name, tc.approvals, tc.rejections, tc.level, got, tc.want)
		}
	}
}

func TestRequiredApprovals(t *testing.T) {
	if got := RequiredApprovals(1); got != BaseApprovals {
		t.Errorf("level 1: got %d, want %d", got, BaseApprovals)
	}
	if got := RequiredApprovals(2); got != TrustedApprovals {
		t.Errorf("level 2: got %d, want %d", got, TrustedApprovals)
	}
}
