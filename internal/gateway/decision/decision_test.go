package decision

import "testing"

// TestDecide_Table pins the full rule table, including the evaluation
// order, which is itself part of the contract.
func TestDecide_Table(t *testing.T) {
	cases := []struct {
		name        string
		rateAllowed bool
		remaining   int64
		risk        float64
		want        Decision
		wantReason  string
	}{
		{"rate exceeded", false, 0, 0.0, Block, ReasonRateExceeded},
		{"rate exceeded wins over high risk", false, 0, 0.95, Block, ReasonRateExceeded},
		{"rate exceeded wins over throttle risk", false, 0, 0.7, Block, ReasonRateExceeded},
		{"high risk", true, 50, 0.9, Block, ReasonHighRisk},
		{"high risk above threshold", true, 50, 0.97, Block, ReasonHighRisk},
		{"high risk wins over near limit", true, 2, 0.92, Block, ReasonHighRisk},
		{"abnormal at threshold", true, 50, 0.6, Throttle, ReasonAbnormal},
		{"abnormal mid band", true, 50, 0.75, Throttle, ReasonAbnormal},
		{"abnormal wins over near limit", true, 3, 0.65, Throttle, ReasonAbnormal},
		{"near limit at five", true, 5, 0.0, Throttle, ReasonNearLimit},
		{"near limit at zero", true, 0, 0.0, Throttle, ReasonNearLimit},
		{"allow plain", true, 30, 0.0, Allow, ReasonExpected},
		{"allow just under risk band", true, 30, 0.59, Allow, ReasonExpected},
		{"allow just above remaining band", true, 6, 0.0, Allow, ReasonExpected},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := Decide(tc.rateAllowed, tc.remaining, tc.risk)
			if out.Decision != tc.want {
				t.Fatalf("decision = %v, want %v", out.Decision, tc.want)
			}
			if out.Reason != tc.wantReason {
				t.Fatalf("reason = %q, want %q", out.Reason, tc.wantReason)
			}
		})
	}
}

func TestDecide_Deterministic(t *testing.T) {
	for i := 0; i < 100; i++ {
		a := Decide(true, 42, 0.5)
		b := Decide(true, 42, 0.5)
		if a != b {
			t.Fatal("Decide is not deterministic")
		}
	}
}

func TestDecisionString(t *testing.T) {
	if Allow.String() != "ALLOW" || Throttle.String() != "THROTTLE" || Block.String() != "BLOCK" {
		t.Fatalf("unexpected wire forms: %s %s %s", Allow, Throttle, Block)
	}
}
