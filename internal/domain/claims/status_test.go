package claims

import "testing"

func TestNormalize(t *testing.T) {
	tests := map[string]Status{
		"QC Pending":          StatusQCPending,
		"  need-more-info ":   StatusNeedMoreInfo,
		"PARTIALLY SETTLED":   StatusPartiallySettled,
		"InProgress":          StatusInProgress,
		"in progress":         StatusInProgress,
		"bank_reconciliation": StatusBankReconciliation,
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
	if got := NormalizeRM(""); got != StatusReceived {
		t.Errorf("NormalizeRM empty = %q", got)
	}
}

func TestNormalizeReview(t *testing.T) {
	if got := NormalizeReview("under_review"); got != ReviewUnder {
		t.Errorf("got %q", got)
	}
	if got := NormalizeReview(""); got != ReviewPending {
		t.Errorf("got %q", got)
	}
}

func TestStatusLabel(t *testing.T) {
	if got := StatusPartiallySettled.Label(); got != "Partially Settled" {
		t.Errorf("got %q", got)
	}
	if got := StatusQCPending.Label(); got != "Qc Pending" {
		t.Errorf("got %q", got)
	}
}

func TestStatusPredicates(t *testing.T) {
	if !StatusSettled.RMEligible() || !StatusDispatched.RMEligible() || StatusQCClear.RMEligible() {
		t.Error("RMEligible mismatch")
	}
	if !StatusQCAnswered.ProcessorActionable() || StatusQCQuery.ProcessorActionable() {
		t.Error("ProcessorActionable mismatch")
	}
	if !StatusReviewed.ReviewEligible() || StatusSettled.ReviewEligible() {
		t.Error("ReviewEligible mismatch")
	}
	if !ReviewApproved.Terminal() || ReviewEscalated.Terminal() {
		t.Error("Terminal mismatch")
	}
	if len(RMStatuses()) != 12 {
		t.Errorf("expected 12 RM statuses, got %d", len(RMStatuses()))
	}
}

func TestTabs(t *testing.T) {
	if s, ok := ProcessorTab(""); !ok || len(s) != 3 {
		t.Errorf("default processor tab: %v %v", s, ok)
	}
	if _, ok := ProcessorTab("archived"); ok {
		t.Error("expected unknown tab to be rejected")
	}
	if s, ok := RMTab("all"); !ok || s != nil {
		t.Errorf("all tab: %v %v", s, ok)
	}
	if s, ok := ReviewGroup("completed"); !ok || len(s) != 3 {
		t.Errorf("completed group: %v %v", s, ok)
	}
}
