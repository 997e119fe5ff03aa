package models

import "testing"

func TestJournalStatusClaimable(t *testing.T) {
	claimable := []JournalStatus{JournalStatusPending, JournalStatusRejected}
	for _, s := range claimable {
		if !s.Claimable() {
			t.Fatalf("%s should be claimable", s)
		}
	}
	notClaimable := []JournalStatus{
		JournalStatusAssigned, JournalStatusInProgress, JournalStatusSubmitted,
		JournalStatusUnderReview, JournalStatusApproved, JournalStatusReconciled,
	}
	for _, s := range notClaimable {
		if s.Claimable() {
			t.Fatalf("%s should not be claimable", s)
		}
	}
}

func TestJournalStatusTerminal(t *testing.T) {
	if !JournalStatusReconciled.Terminal() {
		t.Fatal("Reconciled should be terminal")
	}
	if JournalStatusApproved.Terminal() {
		t.Fatal("Approved should not be terminal")
	}
}

func TestLineStatusResolved(t *testing.T) {
	if !LineStatusCounted.Resolved() || !LineStatusSkipped.Resolved() {
		t.Fatal("Counted and Skipped should resolve a line")
	}
	if LineStatusUncounted.Resolved() || LineStatusRecountRequested.Resolved() {
		t.Fatal("Uncounted and RecountRequested should block submission")
	}
}

func TestMaxSeverity(t *testing.T) {
	if MaxSeverity(VarianceSeverityMinor, VarianceSeverityMajor) != VarianceSeverityMajor {
		t.Fatal("Major should outrank Minor")
	}
	if MaxSeverity(VarianceSeverityCritical, VarianceSeverityNone) != VarianceSeverityCritical {
		t.Fatal("Critical should outrank None")
	}
	if MaxSeverity(VarianceSeverityNone, VarianceSeverityNone) != VarianceSeverityNone {
		t.Fatal("None vs None should stay None")
	}
}

func TestRequiredTier(t *testing.T) {
	cases := map[VarianceSeverity]ApprovalTier{
		VarianceSeverityNone:     TierLead,
		VarianceSeverityMinor:    TierLead,
		VarianceSeverityMajor:    TierSupervisor,
		VarianceSeverityCritical: TierManager,
	}
	for severity, tier := range cases {
		if got := RequiredTier(severity); got != tier {
			t.Fatalf("RequiredTier(%s) = %s, want %s", severity, got, tier)
		}
	}
}

func TestParseJournalStatus(t *testing.T) {
	if _, err := ParseJournalStatus("Pending"); err != nil {
		t.Fatalf("Pending should parse: %v", err)
	}
	if _, err := ParseJournalStatus("NotAStatus"); err == nil {
		t.Fatal("bogus status should not parse")
	}
}

func TestParseApprovalAction(t *testing.T) {
	for _, valid := range []string{"Approve", "Reject", "Escalate"} {
		if _, err := ParseApprovalAction(valid); err != nil {
			t.Fatalf("%s should parse: %v", valid, err)
		}
	}
	if _, err := ParseApprovalAction("Rubber-stamp"); err == nil {
		t.Fatal("unknown action should not parse")
	}
}
