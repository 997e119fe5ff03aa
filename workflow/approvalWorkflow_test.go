package workflow

import (
	"testing"

	"bitbucket.org/mmdatafocus/cyclecount_backend/models"
)

func TestLineTiers(t *testing.T) {
	records := []*models.VarianceRecord{
		{LineId: 1, Severity: models.VarianceSeverityNone},
		{LineId: 2, Severity: models.VarianceSeverityMinor},
		{LineId: 3, Severity: models.VarianceSeverityMajor},
		{LineId: 4, Severity: models.VarianceSeverityCritical},
	}
	tiers := LineTiers(records)
	if tiers[1] != models.TierLead || tiers[2] != models.TierLead {
		t.Fatalf("clean/minor lines need %s/%s, want Lead", tiers[1], tiers[2])
	}
	if tiers[3] != models.TierSupervisor {
		t.Fatalf("major line needs %s, want Supervisor", tiers[3])
	}
	if tiers[4] != models.TierManager {
		t.Fatalf("critical line needs %s, want Manager", tiers[4])
	}
}

func TestFoldRequiredTier_NoDecisions(t *testing.T) {
	lineTiers := map[int]models.ApprovalTier{
		1: models.TierLead,
		2: models.TierSupervisor,
	}
	if got := FoldRequiredTier(lineTiers, nil); got != models.TierSupervisor {
		t.Fatalf("required = %s, want Supervisor", got)
	}
}

func TestFoldRequiredTier_CoverageLowersRequirement(t *testing.T) {
	lineTiers := map[int]models.ApprovalTier{
		1: models.TierLead,
		2: models.TierSupervisor,
		3: models.TierManager,
	}

	cleared := []decisionCoverage{
		{Tier: models.TierManager, LineIds: []int{3}},
	}
	if got := FoldRequiredTier(lineTiers, cleared); got != models.TierSupervisor {
		t.Fatalf("after manager clears line 3, required = %s, want Supervisor", got)
	}

	cleared = append(cleared, decisionCoverage{Tier: models.TierSupervisor, LineIds: []int{2}})
	if got := FoldRequiredTier(lineTiers, cleared); got != models.TierLead {
		t.Fatalf("after supervisor clears line 2, required = %s, want Lead", got)
	}
}

func TestFoldRequiredTier_InsufficientTierDoesNotCover(t *testing.T) {
	lineTiers := map[int]models.ApprovalTier{
		1: models.TierManager,
	}
	cleared := []decisionCoverage{
		{Tier: models.TierSupervisor, LineIds: []int{1}},
	}
	if got := FoldRequiredTier(lineTiers, cleared); got != models.TierManager {
		t.Fatalf("supervisor decision covered a manager line: required = %s", got)
	}
}

func TestFoldRequiredTier_FloorIsLead(t *testing.T) {
	lineTiers := map[int]models.ApprovalTier{
		1: models.TierLead,
	}
	cleared := []decisionCoverage{
		{Tier: models.TierLead, LineIds: []int{1}},
	}
	if got := FoldRequiredTier(lineTiers, cleared); got != models.TierLead {
		t.Fatalf("fully covered journal required = %s, want Lead floor", got)
	}

	if got := FoldRequiredTier(nil, nil); got != models.TierLead {
		t.Fatalf("empty journal required = %s, want Lead floor", got)
	}
}

// A thirty percent miss demands a supervisor: a lead approving top-level at
// that point must be refused, which DecideJournal enforces by comparing the
// decider's tier against this fold.
func TestFoldRequiredTier_MajorVarianceBlocksLead(t *testing.T) {
	records := []*models.VarianceRecord{
		{LineId: 1, Severity: models.VarianceSeverityNone},
		{LineId: 2, Severity: models.VarianceSeverityMajor},
	}
	required := FoldRequiredTier(LineTiers(records), nil)
	if required != models.TierSupervisor {
		t.Fatalf("required = %s, want Supervisor", required)
	}
	if models.TierLead >= required {
		t.Fatal("lead tier unexpectedly satisfies a Major journal")
	}
}
