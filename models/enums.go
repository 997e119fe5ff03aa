package models

import "fmt"

type JournalStatus string

const (
	JournalStatusPending     JournalStatus = "Pending"
	JournalStatusAssigned    JournalStatus = "Assigned"
	JournalStatusInProgress  JournalStatus = "InProgress"
	JournalStatusSubmitted   JournalStatus = "Submitted"
	JournalStatusUnderReview JournalStatus = "UnderReview"
	JournalStatusApproved    JournalStatus = "Approved"
	JournalStatusRejected    JournalStatus = "Rejected"
	JournalStatusReconciled  JournalStatus = "Reconciled"
)

func ParseJournalStatus(s string) (JournalStatus, error) {
	switch JournalStatus(s) {
	case JournalStatusPending, JournalStatusAssigned, JournalStatusInProgress,
		JournalStatusSubmitted, JournalStatusUnderReview, JournalStatusApproved,
		JournalStatusRejected, JournalStatusReconciled:
		return JournalStatus(s), nil
	}
	return "", fmt.Errorf("invalid journal status %q", s)
}

// Claimable reports whether a journal in this status can be claimed from the
// dispatch pool. Rejected journals re-enter the pool for a recount pass.
func (s JournalStatus) Claimable() bool {
	return s == JournalStatusPending || s == JournalStatusRejected
}

func (s JournalStatus) Terminal() bool {
	return s == JournalStatusReconciled
}

type LineStatus string

const (
	LineStatusUncounted        LineStatus = "Uncounted"
	LineStatusCounted          LineStatus = "Counted"
	LineStatusSkipped          LineStatus = "Skipped"
	LineStatusRecountRequested LineStatus = "RecountRequested"
)

// Resolved reports whether the line no longer blocks journal submission.
func (s LineStatus) Resolved() bool {
	return s == LineStatusCounted || s == LineStatusSkipped
}

type VarianceSeverity string

const (
	VarianceSeverityNone     VarianceSeverity = "None"
	VarianceSeverityMinor    VarianceSeverity = "Minor"
	VarianceSeverityMajor    VarianceSeverity = "Major"
	VarianceSeverityCritical VarianceSeverity = "Critical"
)

// Rank orders severities so the engine can take the maximum across lines.
func (s VarianceSeverity) Rank() int {
	switch s {
	case VarianceSeverityCritical:
		return 3
	case VarianceSeverityMajor:
		return 2
	case VarianceSeverityMinor:
		return 1
	default:
		return 0
	}
}

func MaxSeverity(a, b VarianceSeverity) VarianceSeverity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ApprovalTier is the authority level required to sign off a journal.
// Tier 0 is an operator with no approval authority.
type ApprovalTier int

const (
	TierOperator   ApprovalTier = 0
	TierLead       ApprovalTier = 1
	TierSupervisor ApprovalTier = 2
	TierManager    ApprovalTier = 3
)

func (t ApprovalTier) String() string {
	switch t {
	case TierOperator:
		return "Operator"
	case TierLead:
		return "Lead"
	case TierSupervisor:
		return "Supervisor"
	case TierManager:
		return "Manager"
	}
	return fmt.Sprintf("Tier(%d)", int(t))
}

// RequiredTier maps a journal's worst variance severity to the minimum
// authority that may approve it.
func RequiredTier(worst VarianceSeverity) ApprovalTier {
	switch worst {
	case VarianceSeverityCritical:
		return TierManager
	case VarianceSeverityMajor:
		return TierSupervisor
	default:
		return TierLead
	}
}

type ApprovalAction string

const (
	ApprovalActionApprove  ApprovalAction = "Approve"
	ApprovalActionReject   ApprovalAction = "Reject"
	ApprovalActionEscalate ApprovalAction = "Escalate"
)

func ParseApprovalAction(s string) (ApprovalAction, error) {
	switch ApprovalAction(s) {
	case ApprovalActionApprove, ApprovalActionReject, ApprovalActionEscalate:
		return ApprovalAction(s), nil
	}
	return "", fmt.Errorf("invalid approval action %q", s)
}

type PlanStatus string

const (
	PlanStatusDraft     PlanStatus = "Draft"
	PlanStatusReleased  PlanStatus = "Released"
	PlanStatusCompleted PlanStatus = "Completed"
	PlanStatusCancelled PlanStatus = "Cancelled"
)

type PlanSelectionMode string

const (
	PlanSelectionModeLocation PlanSelectionMode = "Location"
	PlanSelectionModeItem     PlanSelectionMode = "Item"
	PlanSelectionModeABC      PlanSelectionMode = "ABC"
)

// Event types published through the outbox whenever journal state changes.
const (
	EventJournalCreated    = "journal.created"
	EventJournalClaimed    = "journal.claimed"
	EventJournalReleased   = "journal.released"
	EventJournalReassigned = "journal.reassigned"
	EventJournalSubmitted  = "journal.submitted"
	EventJournalApproved   = "journal.approved"
	EventJournalRejected   = "journal.rejected"
	EventJournalEscalated  = "journal.escalated"
	EventJournalReconciled = "journal.reconciled"
	EventLeaseExpired      = "journal.lease_expired"
	EventPlanClosed        = "plan.closed"
	EventIntegrityFault    = "journal.integrity_fault"
)
