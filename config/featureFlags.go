package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LeaseSweepEnabled turns on the background sweep that requeues expired
// journal claims. Lazy expiry-on-access stays authoritative either way;
// the sweep only shortens how long an abandoned journal sits Assigned.
//
// Set via env:
// - LEASE_SWEEP_ENABLED=true
func LeaseSweepEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("LEASE_SWEEP_ENABLED")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// ClaimLeaseDuration is how long an operator holds a claimed journal before
// the lease can be reclaimed.
//
// Set via env:
// - CLAIM_LEASE_MINUTES (default 30)
func ClaimLeaseDuration() time.Duration {
	if v := strings.TrimSpace(os.Getenv("CLAIM_LEASE_MINUTES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Minute
		}
	}
	return 30 * time.Minute
}

// AutoApproveCleanJournals lets a journal whose every line classified None
// skip straight from Submitted to Approved without a reviewer decision.
//
// Set via env:
// - AUTO_APPROVE_CLEAN_JOURNALS=true
func AutoApproveCleanJournals() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("AUTO_APPROVE_CLEAN_JOURNALS")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
