package workflow

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/cyclecount_backend/models"
	"bitbucket.org/mmdatafocus/cyclecount_backend/utils"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 14, hour, minute, 0, 0, time.UTC)
}

func TestEligibleToCount_RequiresCanCount(t *testing.T) {
	profile := CounterProfile{UserId: 1, CanCount: false}
	if EligibleToCount(profile, "A", at(10, 0)) {
		t.Fatal("profile without can_count was eligible")
	}
}

func TestEligibleToCount_ZoneRestrictions(t *testing.T) {
	cases := []struct {
		name     string
		zones    []string
		zone     string
		eligible bool
	}{
		{"no restriction", nil, "B", true},
		{"zone match", []string{"A"}, "A", true},
		{"zone match case insensitive", []string{"a"}, "A", true},
		{"zone mismatch", []string{"A"}, "B", false},
		{"unzoned journal always allowed", []string{"A"}, "", true},
		{"multi zone", []string{"A", "C"}, "C", true},
	}
	for _, tc := range cases {
		profile := CounterProfile{UserId: 1, CanCount: true, Zones: tc.zones}
		if got := EligibleToCount(profile, tc.zone, at(10, 0)); got != tc.eligible {
			t.Fatalf("%s: eligible = %v, want %v", tc.name, got, tc.eligible)
		}
	}
}

func TestEligibleToCount_ShiftWindow(t *testing.T) {
	cases := []struct {
		name     string
		start    string
		end      string
		now      time.Time
		eligible bool
	}{
		{"no shift bounds", "", "", at(3, 0), true},
		{"inside day shift", "08:00", "17:00", at(9, 30), true},
		{"before day shift", "08:00", "17:00", at(7, 59), false},
		{"after day shift", "08:00", "17:00", at(17, 0), false},
		{"night shift late evening", "22:00", "06:00", at(23, 15), true},
		{"night shift early morning", "22:00", "06:00", at(3, 0), true},
		{"night shift midday", "22:00", "06:00", at(12, 0), false},
		{"unparseable bounds are ignored", "soon", "later", at(12, 0), true},
	}
	for _, tc := range cases {
		profile := CounterProfile{UserId: 1, CanCount: true, ShiftStart: tc.start, ShiftEnd: tc.end}
		if got := EligibleToCount(profile, "", tc.now); got != tc.eligible {
			t.Fatalf("%s: eligible = %v, want %v", tc.name, got, tc.eligible)
		}
	}
}

func TestProfileFromUser(t *testing.T) {
	user := &models.User{
		ID:         42,
		Zones:      "A; B ;;C",
		ShiftStart: "08:00",
		ShiftEnd:   "17:00",
		Role:       models.Role{Tier: models.TierOperator, CanCount: utils.NewTrue()},
	}
	profile := ProfileFromUser(user)
	if profile.UserId != 42 || !profile.CanCount {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if len(profile.Zones) != 3 || profile.Zones[0] != "A" || profile.Zones[1] != "B" || profile.Zones[2] != "C" {
		t.Fatalf("zones parsed as %v", profile.Zones)
	}

	supervisor := &models.User{ID: 7, Role: models.Role{Tier: models.TierSupervisor, CanCount: utils.NewFalse()}}
	if ProfileFromUser(supervisor).CanCount {
		t.Fatal("supervisor with can_count=false parsed as counter")
	}
}
