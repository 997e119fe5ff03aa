package workflow

import (
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/cyclecount_backend/models"
)

// CounterProfile is the slice of a user that dispatch eligibility looks at.
// It is deliberately a plain value so the predicate stays side-effect free
// and testable without a database.
type CounterProfile struct {
	UserId     int
	CanCount   bool
	Zones      []string // empty means all zones
	ShiftStart string   // "HH:MM", empty means any time
	ShiftEnd   string
}

func ProfileFromUser(user *models.User) CounterProfile {
	profile := CounterProfile{
		UserId:     user.ID,
		CanCount:   user.Role.CanCount != nil && *user.Role.CanCount,
		ShiftStart: user.ShiftStart,
		ShiftEnd:   user.ShiftEnd,
	}
	for _, zone := range strings.Split(user.Zones, ";") {
		zone = strings.TrimSpace(zone)
		if zone != "" {
			profile.Zones = append(profile.Zones, zone)
		}
	}
	return profile
}

// EligibleToCount reports whether a counter may claim a journal in the given
// zone at the given instant. Pure predicate, no side effects.
func EligibleToCount(profile CounterProfile, zone string, now time.Time) bool {
	if !profile.CanCount {
		return false
	}
	if !zoneAllowed(profile.Zones, zone) {
		return false
	}
	return withinShift(profile.ShiftStart, profile.ShiftEnd, now)
}

func zoneAllowed(allowed []string, zone string) bool {
	if len(allowed) == 0 || zone == "" {
		return true
	}
	for _, candidate := range allowed {
		if strings.EqualFold(candidate, zone) {
			return true
		}
	}
	return false
}

// withinShift checks "HH:MM" bounds, handling shifts that cross midnight
// (e.g. 22:00 to 06:00).
func withinShift(start, end string, now time.Time) bool {
	if start == "" || end == "" {
		return true
	}
	startMinutes, ok := parseClock(start)
	if !ok {
		return true
	}
	endMinutes, ok := parseClock(end)
	if !ok {
		return true
	}
	nowMinutes := now.Hour()*60 + now.Minute()
	if startMinutes <= endMinutes {
		return nowMinutes >= startMinutes && nowMinutes < endMinutes
	}
	return nowMinutes >= startMinutes || nowMinutes < endMinutes
}

func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
