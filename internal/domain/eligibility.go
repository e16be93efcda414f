package domain

import "time"

// EligibilityRecord holds the raw inputs from which account eligibility
// is derived. Accounts with no record at all are always eligible; a
// record exists once employment or requirements have been synced.
type EligibilityRecord struct {
	Account      Account
	Employed     bool
	CliffEnd     time.Time
	GoalRef      string
	GoalRequired bool
}

// Eligible derives the eligibility boolean. goalAchieved resolves goal
// references so the record itself stays free of cross-account state.
func (r EligibilityRecord) Eligible(now time.Time, goalAchieved func(string) bool) bool {
	if !r.Employed {
		return false
	}
	if now.Before(r.CliffEnd) {
		return false
	}
	if r.GoalRequired && !goalAchieved(r.GoalRef) {
		return false
	}
	return true
}
