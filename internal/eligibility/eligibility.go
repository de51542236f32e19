// Package eligibility decides whether a donor may give blood again.
package eligibility

import "time"

// DeferralDays is the minimum number of whole days between two donations.
const DeferralDays = 90

const day = 24 * time.Hour

// IsEligible reports whether a donor whose last donation was at last may
// donate at now. A donor who never donated is always eligible. Elapsed time is
// counted in whole days, rounding down.
func IsEligible(last *time.Time, now time.Time) bool {
	if last == nil {
		return true
	}
	return DaysSince(*last, now) >= DeferralDays
}

// NextEligibleDate returns the first instant IsEligible accepts: last plus
// 90 elapsed days, or nil for a donor who never donated.
func NextEligibleDate(last *time.Time) *time.Time {
	if last == nil {
		return nil
	}
	next := last.Add(DeferralDays * day)
	return &next
}

// DaysSince is the floor of the whole days between last and now. It is
// negative when last lies in the future.
func DaysSince(last, now time.Time) int {
	elapsed := now.Sub(last)
	days := int(elapsed / day)
	if elapsed < 0 && elapsed%day != 0 {
		days--
	}
	return days
}
