package policy

import (
	"time"

	"entryminder/internal/reminder"
)

// Firing-time formulas. These are design contracts; change them only with the
// product owner in the room.
const (
	// WindowOpenLead is how far before arrival the submission window opens.
	WindowOpenLead = 7 * 24 * time.Hour

	// UrgentLead is the last-day nudge offset.
	UrgentLead = 24 * time.Hour

	// deadlineAnchorHour is the local hour of the first deadline firing.
	deadlineAnchorHour = 8

	// deadlineStep spaces the repeat firings (12:00, 16:00, 20:00).
	deadlineStep = 4 * time.Hour
)

// WindowOpenTime returns arrival − 7 days.
func WindowOpenTime(arrival time.Time) time.Time { return arrival.Add(-WindowOpenLead) }

// UrgentTime returns arrival − 24 hours.
func UrgentTime(arrival time.Time) time.Time { return arrival.Add(-UrgentLead) }

// DeadlineTimes returns the four deadline-day firings: 08:00 local on the
// arrival date, then +4h, +8h, +12h. The caller filters past instants; a
// partially-past series still schedules its future members.
func DeadlineTimes(arrival time.Time, loc *time.Location) []time.Time {
	if loc == nil {
		loc = time.Local
	}
	a := arrival.In(loc)
	first := time.Date(a.Year(), a.Month(), a.Day(), deadlineAnchorHour, 0, 0, 0, loc)
	out := make([]time.Time, 0, reminder.MaxRepeats+1)
	for i := 0; i <= reminder.MaxRepeats; i++ {
		out = append(out, first.Add(time.Duration(i)*deadlineStep))
	}
	return out
}

// ExpiryTimes maps an ordered offsets-before-expiry list to firing instants.
// The list is opaque configuration; one record per offset.
func ExpiryTimes(expiry time.Time, offsets []time.Duration) []time.Time {
	out := make([]time.Time, 0, len(offsets))
	for _, off := range offsets {
		out = append(out, expiry.Add(-off))
	}
	return out
}

// ExpireThreshold returns the instant after which an active record counts as
// past its logical window.
//
// DeadlineRepeat keeps a day of grace past the arrival date (threshold is
// midnight after the arrival day); the other types expire at their own firing
// time. The asymmetry is inherited behavior, kept as observed.
func ExpireThreshold(r reminder.Record, loc *time.Location) time.Time {
	if r.Type != reminder.TypeDeadlineRepeat {
		return r.FiringTime
	}
	if loc == nil {
		loc = time.Local
	}
	f := r.FiringTime.In(loc)
	day := time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, loc)
	return day.AddDate(0, 0, 1)
}
