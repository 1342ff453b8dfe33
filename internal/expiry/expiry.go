// Package expiry holds the pure date logic the rest of the service derives
// its decisions from: classifying a product against its expiry date and
// computing the date on which reminders should start.
package expiry

import "time"

// Status describes how close a product is to its expiry date.
type Status string

const (
	StatusSafe         Status = "safe"
	StatusExpiringSoon Status = "expiring_soon"
	StatusExpired      Status = "expired"
)

// DefaultThresholdDays is the canonical window, in days, within which a
// product counts as expiring soon and reminders fire.
const DefaultThresholdDays = 90

// Policy carries the reminder window. The threshold is configuration, not
// part of the algorithm, so different deployments can tighten it.
type Policy struct {
	ThresholdDays int
}

// DefaultPolicy returns the canonical 90-day policy.
func DefaultPolicy() Policy {
	return Policy{ThresholdDays: DefaultThresholdDays}
}

// Day normalizes a timestamp to midnight UTC. All day arithmetic in this
// package goes through Day so results are stable across time-of-day and
// timezone boundaries.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysUntil returns the whole number of days from today until expiry.
// Negative when the expiry date is in the past.
func DaysUntil(expiryDate, today time.Time) int {
	diff := Day(expiryDate).Sub(Day(today))
	return int(diff / (24 * time.Hour))
}

// Classify maps (expiry date, evaluation date) to a Status:
//
//	d < 0            -> expired
//	0 <= d <= window -> expiring_soon
//	d > window       -> safe
//
// Pure and deterministic; the persisted status column is only a cache of
// this function's output.
func (p Policy) Classify(expiryDate, today time.Time) Status {
	d := DaysUntil(expiryDate, today)
	switch {
	case d < 0:
		return StatusExpired
	case d <= p.ThresholdDays:
		return StatusExpiringSoon
	default:
		return StatusSafe
	}
}

// ReminderDate returns the day reminders should start for a product.
// Products expiring beyond the threshold are reminded threshold days ahead;
// anything already inside the window (or already expired) is reminded today.
// The result is never after the expiry date unless the product is already
// past it, in which case it is today.
func (p Policy) ReminderDate(expiryDate, today time.Time) time.Time {
	if DaysUntil(expiryDate, today) > p.ThresholdDays {
		return Day(expiryDate).AddDate(0, 0, -p.ThresholdDays)
	}
	return Day(today)
}
