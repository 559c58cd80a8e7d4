package domain

import "time"

// LongTermDays is the minimum holding period, in days, for long-term treatment
const LongTermDays = 365

// Term is the holding-period classification of a lot
type Term string

const (
	TermShort Term = "ST"
	TermLong  Term = "LT"
)

// DateOnly truncates t to midnight UTC of its calendar date
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole calendar days from a to b (negative if b precedes a)
func DaysBetween(a, b time.Time) int {
	return int(DateOnly(b).Sub(DateOnly(a)).Hours() / 24)
}

// HoldingDays returns the days a lot acquired on acquired has been held at asOf
func HoldingDays(acquired, asOf time.Time) int {
	return DaysBetween(acquired, asOf)
}

// TermFor classifies the holding period: LT iff held at least 365 days
func TermFor(acquired, asOf time.Time) Term {
	if HoldingDays(acquired, asOf) >= LongTermDays {
		return TermLong
	}
	return TermShort
}

// ParseDate parses a YYYY-MM-DD date into midnight UTC
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// DateLayout is the storage and wire format for calendar dates
const DateLayout = "2006-01-02"
