package service

import "time"

// BillingPeriod returns the first and last day of the calendar month before
// runDate, in runDate's location.
func BillingPeriod(runDate time.Time) (start, end time.Time) {
	first := time.Date(runDate.Year(), runDate.Month(), 1, 0, 0, 0, 0, runDate.Location())
	return first.AddDate(0, -1, 0), first.AddDate(0, 0, -1)
}

func periodKey(start time.Time) string { return start.Format("2006-01") }
