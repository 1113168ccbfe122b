package domain

import "time"

// UsageDaily aggregates extraction activity per day and engine. Recorded
// only when a database is configured; the service is fully functional
// without it.
type UsageDaily struct {
	Day           string
	Engine        string
	Submissions   int
	JobsSucceeded int
	JobsFailed    int
	PagesTotal    int
	ElapsedMS     int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
