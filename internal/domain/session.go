package domain

import "time"

// SessionStatus is derived from the session's constituent jobs; it is never
// stored independently.
type SessionStatus string

const (
	SessionStatusProcessing SessionStatus = "processing"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusFailed     SessionStatus = "failed"
)

// Terminal reports whether the session can still change.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed
}

// Session is a batch submission of files sharing one engine choice and one
// set of requested output formats. Jobs keep submission order and are never
// removed individually.
type Session struct {
	ID               string
	Engine           string
	RequestedFormats []OutputFormat
	Jobs             []Job
	CreatedAt        time.Time
	LastTouchedAt    time.Time
}

// Status derives the session status: failed when every job failed, completed
// when every job is terminal (partial success is still completed), otherwise
// processing.
func (s *Session) Status() SessionStatus {
	if len(s.Jobs) == 0 {
		return SessionStatusCompleted
	}
	allFailed := true
	for i := range s.Jobs {
		switch s.Jobs[i].State {
		case JobStateCompleted:
			allFailed = false
		case JobStateFailed:
		default:
			return SessionStatusProcessing
		}
	}
	if allFailed {
		return SessionStatusFailed
	}
	return SessionStatusCompleted
}

// Progress returns terminal jobs over total jobs.
func (s *Session) Progress() (done, total int) {
	for i := range s.Jobs {
		if s.Jobs[i].State.Terminal() {
			done++
		}
	}
	return done, len(s.Jobs)
}
