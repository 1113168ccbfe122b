package domain

import "time"

// JobState enumerates the per-file lifecycle states.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// CanTransition reports whether moving from s to next is a legal edge of the
// job state machine: queued → running → {completed, failed}.
func (s JobState) CanTransition(next JobState) bool {
	switch s {
	case JobStateQueued:
		return next == JobStateRunning
	case JobStateRunning:
		return next == JobStateCompleted || next == JobStateFailed
	default:
		return false
	}
}

// FailureKind distinguishes machine-readable failure categories on a job.
type FailureKind string

const (
	FailureKindEngine   FailureKind = "engine"
	FailureKindTimeout  FailureKind = "timeout"
	FailureKindFormat   FailureKind = "format"
	FailureKindInternal FailureKind = "internal"
)

// JobError carries a failure kind plus human-readable detail.
type JobError struct {
	Kind   FailureKind `json:"kind"`
	Detail string      `json:"detail"`
}

// InputDescriptor describes the uploaded file a job is responsible for.
type InputDescriptor struct {
	Filename    string
	ContentType string
	Size        int64
	// PageCount is best-effort metadata inspected at submission (PDF inputs
	// only); zero when unknown.
	PageCount int
}

// MaterializedFile is one concrete output artifact for one job.
type MaterializedFile struct {
	JobID      string
	Format     OutputFormat
	Filename   string
	StorageKey string
	Size       int64
	CreatedAt  time.Time
}

// Job tracks one file's extraction and materialization. State transitions are
// owned exclusively by the scheduler through the session store.
type Job struct {
	ID       string
	Input    InputDescriptor
	Engine   string
	State    JobState
	Progress float64
	// OutputFiles is populated only when State is completed and holds exactly
	// the requested formats the engine supported and that materialized.
	OutputFiles map[OutputFormat]MaterializedFile
	// FailedFormats records requested formats whose materialization failed
	// while the job itself still completed.
	FailedFormats []OutputFormat
	// Warnings surfaces degradations such as a failed enhancement pass.
	Warnings   []string
	Error      *JobError
	Enhanced   bool
	StartedAt  time.Time
	FinishedAt time.Time
}
