// Package store holds the process-wide registry of sessions and their file
// jobs. It is the single source of truth for job state: every transition goes
// through it, is validated against the job state machine, and is serialized
// per session while unrelated sessions proceed independently.
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"ocrserver/internal/domain"
)

// Update describes one observed job state change, delivered to the
// registered notifier after the mutation committed.
type Update struct {
	SessionID string
	JobID     string
	Filename  string
	State     domain.JobState
	Progress  float64
	Error     *domain.JobError
}

// Notifier receives job updates. Implementations must not call back into the
// store synchronously.
type Notifier func(Update)

type entry struct {
	mu      sync.Mutex
	session domain.Session
}

// Store is the in-memory session registry.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	notify   Notifier
	clock    func() time.Time
}

// New constructs an empty store. A nil clock defaults to time.Now.
func New(clock func() time.Time) *Store {
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		sessions: make(map[string]*entry),
		clock:    clock,
	}
}

// SetNotifier registers the job-update notifier. Must be called before the
// first mutation.
func (s *Store) SetNotifier(n Notifier) {
	s.notify = n
}

// CreateSession registers a new session with one queued job per input, in
// submission order, and returns a snapshot of it.
func (s *Store) CreateSession(engineName string, formats []domain.OutputFormat, inputs []domain.InputDescriptor) domain.Session {
	now := s.clock()
	session := domain.Session{
		ID:               uuid.NewString(),
		Engine:           engineName,
		RequestedFormats: append([]domain.OutputFormat(nil), formats...),
		CreatedAt:        now,
		LastTouchedAt:    now,
	}
	for _, in := range inputs {
		session.Jobs = append(session.Jobs, domain.Job{
			ID:     uuid.NewString(),
			Input:  in,
			Engine: engineName,
			State:  domain.JobStateQueued,
		})
	}

	s.mu.Lock()
	s.sessions[session.ID] = &entry{session: session}
	s.mu.Unlock()

	return cloneSession(&session)
}

// Snapshot returns a copy of the session and refreshes last_touched_at.
// Reading status is otherwise side-effect-free.
func (s *Store) Snapshot(id string) (domain.Session, error) {
	e, err := s.entry(id)
	if err != nil {
		return domain.Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.LastTouchedAt = s.clock()
	return cloneSession(&e.session), nil
}

// Peek returns a copy of the session without touching it. Used by the
// retention sweep so inspection does not reset the retention clock.
func (s *Store) Peek(id string) (domain.Session, error) {
	e, err := s.entry(id)
	if err != nil {
		return domain.Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneSession(&e.session), nil
}

// IDs lists all session ids.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// MarkRunning transitions a job from queued to running.
func (s *Store) MarkRunning(sessionID, jobID string) error {
	return s.transition(sessionID, jobID, domain.JobStateRunning, func(job *domain.Job) {
		job.StartedAt = s.clock()
		job.Progress = 0
	})
}

// SetProgress records a fractional progress indicator for a running job.
// Progress is monotonically non-decreasing; regressions are ignored.
func (s *Store) SetProgress(sessionID, jobID string, progress float64) error {
	e, err := s.entry(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	job := findJob(&e.session, jobID)
	if job == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: job %s", domain.ErrNotFound, jobID)
	}
	if job.State != domain.JobStateRunning || progress <= job.Progress {
		e.mu.Unlock()
		return nil
	}
	if progress > 1 {
		progress = 1
	}
	job.Progress = progress
	update := updateFor(e.session.ID, job)
	e.mu.Unlock()

	s.emit(update)
	return nil
}

// MarkCompleted transitions a running job to completed and attaches its
// materialized outputs. Terminal states are immutable.
func (s *Store) MarkCompleted(sessionID, jobID string, outputs map[domain.OutputFormat]domain.MaterializedFile, failedFormats []domain.OutputFormat, warnings []string, enhanced bool) error {
	return s.transition(sessionID, jobID, domain.JobStateCompleted, func(job *domain.Job) {
		job.OutputFiles = cloneOutputs(outputs)
		job.FailedFormats = append([]domain.OutputFormat(nil), failedFormats...)
		job.Warnings = append([]string(nil), warnings...)
		job.Enhanced = enhanced
		job.Progress = 1
		job.FinishedAt = s.clock()
	})
}

// MarkFailed transitions a running job to failed with the failure kind and
// detail attached.
func (s *Store) MarkFailed(sessionID, jobID string, kind domain.FailureKind, detail string) error {
	return s.transition(sessionID, jobID, domain.JobStateFailed, func(job *domain.Job) {
		job.Error = &domain.JobError{Kind: kind, Detail: detail}
		job.FinishedAt = s.clock()
	})
}

// Delete removes the session record atomically and returns its final
// snapshot so the caller can release materialized files. Once Delete returns,
// no reader can observe the session.
func (s *Store) Delete(id string) (domain.Session, error) {
	s.mu.Lock()
	e, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return domain.Session{}, fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
	}
	delete(s.sessions, id)
	s.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneSession(&e.session), nil
}

func (s *Store) entry(id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
	}
	return e, nil
}

// transition applies a validated state change under the session lock and
// emits the update after the lock is released.
func (s *Store) transition(sessionID, jobID string, next domain.JobState, apply func(*domain.Job)) error {
	e, err := s.entry(sessionID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	job := findJob(&e.session, jobID)
	if job == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: job %s", domain.ErrNotFound, jobID)
	}
	if !job.State.CanTransition(next) {
		from := job.State
		e.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, from, next)
	}
	job.State = next
	apply(job)
	if next.Terminal() {
		e.session.LastTouchedAt = s.clock()
	}
	update := updateFor(e.session.ID, job)
	e.mu.Unlock()

	s.emit(update)
	return nil
}

func (s *Store) emit(u Update) {
	if s.notify != nil {
		s.notify(u)
	}
}

func findJob(session *domain.Session, jobID string) *domain.Job {
	for i := range session.Jobs {
		if session.Jobs[i].ID == jobID {
			return &session.Jobs[i]
		}
	}
	return nil
}

func updateFor(sessionID string, job *domain.Job) Update {
	var jobErr *domain.JobError
	if job.Error != nil {
		copied := *job.Error
		jobErr = &copied
	}
	return Update{
		SessionID: sessionID,
		JobID:     job.ID,
		Filename:  job.Input.Filename,
		State:     job.State,
		Progress:  job.Progress,
		Error:     jobErr,
	}
}

func cloneSession(src *domain.Session) domain.Session {
	out := *src
	out.RequestedFormats = append([]domain.OutputFormat(nil), src.RequestedFormats...)
	out.Jobs = make([]domain.Job, len(src.Jobs))
	for i := range src.Jobs {
		out.Jobs[i] = cloneJob(&src.Jobs[i])
	}
	return out
}

func cloneJob(src *domain.Job) domain.Job {
	out := *src
	out.OutputFiles = cloneOutputs(src.OutputFiles)
	out.FailedFormats = append([]domain.OutputFormat(nil), src.FailedFormats...)
	out.Warnings = append([]string(nil), src.Warnings...)
	if src.Error != nil {
		copied := *src.Error
		out.Error = &copied
	}
	return out
}

func cloneOutputs(src map[domain.OutputFormat]domain.MaterializedFile) map[domain.OutputFormat]domain.MaterializedFile {
	if src == nil {
		return nil
	}
	out := make(map[domain.OutputFormat]domain.MaterializedFile, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
