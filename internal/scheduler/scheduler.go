// Package scheduler accepts batch submissions, creates one job per file and
// drives each job through dispatch, materialization and its terminal state.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"ocrserver/internal/domain"
	"ocrserver/internal/engine"
	"ocrserver/internal/infra"
	"ocrserver/internal/materialize"
	"ocrserver/internal/store"
)

// OutputStore persists materialized files and releases whole session trees.
// *storage.FileStore is the production implementation.
type OutputStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
	RemoveTree(key string) error
}

// SubmitFile is one uploaded file in a batch submission.
type SubmitFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// SubmitRequest is a validated-on-entry batch submission.
type SubmitRequest struct {
	Engine   string
	Formats  []string
	Enhance  bool
	MaxPages int
	Files    []SubmitFile
}

// ValidationError is reported synchronously at submission time; it never
// produces a session or jobs.
type ValidationError struct {
	msg string
	err error
}

func (e *ValidationError) Error() string { return e.msg }
func (e *ValidationError) Unwrap() error { return e.err }

func validationErrf(err error, format string, args ...any) *ValidationError {
	return &ValidationError{msg: fmt.Sprintf(format, args...), err: err}
}

// OutcomeRecorder receives job outcomes for usage accounting. Implementations
// must tolerate a nil receiver being skipped entirely.
type OutcomeRecorder interface {
	RecordJobOutcome(ctx context.Context, engineName string, succeeded bool, pages int, elapsedMS int64)
}

// Options wires the scheduler's collaborators.
type Options struct {
	Store        *store.Store
	Engines      *engine.Registry
	Materializer *materialize.Materializer
	Files        OutputStore
	Logger       infra.Logger
	// DispatchTimeout bounds a single engine call. Exceeding it fails the job
	// with a timeout kind and releases the outbound call.
	DispatchTimeout time.Duration
	// MaxActiveJobs bounds concurrently dispatched jobs across all sessions.
	MaxActiveJobs int
	Usage         OutcomeRecorder
}

// Scheduler owns job state transitions. Jobs of one session run concurrently
// with each other and with other sessions' jobs; each job is dispatched at
// most once.
type Scheduler struct {
	store        *store.Store
	engines      *engine.Registry
	materializer *materialize.Materializer
	files        OutputStore
	logger       infra.Logger
	timeout      time.Duration
	usage        OutcomeRecorder

	baseCtx context.Context
	sem     chan struct{}
	wg      sync.WaitGroup
}

// New constructs a Scheduler. baseCtx bounds all background dispatches; when
// it is canceled, in-flight engine calls are released.
func New(baseCtx context.Context, opts Options) *Scheduler {
	timeout := opts.DispatchTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	active := opts.MaxActiveJobs
	if active <= 0 {
		active = 4
	}
	return &Scheduler{
		store:        opts.Store,
		engines:      opts.Engines,
		materializer: opts.Materializer,
		files:        opts.Files,
		logger:       opts.Logger,
		timeout:      timeout,
		usage:        opts.Usage,
		baseCtx:      baseCtx,
		sem:          make(chan struct{}, active),
	}
}

// Submit validates the batch, registers the session and starts dispatching.
// It returns immediately; results are observed through status queries.
func (s *Scheduler) Submit(req SubmitRequest) (domain.Session, error) {
	if len(req.Files) == 0 {
		return domain.Session{}, validationErrf(domain.ErrEmptySubmission, "no files submitted")
	}

	eng, err := s.engines.Lookup(req.Engine)
	if err != nil {
		return domain.Session{}, validationErrf(err, "unknown engine %q", req.Engine)
	}
	caps := eng.Capabilities()

	formats, err := domain.ParseFormats(req.Formats)
	if err != nil {
		return domain.Session{}, validationErrf(err, "%v", err)
	}
	var supported []domain.OutputFormat
	for _, f := range formats {
		if caps.SupportsFormat(f) {
			supported = append(supported, f)
		}
	}
	if len(supported) == 0 {
		return domain.Session{}, validationErrf(domain.ErrInvalidFormat,
			"engine %q supports none of the requested formats", eng.Name())
	}

	inputs := make([]domain.InputDescriptor, 0, len(req.Files))
	for _, f := range req.Files {
		if len(f.Data) == 0 {
			return domain.Session{}, validationErrf(domain.ErrEmptySubmission, "file %q is empty", f.Filename)
		}
		if !caps.Accepts(f.ContentType, f.Filename) {
			return domain.Session{}, validationErrf(domain.ErrUnsupportedInput,
				"engine %q does not accept %q (%s)", eng.Name(), f.Filename, f.ContentType)
		}
		inputs = append(inputs, domain.InputDescriptor{
			Filename:    f.Filename,
			ContentType: f.ContentType,
			Size:        int64(len(f.Data)),
			PageCount:   inputPageCount(f.ContentType, f.Data),
		})
	}

	session := s.store.CreateSession(eng.Name(), formats, inputs)

	for i := range session.Jobs {
		job := session.Jobs[i]
		data := req.Files[i].Data
		s.wg.Add(1)
		go s.runJob(session.ID, job, eng, engine.Input{
			Filename:    job.Input.Filename,
			ContentType: job.Input.ContentType,
			Data:        data,
			Options: engine.ExtractOptions{
				Enhance:  req.Enhance && caps.Enhancement,
				MaxPages: req.MaxPages,
			},
		})
	}

	s.logger.Info().
		Str("session_id", session.ID).
		Str("engine", eng.Name()).
		Int("files", len(session.Jobs)).
		Msg("scheduler: session submitted")

	return session, nil
}

// Wait blocks until all in-flight jobs finished. Used on shutdown and in
// tests.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runJob(sessionID string, job domain.Job, eng engine.Engine, in engine.Input) {
	defer s.wg.Done()

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-s.baseCtx.Done():
		s.failJob(sessionID, job.ID, domain.FailureKindInternal, "service shutting down")
		return
	}

	if err := s.store.MarkRunning(sessionID, job.ID); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("scheduler: mark running failed")
		return
	}

	started := time.Now()
	ctx, cancel := context.WithTimeout(s.baseCtx, s.timeout)
	result, err := eng.Extract(ctx, in)
	cancel()
	if err != nil {
		kind := domain.FailureKindEngine
		detail := err.Error()
		switch {
		case errors.Is(err, domain.ErrEngineTimeout) || errors.Is(err, context.DeadlineExceeded):
			kind = domain.FailureKindTimeout
		case errors.Is(err, context.Canceled):
			// The base context was canceled, same outcome as losing the
			// semaphore race on shutdown.
			kind = domain.FailureKindInternal
			detail = "service shutting down"
		}
		s.failJob(sessionID, job.ID, kind, detail)
		s.recordOutcome(eng.Name(), false, 0, time.Since(started))
		return
	}

	_ = s.store.SetProgress(sessionID, job.ID, 0.5)

	session, err := s.store.Peek(sessionID)
	if err != nil {
		// Session deleted while the job was running; nothing left to record.
		s.logger.Warn().Str("session_id", sessionID).Msg("scheduler: session vanished mid-job")
		return
	}

	outputs, failedFormats, formatErrs := s.materializeAll(sessionID, job, eng.Capabilities(), session.RequestedFormats, result)

	warnings := append([]string(nil), result.Warnings...)
	warnings = append(warnings, formatErrs...)

	if len(outputs) == 0 && len(failedFormats) > 0 {
		s.failJob(sessionID, job.ID, domain.FailureKindFormat,
			"all requested formats failed: "+strings.Join(formatErrs, "; "))
		s.recordOutcome(eng.Name(), false, result.PageCount, time.Since(started))
		return
	}

	if err := s.store.MarkCompleted(sessionID, job.ID, outputs, failedFormats, warnings, result.Enhanced); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Session deleted while materializing; the record removal already
			// committed, so release the files this job just wrote.
			s.logger.Warn().Str("session_id", sessionID).Msg("scheduler: session vanished mid-job")
			if rmErr := s.files.RemoveTree(path.Join("sessions", sessionID)); rmErr != nil {
				s.logger.Warn().Err(rmErr).Str("session_id", sessionID).Msg("scheduler: release orphaned outputs failed")
			}
			return
		}
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("scheduler: mark completed failed")
		return
	}
	s.recordOutcome(eng.Name(), true, result.PageCount, time.Since(started))

	s.logger.Info().
		Str("session_id", sessionID).
		Str("job_id", job.ID).
		Str("file", job.Input.Filename).
		Int("formats", len(outputs)).
		Msg("scheduler: job completed")
}

// materializeAll renders the requested engine-supported formats concurrently.
// Unsupported formats are simply absent; a failed materialization is recorded
// and the remaining formats still complete the job.
func (s *Scheduler) materializeAll(sessionID string, job domain.Job, caps engine.Capabilities, requested []domain.OutputFormat, result *domain.ExtractionResult) (map[domain.OutputFormat]domain.MaterializedFile, []domain.OutputFormat, []string) {
	var formats []domain.OutputFormat
	for _, f := range requested {
		if caps.SupportsFormat(f) {
			formats = append(formats, f)
		}
	}

	var (
		mu            sync.Mutex
		outputs       = make(map[domain.OutputFormat]domain.MaterializedFile)
		failedFormats []domain.OutputFormat
		formatErrs    []string
		finished      int
		wg            sync.WaitGroup
	)

	step := 0.5 / float64(len(formats))
	for _, format := range formats {
		wg.Add(1)
		go func(format domain.OutputFormat) {
			defer wg.Done()

			file, err := s.materializer.Materialize(result, format, job.Input.Filename)
			if err == nil {
				key := path.Join("sessions", sessionID, job.ID, file.Name)
				var savedKey string
				savedKey, err = s.files.Write(s.baseCtx, key, file.Data)
				if err == nil {
					mu.Lock()
					outputs[format] = domain.MaterializedFile{
						JobID:      job.ID,
						Format:     format,
						Filename:   file.Name,
						StorageKey: savedKey,
						Size:       int64(len(file.Data)),
						CreatedAt:  time.Now(),
					}
					mu.Unlock()
				}
			}
			if err != nil {
				s.logger.Error().Err(err).
					Str("job_id", job.ID).
					Str("format", string(format)).
					Msg("scheduler: materialization failed")
				mu.Lock()
				failedFormats = append(failedFormats, format)
				formatErrs = append(formatErrs, fmt.Sprintf("format %s: %v", format, err))
				mu.Unlock()
			}
			mu.Lock()
			finished++
			progress := 0.5 + step*float64(finished)
			mu.Unlock()
			_ = s.store.SetProgress(sessionID, job.ID, progress)
		}(format)
	}
	wg.Wait()

	return outputs, failedFormats, formatErrs
}

func (s *Scheduler) failJob(sessionID, jobID string, kind domain.FailureKind, detail string) {
	if err := s.store.MarkFailed(sessionID, jobID, kind, detail); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("scheduler: mark failed failed")
		return
	}
	s.logger.Warn().
		Str("session_id", sessionID).
		Str("job_id", jobID).
		Str("kind", string(kind)).
		Str("detail", detail).
		Msg("scheduler: job failed")
}

func (s *Scheduler) recordOutcome(engineName string, succeeded bool, pages int, elapsed time.Duration) {
	if s.usage == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.usage.RecordJobOutcome(ctx, engineName, succeeded, pages, elapsed.Milliseconds())
}
