package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ocrserver/internal/domain"
	"ocrserver/internal/engine"
	"ocrserver/internal/materialize"
	"ocrserver/internal/storage"
	"ocrserver/internal/store"
)

// fakeEngine is a controllable in-process engine adapter.
type fakeEngine struct {
	name    string
	caps    engine.Capabilities
	extract func(ctx context.Context, in engine.Input) (*domain.ExtractionResult, error)
}

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) Capabilities() engine.Capabilities { return f.caps }

func (f *fakeEngine) Available(ctx context.Context) bool { return true }

func (f *fakeEngine) Extract(ctx context.Context, in engine.Input) (*domain.ExtractionResult, error) {
	return f.extract(ctx, in)
}

var _ engine.Engine = (*fakeEngine)(nil)

func defaultFake() *fakeEngine {
	return &fakeEngine{
		name: "fake",
		caps: engine.Capabilities{
			InputTypes:    map[string]string{"application/pdf": ".pdf", "image/png": ".png"},
			OutputFormats: domain.AllFormats,
		},
		extract: func(ctx context.Context, in engine.Input) (*domain.ExtractionResult, error) {
			return &domain.ExtractionResult{
				Markdown:   "# " + in.Filename,
				PageCount:  1,
				Confidence: 0.9,
				Engine:     "fake",
			}, nil
		},
	}
}

func newTestScheduler(t *testing.T, fakes ...engine.Engine) (*Scheduler, *store.Store) {
	t.Helper()
	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	sessions := store.New(nil)
	sched := New(context.Background(), Options{
		Store:           sessions,
		Engines:         engine.NewRegistry(fakes...),
		Materializer:    materialize.New(nil),
		Files:           files,
		Logger:          zerolog.Nop(),
		DispatchTimeout: 2 * time.Second,
		MaxActiveJobs:   2,
	})
	return sched, sessions
}

func submitOne(t *testing.T, sched *Scheduler, req SubmitRequest) domain.Session {
	t.Helper()
	session, err := sched.Submit(req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	sched.Wait()
	return session
}

func pdfFile(name string) SubmitFile {
	return SubmitFile{Filename: name, ContentType: "application/pdf", Data: []byte("pdf-bytes")}
}

func TestSubmitHappyPath(t *testing.T) {
	sched, sessions := newTestScheduler(t, defaultFake())

	submitted := submitOne(t, sched, SubmitRequest{
		Engine:  "fake",
		Formats: []string{"markdown", "json"},
		Files:   []SubmitFile{pdfFile("a.pdf"), pdfFile("b.pdf")},
	})

	final, err := sessions.Peek(submitted.ID)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if final.Status() != domain.SessionStatusCompleted {
		t.Fatalf("session status = %q, want completed", final.Status())
	}
	for _, job := range final.Jobs {
		if job.State != domain.JobStateCompleted || job.Progress != 1 {
			t.Fatalf("job %q state/progress = %q/%v", job.Input.Filename, job.State, job.Progress)
		}
		if len(job.OutputFiles) != 2 {
			t.Fatalf("job %q outputs = %v, want markdown and json", job.Input.Filename, job.OutputFiles)
		}
		for _, format := range []domain.OutputFormat{domain.FormatMarkdown, domain.FormatJSON} {
			mf, ok := job.OutputFiles[format]
			if !ok {
				t.Fatalf("job %q missing %s output", job.Input.Filename, format)
			}
			if mf.Size == 0 || mf.StorageKey == "" {
				t.Fatalf("materialized file = %+v", mf)
			}
		}
	}
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name     string
		req      SubmitRequest
		sentinel error
	}{
		{
			name:     "no files",
			req:      SubmitRequest{Engine: "fake", Formats: []string{"markdown"}},
			sentinel: domain.ErrEmptySubmission,
		},
		{
			name: "empty file",
			req: SubmitRequest{
				Engine:  "fake",
				Formats: []string{"markdown"},
				Files:   []SubmitFile{{Filename: "a.pdf", ContentType: "application/pdf"}},
			},
			sentinel: domain.ErrEmptySubmission,
		},
		{
			name: "unknown engine",
			req: SubmitRequest{
				Engine:  "tesseract",
				Formats: []string{"markdown"},
				Files:   []SubmitFile{pdfFile("a.pdf")},
			},
			sentinel: domain.ErrUnknownEngine,
		},
		{
			name: "invalid format",
			req: SubmitRequest{
				Engine:  "fake",
				Formats: []string{"docx"},
				Files:   []SubmitFile{pdfFile("a.pdf")},
			},
			sentinel: domain.ErrInvalidFormat,
		},
		{
			name: "unsupported input type",
			req: SubmitRequest{
				Engine:  "fake",
				Formats: []string{"markdown"},
				Files:   []SubmitFile{{Filename: "clip.mp4", ContentType: "video/mp4", Data: []byte("x")}},
			},
			sentinel: domain.ErrUnsupportedInput,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sched, sessions := newTestScheduler(t, defaultFake())
			_, err := sched.Submit(tc.req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Submit error = %v, want ValidationError", err)
			}
			if !errors.Is(err, tc.sentinel) {
				t.Fatalf("Submit error = %v, want wrapped %v", err, tc.sentinel)
			}
			if ids := sessions.IDs(); len(ids) != 0 {
				t.Fatalf("validation failure created sessions: %v", ids)
			}
		})
	}
}

func TestSubmitRejectedWhenNoRequestedFormatSupported(t *testing.T) {
	fake := defaultFake()
	fake.caps.OutputFormats = []domain.OutputFormat{domain.FormatMarkdown}
	sched, _ := newTestScheduler(t, fake)

	_, err := sched.Submit(SubmitRequest{
		Engine:  "fake",
		Formats: []string{"json"},
		Files:   []SubmitFile{pdfFile("a.pdf")},
	})
	if !errors.Is(err, domain.ErrInvalidFormat) {
		t.Fatalf("Submit error = %v, want ErrInvalidFormat", err)
	}
}

func TestUnsupportedFormatsAreSimplyAbsent(t *testing.T) {
	fake := defaultFake()
	fake.caps.OutputFormats = []domain.OutputFormat{domain.FormatMarkdown, domain.FormatHTML}
	sched, sessions := newTestScheduler(t, fake)

	submitted := submitOne(t, sched, SubmitRequest{
		Engine:  "fake",
		Formats: []string{"markdown", "json", "html"},
		Files:   []SubmitFile{pdfFile("a.pdf")},
	})

	final, _ := sessions.Peek(submitted.ID)
	job := final.Jobs[0]
	if job.State != domain.JobStateCompleted {
		t.Fatalf("job state = %q, want completed", job.State)
	}
	if _, ok := job.OutputFiles[domain.FormatJSON]; ok {
		t.Fatalf("unsupported format materialized: %v", job.OutputFiles)
	}
	if len(job.OutputFiles) != 2 {
		t.Fatalf("outputs = %v, want markdown and html only", job.OutputFiles)
	}
	if len(job.FailedFormats) != 0 {
		t.Fatalf("unsupported format must not count as failed: %v", job.FailedFormats)
	}
}

func TestEngineFailureFailsJob(t *testing.T) {
	fake := defaultFake()
	fake.extract = func(ctx context.Context, in engine.Input) (*domain.ExtractionResult, error) {
		return nil, fmt.Errorf("%w: worker crashed", domain.ErrEngineFailure)
	}
	sched, sessions := newTestScheduler(t, fake)

	submitted := submitOne(t, sched, SubmitRequest{
		Engine:  "fake",
		Formats: []string{"markdown"},
		Files:   []SubmitFile{pdfFile("a.pdf")},
	})

	final, _ := sessions.Peek(submitted.ID)
	job := final.Jobs[0]
	if job.State != domain.JobStateFailed {
		t.Fatalf("job state = %q, want failed", job.State)
	}
	if job.Error == nil || job.Error.Kind != domain.FailureKindEngine {
		t.Fatalf("job error = %+v, want engine kind", job.Error)
	}
	if final.Status() != domain.SessionStatusFailed {
		t.Fatalf("session status = %q, want failed", final.Status())
	}
}

func TestEngineTimeoutClassified(t *testing.T) {
	fake := defaultFake()
	fake.extract = func(ctx context.Context, in engine.Input) (*domain.ExtractionResult, error) {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %v", domain.ErrEngineTimeout, ctx.Err())
	}

	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	sessions := store.New(nil)
	sched := New(context.Background(), Options{
		Store:           sessions,
		Engines:         engine.NewRegistry(fake),
		Materializer:    materialize.New(nil),
		Files:           files,
		Logger:          zerolog.Nop(),
		DispatchTimeout: 20 * time.Millisecond,
		MaxActiveJobs:   1,
	})

	submitted := submitOne(t, sched, SubmitRequest{
		Engine:  "fake",
		Formats: []string{"markdown"},
		Files:   []SubmitFile{pdfFile("slow.pdf")},
	})

	final, _ := sessions.Peek(submitted.ID)
	job := final.Jobs[0]
	if job.State != domain.JobStateFailed {
		t.Fatalf("job state = %q, want failed", job.State)
	}
	if job.Error == nil || job.Error.Kind != domain.FailureKindTimeout {
		t.Fatalf("job error = %+v, want timeout kind", job.Error)
	}
}

func TestPartialBatchFailure(t *testing.T) {
	fake := defaultFake()
	fake.extract = func(ctx context.Context, in engine.Input) (*domain.ExtractionResult, error) {
		if in.Filename == "bad.pdf" {
			return nil, fmt.Errorf("%w: unreadable", domain.ErrEngineFailure)
		}
		return &domain.ExtractionResult{Markdown: "ok", PageCount: 1, Engine: "fake"}, nil
	}
	sched, sessions := newTestScheduler(t, fake)

	submitted := submitOne(t, sched, SubmitRequest{
		Engine:  "fake",
		Formats: []string{"markdown"},
		Files:   []SubmitFile{pdfFile("good.pdf"), pdfFile("bad.pdf")},
	})

	final, _ := sessions.Peek(submitted.ID)
	if final.Status() != domain.SessionStatusCompleted {
		t.Fatalf("session status = %q, want completed on partial success", final.Status())
	}
	byName := make(map[string]domain.Job)
	for _, job := range final.Jobs {
		byName[job.Input.Filename] = job
	}
	if byName["good.pdf"].State != domain.JobStateCompleted {
		t.Fatalf("good job state = %q", byName["good.pdf"].State)
	}
	if byName["bad.pdf"].State != domain.JobStateFailed {
		t.Fatalf("bad job state = %q", byName["bad.pdf"].State)
	}
}

func TestMaxPagesAndEnhanceFlagsReachEngine(t *testing.T) {
	var gotOpts engine.ExtractOptions
	fake := defaultFake()
	fake.caps.Enhancement = true
	fake.extract = func(ctx context.Context, in engine.Input) (*domain.ExtractionResult, error) {
		gotOpts = in.Options
		return &domain.ExtractionResult{Markdown: "ok", Engine: "fake"}, nil
	}
	sched, _ := newTestScheduler(t, fake)

	submitOne(t, sched, SubmitRequest{
		Engine:   "fake",
		Formats:  []string{"markdown"},
		Enhance:  true,
		MaxPages: 7,
		Files:    []SubmitFile{pdfFile("a.pdf")},
	})

	if !gotOpts.Enhance || gotOpts.MaxPages != 7 {
		t.Fatalf("options = %+v", gotOpts)
	}
}

// hookedFiles runs a hook just before a write lands, so a test can interleave
// a session deletion with materialization.
type hookedFiles struct {
	*storage.FileStore
	beforeWrite func()
}

func (h *hookedFiles) Write(ctx context.Context, key string, data []byte) (string, error) {
	if h.beforeWrite != nil {
		h.beforeWrite()
	}
	return h.FileStore.Write(ctx, key, data)
}

func TestDeleteDuringMaterializationLeavesNoFiles(t *testing.T) {
	dir := t.TempDir()
	files, err := storage.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	sessions := store.New(nil)

	// The deletion commits after the session record exists but before the
	// job's output file is written.
	idReady := make(chan string, 1)
	hooked := &hookedFiles{FileStore: files}
	hooked.beforeWrite = func() {
		id := <-idReady
		if _, err := sessions.Delete(id); err != nil {
			t.Errorf("Delete: %v", err)
		}
		if err := files.RemoveTree(path.Join("sessions", id)); err != nil {
			t.Errorf("RemoveTree: %v", err)
		}
	}

	sched := New(context.Background(), Options{
		Store:           sessions,
		Engines:         engine.NewRegistry(defaultFake()),
		Materializer:    materialize.New(nil),
		Files:           hooked,
		Logger:          zerolog.Nop(),
		DispatchTimeout: 2 * time.Second,
		MaxActiveJobs:   1,
	})

	submitted, err := sched.Submit(SubmitRequest{
		Engine:  "fake",
		Formats: []string{"markdown"},
		Files:   []SubmitFile{pdfFile("a.pdf")},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	idReady <- submitted.ID
	sched.Wait()

	if _, err := sessions.Peek(submitted.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Peek after delete = %v, want ErrNotFound", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "sessions", submitted.ID)); !os.IsNotExist(err) {
		t.Fatalf("session subtree survived deletion: stat err = %v", err)
	}
}

func TestShutdownCancellationClassifiedInternal(t *testing.T) {
	started := make(chan struct{})
	fake := defaultFake()
	fake.extract = func(ctx context.Context, in engine.Input) (*domain.ExtractionResult, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}

	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	sessions := store.New(nil)
	baseCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched := New(baseCtx, Options{
		Store:           sessions,
		Engines:         engine.NewRegistry(fake),
		Materializer:    materialize.New(nil),
		Files:           files,
		Logger:          zerolog.Nop(),
		DispatchTimeout: 2 * time.Second,
		MaxActiveJobs:   1,
	})

	submitted, err := sched.Submit(SubmitRequest{
		Engine:  "fake",
		Formats: []string{"markdown"},
		Files:   []SubmitFile{pdfFile("a.pdf")},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started
	cancel()
	sched.Wait()

	final, err := sessions.Peek(submitted.ID)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	job := final.Jobs[0]
	if job.State != domain.JobStateFailed {
		t.Fatalf("job state = %q, want failed", job.State)
	}
	if job.Error == nil || job.Error.Kind != domain.FailureKindInternal {
		t.Fatalf("job error = %+v, want internal kind", job.Error)
	}
	if job.Error.Detail != "service shutting down" {
		t.Fatalf("job error detail = %q", job.Error.Detail)
	}
}

func TestEnhanceSuppressedWithoutCapability(t *testing.T) {
	var gotOpts engine.ExtractOptions
	fake := defaultFake()
	fake.caps.Enhancement = false
	fake.extract = func(ctx context.Context, in engine.Input) (*domain.ExtractionResult, error) {
		gotOpts = in.Options
		return &domain.ExtractionResult{Markdown: "ok", Engine: "fake"}, nil
	}
	sched, _ := newTestScheduler(t, fake)

	submitOne(t, sched, SubmitRequest{
		Engine:  "fake",
		Formats: []string{"markdown"},
		Enhance: true,
		Files:   []SubmitFile{pdfFile("a.pdf")},
	})

	if gotOpts.Enhance {
		t.Fatalf("enhance flag passed to an engine without the capability")
	}
}
