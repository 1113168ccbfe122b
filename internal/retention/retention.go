// Package retention applies the retention policy to terminal sessions and
// assembles bulk archives of a session's materialized files.
package retention

import (
	"context"
	"fmt"
	"path"
	"time"

	"ocrserver/internal/domain"
	"ocrserver/internal/infra"
	"ocrserver/internal/storage"
	"ocrserver/internal/store"
	"ocrserver/pkg/zip"
)

// Options configures the retention manager.
type Options struct {
	Store  *store.Store
	Files  *storage.FileStore
	Logger infra.Logger
	// Window is how long a terminal session is kept after it was last
	// touched. In-flight sessions are never deleted regardless of age.
	Window time.Duration
	// Interval is the cadence of the background sweep.
	Interval time.Duration
	Clock    func() time.Time
}

// Manager owns session deletion and bulk-archive assembly.
type Manager struct {
	store    *store.Store
	files    *storage.FileStore
	logger   infra.Logger
	window   time.Duration
	interval time.Duration
	clock    func() time.Time
}

// NewManager constructs a Manager with sane defaults.
func NewManager(opts Options) *Manager {
	window := opts.Window
	if window <= 0 {
		window = 24 * time.Hour
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		store:    opts.Store,
		files:    opts.Files,
		logger:   opts.Logger,
		window:   window,
		interval: interval,
		clock:    clock,
	}
}

// Run executes the sweep on a fixed cadence until ctx is canceled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep deletes every eligible session and reports how many were removed.
// A session is eligible when its derived status is terminal and it was last
// touched longer than the retention window ago.
func (m *Manager) Sweep() int {
	cutoff := m.clock().Add(-m.window)
	removed := 0
	for _, id := range m.store.IDs() {
		session, err := m.store.Peek(id)
		if err != nil {
			continue // deleted concurrently
		}
		if !session.Status().Terminal() || session.LastTouchedAt.After(cutoff) {
			continue
		}
		if err := m.DeleteSession(id); err != nil {
			m.logger.Error().Err(err).Str("session_id", id).Msg("retention: sweep delete failed")
			continue
		}
		removed++
	}
	if removed > 0 {
		m.logger.Info().Int("sessions", removed).Msg("retention: sweep removed sessions")
	}
	return removed
}

// DeleteSession removes the session record and its materialized files as one
// logical operation. The record removal commits the deletion: once it
// succeeds, status and download queries both report not-found, and the file
// subtree is released afterwards.
func (m *Manager) DeleteSession(id string) error {
	if _, err := m.store.Delete(id); err != nil {
		return err
	}
	if err := m.files.RemoveTree(path.Join("sessions", id)); err != nil {
		// The record is already gone; the orphaned subtree is unreachable by
		// any query and is cleared with the rest of the tree at process start.
		m.logger.Warn().Err(err).Str("session_id", id).Msg("retention: remove files failed")
	}
	m.logger.Info().Str("session_id", id).Msg("retention: session deleted")
	return nil
}

// BuildArchive assembles a zip of every materialized file of every completed
// job in the session, reflecting a snapshot of output_files at assembly
// time. It never includes placeholder entries and does not mutate job state.
func (m *Manager) BuildArchive(ctx context.Context, id string) ([]byte, error) {
	session, err := m.store.Snapshot(id)
	if err != nil {
		return nil, err
	}

	var entries []zip.Entry
	seen := make(map[string]int)
	for i := range session.Jobs {
		job := &session.Jobs[i]
		if job.State != domain.JobStateCompleted {
			continue
		}
		for _, format := range session.RequestedFormats {
			mf, ok := job.OutputFiles[format]
			if !ok {
				continue
			}
			data, err := m.files.Read(ctx, mf.StorageKey)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", mf.StorageKey, err)
			}
			name := mf.Filename
			if n := seen[name]; n > 0 {
				name = fmt.Sprintf("%d-%s", n+1, name)
			}
			seen[mf.Filename]++
			entries = append(entries, zip.Entry{Filename: name, Data: data})
		}
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNothingMaterialized, id)
	}

	return zip.Archive(entries)
}
