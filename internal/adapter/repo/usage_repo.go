package repo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ocrserver/internal/domain"
	"ocrserver/internal/infra"
)

// UsageRepositoryPG records extraction activity in PostgreSQL. All methods
// are nil-safe so callers can wire the repository unconditionally and run
// without a database.
type UsageRepositoryPG struct {
	pool   *pgxpool.Pool
	logger infra.Logger
}

// NewUsageRepository constructs the repository. A nil pool disables it.
func NewUsageRepository(pool *pgxpool.Pool, logger infra.Logger) *UsageRepositoryPG {
	return &UsageRepositoryPG{pool: pool, logger: logger}
}

// Enabled reports whether a database is configured.
func (r *UsageRepositoryPG) Enabled() bool {
	return r != nil && r.pool != nil
}

// RecordSubmission upserts the submission counter for today. country is the
// ISO code of the submitting client when GeoIP is configured, else empty.
func (r *UsageRepositoryPG) RecordSubmission(ctx context.Context, engineName string, files int, country string) {
	if !r.Enabled() {
		return
	}
	query := `
INSERT INTO usage_daily (day, engine, submissions, jobs_succeeded, jobs_failed, pages_total, elapsed_ms)
VALUES ($1, $2, $3, 0, 0, 0, 0)
ON CONFLICT (day, engine) DO UPDATE SET
    submissions = usage_daily.submissions + EXCLUDED.submissions,
    updated_at = now();
`
	if _, err := r.pool.Exec(ctx, query, today(), engineName, files); err != nil {
		r.logger.Error().Err(err).Msg("usage: record submission failed")
		return
	}
	if country != "" {
		if _, err := r.pool.Exec(ctx, `
INSERT INTO usage_countries (day, country, submissions)
VALUES ($1, $2, 1)
ON CONFLICT (day, country) DO UPDATE SET
    submissions = usage_countries.submissions + 1;
`, today(), country); err != nil {
			r.logger.Error().Err(err).Msg("usage: record country failed")
		}
	}
}

// RecordJobOutcome upserts job counters for today.
func (r *UsageRepositoryPG) RecordJobOutcome(ctx context.Context, engineName string, succeeded bool, pages int, elapsedMS int64) {
	if !r.Enabled() {
		return
	}
	success, failure := 0, 1
	if succeeded {
		success, failure = 1, 0
	}
	query := `
INSERT INTO usage_daily (day, engine, submissions, jobs_succeeded, jobs_failed, pages_total, elapsed_ms)
VALUES ($1, $2, 0, $3, $4, $5, $6)
ON CONFLICT (day, engine) DO UPDATE SET
    jobs_succeeded = usage_daily.jobs_succeeded + EXCLUDED.jobs_succeeded,
    jobs_failed = usage_daily.jobs_failed + EXCLUDED.jobs_failed,
    pages_total = usage_daily.pages_total + EXCLUDED.pages_total,
    elapsed_ms = usage_daily.elapsed_ms + EXCLUDED.elapsed_ms,
    updated_at = now();
`
	if _, err := r.pool.Exec(ctx, query, today(), engineName, success, failure, pages, elapsedMS); err != nil {
		r.logger.Error().Err(err).Msg("usage: record job outcome failed")
	}
}

// Summary returns today's per-engine aggregates.
func (r *UsageRepositoryPG) Summary(ctx context.Context) ([]domain.UsageDaily, error) {
	if !r.Enabled() {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
SELECT day, engine, submissions, jobs_succeeded, jobs_failed, pages_total, elapsed_ms, created_at, updated_at
FROM usage_daily
WHERE day = $1
ORDER BY engine;
`, today())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.UsageDaily
	for rows.Next() {
		var item domain.UsageDaily
		if err := rows.Scan(
			&item.Day,
			&item.Engine,
			&item.Submissions,
			&item.JobsSucceeded,
			&item.JobsFailed,
			&item.PagesTotal,
			&item.ElapsedMS,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func today() string {
	return time.Now().UTC().Format("2006-01-02")
}
