package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/enrichment-cli/internal/apperr"
	"github.com/sells-group/enrichment-cli/internal/db"
	"github.com/sells-group/enrichment-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var (
	pgCompanyUpsert       = mustUpsertSQL(companyUpsert, db.Dollar)
	pgCompanyStatusUpsert = mustUpsertSQL(companyStatusUpsert, db.Dollar)
	pgCheckpointUpsert    = mustUpsertSQL(checkpointUpsert, db.Dollar)
	pgEnrichedUpsert      = mustUpsertSQL(enrichedUpsert, db.Dollar)
	pgYearlyUpsert        = mustUpsertSQL(yearlyUpsert, db.Dollar)
)

// pgClaimJob only succeeds when no other job of the same company is
// processing. The partial unique index rejects the loser of a race between
// two concurrent claims.
const pgClaimJob = `UPDATE enrichment_jobs AS j
SET status = 'processing', attempts = j.attempts + 1, started_at = COALESCE(j.started_at, $2), updated_at = $2
WHERE j.id = $1 AND j.status <> 'completed'
AND NOT EXISTS (
	SELECT 1 FROM enrichment_jobs o
	WHERE o.company_id = j.company_id AND o.status = 'processing' AND o.id <> j.id
)`

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL DEFAULT '',
	business_id       TEXT NOT NULL DEFAULT '',
	enrichment_status TEXT,
	last_enriched_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS enrichment_jobs (
	id                     TEXT PRIMARY KEY,
	company_id             TEXT NOT NULL,
	business_id            TEXT NOT NULL,
	company_name           TEXT NOT NULL,
	user_id                TEXT NOT NULL DEFAULT '',
	config                 JSONB NOT NULL DEFAULT '{}',
	status                 TEXT NOT NULL DEFAULT 'pending',
	module_status          JSONB NOT NULL DEFAULT '{}',
	completed_module_count INTEGER NOT NULL DEFAULT 0,
	pause_done             BOOLEAN NOT NULL DEFAULT false,
	attempts               INTEGER NOT NULL DEFAULT 0,
	started_at             TIMESTAMPTZ,
	completed_at           TIMESTAMPTZ,
	duration_ms            BIGINT NOT NULL DEFAULT 0,
	error_message          TEXT NOT NULL DEFAULT '',
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_enrichment_jobs_company ON enrichment_jobs(company_id);
CREATE INDEX IF NOT EXISTS idx_enrichment_jobs_status ON enrichment_jobs(status);
CREATE UNIQUE INDEX IF NOT EXISTS uq_enrichment_jobs_processing ON enrichment_jobs(company_id) WHERE status = 'processing';

CREATE TABLE IF NOT EXISTS job_module_checkpoints (
	job_id       TEXT NOT NULL REFERENCES enrichment_jobs(id) ON DELETE CASCADE,
	module       TEXT NOT NULL,
	status       TEXT NOT NULL,
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	error        TEXT NOT NULL DEFAULT '',
	output       JSONB,
	PRIMARY KEY (job_id, module)
);

CREATE TABLE IF NOT EXISTS company_enriched_data (
	company_id            TEXT PRIMARY KEY,
	basic_info            JSONB,
	financial_data        JSONB,
	registry_financials   JSONB,
	industry_analysis     JSONB,
	competitive_landscape JSONB,
	market_trends         JSONB,
	growth_opportunities  JSONB,
	risk_assessment       JSONB,
	valuation_factors     JSONB,
	confidence_score      INTEGER NOT NULL DEFAULT 0,
	completeness_score    INTEGER NOT NULL DEFAULT 0,
	sources_used          JSONB NOT NULL DEFAULT '[]',
	last_enriched_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS yearly_financial_data (
	company_id        TEXT NOT NULL,
	year              INTEGER NOT NULL,
	revenue           NUMERIC,
	operating_profit  NUMERIC,
	net_profit        NUMERIC,
	total_assets      NUMERIC,
	equity            NUMERIC,
	total_liabilities NUMERIC,
	year_estimated    BOOLEAN NOT NULL DEFAULT false,
	source            TEXT,
	confidence        TEXT,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (company_id, year)
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) UpsertCompany(ctx context.Context, c model.Company) error {
	_, err := s.pool.Exec(ctx, pgCompanyUpsert, c.ID, c.Name, c.BusinessID)
	return eris.Wrapf(err, "postgres: upsert company %s", c.ID)
}

func (s *PostgresStore) GetCompany(ctx context.Context, id string) (*model.Company, error) {
	var (
		c      model.Company
		status *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, business_id, enrichment_status, last_enriched_at FROM companies WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.BusinessID, &status, &c.LastEnrichedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: company %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get company %s", id)
	}
	if status != nil {
		c.EnrichmentStatus = model.JobStatus(*status)
	}
	return &c, nil
}

func (s *PostgresStore) UpdateCompanyEnrichment(ctx context.Context, companyID string, status model.JobStatus, at *time.Time) error {
	_, err := s.pool.Exec(ctx, pgCompanyStatusUpsert, companyID, string(status), nullTime(at))
	return eris.Wrapf(err, "postgres: update company enrichment %s", companyID)
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.EnrichmentJob) error {
	cfg, ms, err := jobJSON(job)
	if err != nil {
		return eris.Wrap(err, "postgres: create job")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO enrichment_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		job.ID, job.CompanyID, job.BusinessID, job.CompanyName, job.UserID, cfg, string(job.Status), ms,
		job.CompletedModuleCount, job.PauseDone, job.Attempts, nullTime(job.StartedAt), nullTime(job.CompletedAt), job.DurationMs,
		job.ErrorMessage, job.CreatedAt, job.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: create job %s", job.ID)
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.EnrichmentJob, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM enrichment_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.EnrichmentJob, error) {
	query := `SELECT ` + jobColumns + ` FROM enrichment_jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.CompanyID != "" {
		query += fmt.Sprintf(` AND company_id = $%d`, argIdx)
		args = append(args, filter.CompanyID)
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.CreatedAfter)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	return s.queryJobs(ctx, "list jobs", query, args...)
}

func (s *PostgresStore) ListUnfinishedJobs(ctx context.Context) ([]model.EnrichmentJob, error) {
	return s.queryJobs(ctx, "list unfinished jobs",
		`SELECT `+jobColumns+` FROM enrichment_jobs WHERE status IN ('pending', 'processing') ORDER BY created_at`)
}

func (s *PostgresStore) queryJobs(ctx context.Context, op, query string, args ...any) ([]model.EnrichmentJob, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	defer rows.Close()

	var jobs []model.EnrichmentJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: %s: scan", op)
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrapf(rows.Err(), "postgres: %s", op)
}

func (s *PostgresStore) ClaimJob(ctx context.Context, jobID string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, pgClaimJob, jobID, now.UTC())
	if db.IsUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: claim job %s", jobID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *model.EnrichmentJob) error {
	cfg, ms, err := jobJSON(job)
	if err != nil {
		return eris.Wrap(err, "postgres: update job")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE enrichment_jobs SET config = $1, status = $2, module_status = $3, completed_module_count = $4,
		pause_done = $5, started_at = $6, completed_at = $7, duration_ms = $8, error_message = $9, updated_at = $10
		WHERE id = $11`,
		cfg, string(job.Status), ms, job.CompletedModuleCount, job.PauseDone, nullTime(job.StartedAt), nullTime(job.CompletedAt),
		job.DurationMs, job.ErrorMessage, job.UpdatedAt.UTC(), job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job %s", job.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: job %s", job.ID)
	}
	return nil
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, cp model.ModuleCheckpoint) error {
	_, err := s.pool.Exec(ctx, pgCheckpointUpsert, checkpointArgs(cp, jsonBytes)...)
	return eris.Wrapf(err, "postgres: save checkpoint %s/%s", cp.JobID, cp.Module)
}

func (s *PostgresStore) LoadCheckpoints(ctx context.Context, jobID string) (map[model.ModuleName]model.ModuleCheckpoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+checkpointColumns+` FROM job_module_checkpoints WHERE job_id = $1`, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load checkpoints %s", jobID)
	}
	defer rows.Close()

	out := map[model.ModuleName]model.ModuleCheckpoint{}
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan checkpoint")
		}
		out[cp.Module] = cp
	}
	return out, eris.Wrapf(rows.Err(), "postgres: load checkpoints %s", jobID)
}

func (s *PostgresStore) PersistEnrichment(ctx context.Context, data *model.CompanyEnrichedData, years []model.YearlyFinancialData) error {
	if err := s.persist(ctx, data, years); err != nil {
		return &apperr.PersistenceError{Op: "persist enrichment " + data.CompanyID, Err: err}
	}
	return nil
}

func (s *PostgresStore) persist(ctx context.Context, data *model.CompanyEnrichedData, years []model.YearlyFinancialData) error {
	args, err := enrichedArgs(data, jsonBytes)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, pgEnrichedUpsert, args...); err != nil {
		return eris.Wrap(err, "postgres: upsert enriched data")
	}
	now := time.Now().UTC()
	for _, y := range years {
		if _, err := tx.Exec(ctx, pgYearlyUpsert, yearlyArgs(data.CompanyID, y, now)...); err != nil {
			return eris.Wrapf(err, "postgres: upsert yearly financials %d", y.Year)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit tx")
}

func (s *PostgresStore) GetEnrichedData(ctx context.Context, companyID string) (*model.CompanyEnrichedData, error) {
	d, err := scanEnriched(s.pool.QueryRow(ctx, enrichedSelect()+"$1", companyID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: enriched data %s", companyID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get enriched data %s", companyID)
	}
	return d, nil
}

func (s *PostgresStore) ListYearlyFinancials(ctx context.Context, companyID string) ([]model.YearlyFinancialData, error) {
	figs := make([]string, len(figureColumns))
	for i, c := range figureColumns {
		figs[i] = c + "::text"
	}
	rows, err := s.pool.Query(ctx,
		`SELECT year, `+strings.Join(figs, ", ")+`, year_estimated, source, confidence
		FROM yearly_financial_data WHERE company_id = $1 ORDER BY year DESC`, companyID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list yearly financials %s", companyID)
	}
	defer rows.Close()

	var out []model.YearlyFinancialData
	for rows.Next() {
		y, err := scanYearly(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan yearly financials")
		}
		out = append(out, y)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: list yearly financials %s", companyID)
}
