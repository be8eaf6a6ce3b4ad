package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/enrichment-cli/internal/apperr"
	"github.com/sells-group/enrichment-cli/internal/db"
	"github.com/sells-group/enrichment-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var (
	liteCompanyUpsert       = mustUpsertSQL(companyUpsert, db.Question)
	liteCompanyStatusUpsert = mustUpsertSQL(companyStatusUpsert, db.Question)
	liteCheckpointUpsert    = mustUpsertSQL(checkpointUpsert, db.Question)
	liteEnrichedUpsert      = mustUpsertSQL(enrichedUpsert, db.Question)
	liteYearlyUpsert        = mustUpsertSQL(yearlyUpsert, db.Question)
)

const liteClaimJob = `UPDATE enrichment_jobs
SET status = 'processing', attempts = attempts + 1, started_at = COALESCE(started_at, ?), updated_at = ?
WHERE id = ? AND status <> 'completed'
AND NOT EXISTS (
	SELECT 1 FROM enrichment_jobs o
	WHERE o.company_id = enrichment_jobs.company_id AND o.status = 'processing' AND o.id <> enrichment_jobs.id
)`

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode. Writes are serialized through a single connection.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	sqlDB.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL DEFAULT '',
	business_id       TEXT NOT NULL DEFAULT '',
	enrichment_status TEXT,
	last_enriched_at  DATETIME
);

CREATE TABLE IF NOT EXISTS enrichment_jobs (
	id                     TEXT PRIMARY KEY,
	company_id             TEXT NOT NULL,
	business_id            TEXT NOT NULL,
	company_name           TEXT NOT NULL,
	user_id                TEXT NOT NULL DEFAULT '',
	config                 TEXT NOT NULL DEFAULT '{}',
	status                 TEXT NOT NULL DEFAULT 'pending',
	module_status          TEXT NOT NULL DEFAULT '{}',
	completed_module_count INTEGER NOT NULL DEFAULT 0,
	pause_done             INTEGER NOT NULL DEFAULT 0,
	attempts               INTEGER NOT NULL DEFAULT 0,
	started_at             DATETIME,
	completed_at           DATETIME,
	duration_ms            INTEGER NOT NULL DEFAULT 0,
	error_message          TEXT NOT NULL DEFAULT '',
	created_at             DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at             DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_enrichment_jobs_company ON enrichment_jobs(company_id);
CREATE INDEX IF NOT EXISTS idx_enrichment_jobs_status ON enrichment_jobs(status);
CREATE UNIQUE INDEX IF NOT EXISTS uq_enrichment_jobs_processing ON enrichment_jobs(company_id) WHERE status = 'processing';

CREATE TABLE IF NOT EXISTS job_module_checkpoints (
	job_id       TEXT NOT NULL REFERENCES enrichment_jobs(id) ON DELETE CASCADE,
	module       TEXT NOT NULL,
	status       TEXT NOT NULL,
	started_at   DATETIME,
	completed_at DATETIME,
	error        TEXT NOT NULL DEFAULT '',
	output       TEXT,
	PRIMARY KEY (job_id, module)
);

CREATE TABLE IF NOT EXISTS company_enriched_data (
	company_id            TEXT PRIMARY KEY,
	basic_info            TEXT,
	financial_data        TEXT,
	registry_financials   TEXT,
	industry_analysis     TEXT,
	competitive_landscape TEXT,
	market_trends         TEXT,
	growth_opportunities  TEXT,
	risk_assessment       TEXT,
	valuation_factors     TEXT,
	confidence_score      INTEGER NOT NULL DEFAULT 0,
	completeness_score    INTEGER NOT NULL DEFAULT 0,
	sources_used          TEXT NOT NULL DEFAULT '[]',
	last_enriched_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS yearly_financial_data (
	company_id        TEXT NOT NULL,
	year              INTEGER NOT NULL,
	revenue           TEXT,
	operating_profit  TEXT,
	net_profit        TEXT,
	total_assets      TEXT,
	equity            TEXT,
	total_liabilities TEXT,
	year_estimated    INTEGER NOT NULL DEFAULT 0,
	source            TEXT,
	confidence        TEXT,
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (company_id, year)
);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertCompany(ctx context.Context, c model.Company) error {
	_, err := s.db.ExecContext(ctx, liteCompanyUpsert, c.ID, c.Name, c.BusinessID)
	return eris.Wrapf(err, "sqlite: upsert company %s", c.ID)
}

func (s *SQLiteStore) GetCompany(ctx context.Context, id string) (*model.Company, error) {
	var (
		c      model.Company
		status sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, business_id, enrichment_status, last_enriched_at FROM companies WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.BusinessID, &status, &c.LastEnrichedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: company %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get company %s", id)
	}
	c.EnrichmentStatus = model.JobStatus(status.String)
	return &c, nil
}

func (s *SQLiteStore) UpdateCompanyEnrichment(ctx context.Context, companyID string, status model.JobStatus, at *time.Time) error {
	_, err := s.db.ExecContext(ctx, liteCompanyStatusUpsert, companyID, string(status), nullTime(at))
	return eris.Wrapf(err, "sqlite: update company enrichment %s", companyID)
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.EnrichmentJob) error {
	cfg, ms, err := jobJSON(job)
	if err != nil {
		return eris.Wrap(err, "sqlite: create job")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO enrichment_jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.CompanyID, job.BusinessID, job.CompanyName, job.UserID, string(cfg), string(job.Status), string(ms),
		job.CompletedModuleCount, job.PauseDone, job.Attempts, nullTime(job.StartedAt), nullTime(job.CompletedAt), job.DurationMs,
		job.ErrorMessage, job.CreatedAt.UTC(), job.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: create job %s", job.ID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.EnrichmentJob, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM enrichment_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return job, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.EnrichmentJob, error) {
	query := `SELECT ` + jobColumns + ` FROM enrichment_jobs WHERE 1=1`
	args := []any{}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.CompanyID != "" {
		query += ` AND company_id = ?`
		args = append(args, filter.CompanyID)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	return s.queryJobs(ctx, "list jobs", query, args...)
}

func (s *SQLiteStore) ListUnfinishedJobs(ctx context.Context) ([]model.EnrichmentJob, error) {
	return s.queryJobs(ctx, "list unfinished jobs",
		`SELECT `+jobColumns+` FROM enrichment_jobs WHERE status IN ('pending', 'processing') ORDER BY created_at`)
}

func (s *SQLiteStore) queryJobs(ctx context.Context, op, query string, args ...any) ([]model.EnrichmentJob, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	defer rows.Close()

	var jobs []model.EnrichmentJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: %s: scan", op)
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrapf(rows.Err(), "sqlite: %s", op)
}

func (s *SQLiteStore) ClaimJob(ctx context.Context, jobID string, now time.Time) (bool, error) {
	now = now.UTC()
	res, err := s.db.ExecContext(ctx, liteClaimJob, now, now, jobID)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return false, nil
		}
		return false, eris.Wrapf(err, "sqlite: claim job %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, job *model.EnrichmentJob) error {
	cfg, ms, err := jobJSON(job)
	if err != nil {
		return eris.Wrap(err, "sqlite: update job")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE enrichment_jobs SET config = ?, status = ?, module_status = ?, completed_module_count = ?,
		pause_done = ?, started_at = ?, completed_at = ?, duration_ms = ?, error_message = ?, updated_at = ?
		WHERE id = ?`,
		string(cfg), string(job.Status), string(ms), job.CompletedModuleCount, job.PauseDone, nullTime(job.StartedAt),
		nullTime(job.CompletedAt), job.DurationMs, job.ErrorMessage, job.UpdatedAt.UTC(), job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job %s", job.ID)
	}
	return checkRowsAffected(res, "job", job.ID)
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp model.ModuleCheckpoint) error {
	_, err := s.db.ExecContext(ctx, liteCheckpointUpsert, checkpointArgs(cp, jsonText)...)
	return eris.Wrapf(err, "sqlite: save checkpoint %s/%s", cp.JobID, cp.Module)
}

func (s *SQLiteStore) LoadCheckpoints(ctx context.Context, jobID string) (map[model.ModuleName]model.ModuleCheckpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+checkpointColumns+` FROM job_module_checkpoints WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load checkpoints %s", jobID)
	}
	defer rows.Close()

	out := map[model.ModuleName]model.ModuleCheckpoint{}
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan checkpoint")
		}
		out[cp.Module] = cp
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: load checkpoints %s", jobID)
}

func (s *SQLiteStore) PersistEnrichment(ctx context.Context, data *model.CompanyEnrichedData, years []model.YearlyFinancialData) error {
	if err := s.persist(ctx, data, years); err != nil {
		return &apperr.PersistenceError{Op: "persist enrichment " + data.CompanyID, Err: err}
	}
	return nil
}

func (s *SQLiteStore) persist(ctx context.Context, data *model.CompanyEnrichedData, years []model.YearlyFinancialData) error {
	args, err := enrichedArgs(data, jsonText)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, liteEnrichedUpsert, args...); err != nil {
		return eris.Wrap(err, "sqlite: upsert enriched data")
	}
	now := time.Now().UTC()
	for _, y := range years {
		if _, err := tx.ExecContext(ctx, liteYearlyUpsert, yearlyArgs(data.CompanyID, y, now)...); err != nil {
			return eris.Wrapf(err, "sqlite: upsert yearly financials %d", y.Year)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

func (s *SQLiteStore) GetEnrichedData(ctx context.Context, companyID string) (*model.CompanyEnrichedData, error) {
	d, err := scanEnriched(s.db.QueryRowContext(ctx, enrichedSelect()+"?", companyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: enriched data %s", companyID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get enriched data %s", companyID)
	}
	return d, nil
}

func (s *SQLiteStore) ListYearlyFinancials(ctx context.Context, companyID string) ([]model.YearlyFinancialData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT year, `+strings.Join(figureColumns, ", ")+`, year_estimated, source, confidence
		FROM yearly_financial_data WHERE company_id = ? ORDER BY year DESC`, companyID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list yearly financials %s", companyID)
	}
	defer rows.Close()

	var out []model.YearlyFinancialData
	for rows.Next() {
		y, err := scanYearly(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan yearly financials")
		}
		out = append(out, y)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: list yearly financials %s", companyID)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}
