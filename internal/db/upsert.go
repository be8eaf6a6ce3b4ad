package db

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Placeholder selects the bind parameter syntax of the target database.
type Placeholder int

const (
	// Dollar renders $1, $2, ... (Postgres).
	Dollar Placeholder = iota
	// Question renders ?, ?, ... (SQLite).
	Question
)

// targetAlias names the existing row inside DO UPDATE.
const targetAlias = "cur"

// UpsertConfig defines the parameters for an upsert operation.
type UpsertConfig struct {
	Table        string   // target table (e.g., "enrichment.company_enriched_data")
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to overwrite on conflict; nil = all non-conflict, non-merge columns
	// MergeCols keep the stored value when the incoming one is NULL.
	MergeCols []string
}

func (cfg UpsertConfig) validate() error {
	if cfg.Table == "" {
		return eris.New("db: upsert: no table specified")
	}
	if len(cfg.Columns) == 0 {
		return eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return eris.New("db: upsert: no conflict keys specified")
	}
	return nil
}

func (cfg UpsertConfig) updateColumns() []string {
	if cfg.UpdateCols != nil {
		return cfg.UpdateCols
	}
	skip := make(map[string]bool, len(cfg.ConflictKeys)+len(cfg.MergeCols))
	for _, k := range cfg.ConflictKeys {
		skip[k] = true
	}
	for _, k := range cfg.MergeCols {
		skip[k] = true
	}
	var cols []string
	for _, c := range cfg.Columns {
		if !skip[c] {
			cols = append(cols, c)
		}
	}
	return cols
}

// conflictClause renders ON CONFLICT (...) DO UPDATE SET ... for cfg.
func (cfg UpsertConfig) conflictClause() string {
	var set []string
	for _, col := range cfg.updateColumns() {
		q := pgx.Identifier{col}.Sanitize()
		set = append(set, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
	}
	for _, col := range cfg.MergeCols {
		q := pgx.Identifier{col}.Sanitize()
		set = append(set, fmt.Sprintf("%s = COALESCE(EXCLUDED.%s, %s.%s)", q, q, targetAlias, q))
	}
	if len(set) == 0 {
		return fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", quoteAndJoin(cfg.ConflictKeys))
	}
	return fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", quoteAndJoin(cfg.ConflictKeys), strings.Join(set, ", "))
}

// UpsertSQL renders a single-row INSERT ... ON CONFLICT statement. Arguments
// bind in Columns order.
func UpsertSQL(cfg UpsertConfig, ph Placeholder) (string, error) {
	if err := cfg.validate(); err != nil {
		return "", err
	}
	params := make([]string, len(cfg.Columns))
	for i := range cfg.Columns {
		if ph == Question {
			params[i] = "?"
		} else {
			params[i] = fmt.Sprintf("$%d", i+1)
		}
	}
	return fmt.Sprintf(
		"INSERT INTO %s AS %s (%s) VALUES (%s) %s",
		sanitizeTable(cfg.Table),
		targetAlias,
		quoteAndJoin(cfg.Columns),
		strings.Join(params, ", "),
		cfg.conflictClause(),
	), nil
}

// sanitizeTable handles schema-qualified table names like "enrichment.jobs".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
