package db

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var yearly = UpsertConfig{
	Table:        "yearly_financial_data",
	Columns:      []string{"company_id", "year", "revenue", "source"},
	ConflictKeys: []string{"company_id", "year"},
	MergeCols:    []string{"revenue"},
}

func TestUpsertSQL_Dollar(t *testing.T) {
	sql, err := UpsertSQL(yearly, Dollar)
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "yearly_financial_data" AS cur ("company_id", "year", "revenue", "source") VALUES ($1, $2, $3, $4) `+
			`ON CONFLICT ("company_id", "year") DO UPDATE SET "source" = EXCLUDED."source", "revenue" = COALESCE(EXCLUDED."revenue", cur."revenue")`,
		sql)
}

func TestUpsertSQL_Question(t *testing.T) {
	sql, err := UpsertSQL(UpsertConfig{
		Table:        "companies",
		Columns:      []string{"id", "name"},
		ConflictKeys: []string{"id"},
	}, Question)
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "companies" AS cur ("id", "name") VALUES (?, ?) ON CONFLICT ("id") DO UPDATE SET "name" = EXCLUDED."name"`, sql)
}

func TestUpsertSQL_DoNothing(t *testing.T) {
	sql, err := UpsertSQL(UpsertConfig{Table: "t", Columns: []string{"id"}, ConflictKeys: []string{"id"}}, Dollar)
	require.NoError(t, err)
	assert.Contains(t, sql, `ON CONFLICT ("id") DO NOTHING`)
}

func TestUpsertSQL_Invalid(t *testing.T) {
	_, err := UpsertSQL(UpsertConfig{Table: "t", ConflictKeys: []string{"id"}}, Dollar)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")

	_, err = UpsertSQL(UpsertConfig{Table: "t", Columns: []string{"id"}}, Dollar)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")

	_, err = UpsertSQL(UpsertConfig{Columns: []string{"id"}, ConflictKeys: []string{"id"}}, Dollar)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no table specified")
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"enrichment.jobs", `"enrichment"."jobs"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "name", "value"`, quoteAndJoin([]string{"id", "name", "value"}))
}
