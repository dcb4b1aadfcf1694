package sqlstore

import (
	"context"
	"fmt"
)

const schemaLockID int64 = 2026101401

const postgresSchema = `
CREATE TABLE IF NOT EXISTS templates (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	priority INTEGER NOT NULL DEFAULT 100,
	doc_type TEXT NOT NULL,
	doc_folder TEXT NOT NULL,
	match_mode TEXT NOT NULL,
	match_patterns JSONB NOT NULL DEFAULT '[]'::jsonb,
	extraction_rules JSONB NOT NULL DEFAULT '[]'::jsonb,
	defaults JSONB NOT NULL DEFAULT '{}'::jsonb,
	output_path_template TEXT NOT NULL,
	filename_template TEXT NOT NULL,
	tags JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_templates_order ON templates(priority, created_at, id);

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	source_path TEXT NOT NULL,
	original_filename TEXT NOT NULL,
	extracted_text TEXT NOT NULL DEFAULT '',
	extraction_method TEXT NOT NULL DEFAULT '',
	pages INTEGER NOT NULL DEFAULT 0,
	matched_template_id TEXT NOT NULL DEFAULT '',
	matched_template_name TEXT NOT NULL DEFAULT '',
	fields JSONB NOT NULL DEFAULT '{}'::jsonb,
	destination_path TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	stage TEXT NOT NULL,
	failure_kind TEXT NOT NULL DEFAULT '',
	failure_reason TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at DESC);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS templates (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT 1,
	priority INTEGER NOT NULL DEFAULT 100,
	doc_type TEXT NOT NULL,
	doc_folder TEXT NOT NULL,
	match_mode TEXT NOT NULL,
	match_patterns TEXT NOT NULL DEFAULT '[]',
	extraction_rules TEXT NOT NULL DEFAULT '[]',
	defaults TEXT NOT NULL DEFAULT '{}',
	output_path_template TEXT NOT NULL,
	filename_template TEXT NOT NULL,
	tags TEXT NOT NULL DEFAULT '[]',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_templates_order ON templates(priority, created_at, id);

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	source_path TEXT NOT NULL,
	original_filename TEXT NOT NULL,
	extracted_text TEXT NOT NULL DEFAULT '',
	extraction_method TEXT NOT NULL DEFAULT '',
	pages INTEGER NOT NULL DEFAULT 0,
	matched_template_id TEXT NOT NULL DEFAULT '',
	matched_template_name TEXT NOT NULL DEFAULT '',
	fields TEXT NOT NULL DEFAULT '{}',
	destination_path TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	stage TEXT NOT NULL,
	failure_kind TEXT NOT NULL DEFAULT '',
	failure_reason TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at DESC);
`

// EnsureSchema creates the tables if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	ddl := sqliteSchema
	if s.dialect == Postgres {
		// Serialize bootstrap DDL across api/worker startups.
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
			return fmt.Errorf("acquire schema lock: %w", err)
		}
		ddl = postgresSchema
	}

	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
