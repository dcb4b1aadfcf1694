package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kirillkom/papertrellis/internal/core/domain"
)

const templateColumns = `id, name, enabled, priority, doc_type, doc_folder, match_mode, match_patterns,
	extraction_rules, defaults, output_path_template, filename_template, tags, created_at, updated_at`

type TemplateRepository struct {
	store *Store
}

func NewTemplateRepository(store *Store) *TemplateRepository {
	return &TemplateRepository{store: store}
}

func (r *TemplateRepository) ListEnabled(ctx context.Context) ([]domain.Template, error) {
	return r.list(ctx, "db.templates.list_enabled", `
SELECT `+templateColumns+`
FROM templates
WHERE enabled = ?
ORDER BY priority ASC, created_at ASC, id ASC
`, true)
}

func (r *TemplateRepository) List(ctx context.Context) ([]domain.Template, error) {
	return r.list(ctx, "db.templates.list", `
SELECT `+templateColumns+`
FROM templates
ORDER BY priority ASC, created_at ASC, id ASC
`)
}

func (r *TemplateRepository) list(ctx context.Context, operation, query string, args ...any) ([]domain.Template, error) {
	var out []domain.Template
	err := r.store.query(ctx, operation, query, func(rows *sql.Rows) error {
		out = make([]domain.Template, 0)
		for rows.Next() {
			tpl, err := scanTemplate(rows)
			if err != nil {
				return err
			}
			out = append(out, tpl)
		}
		return nil
	}, args...)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return out, nil
}

func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*domain.Template, error) {
	var tpl domain.Template
	err := r.store.queryRow(ctx, "db.templates.get", `
SELECT `+templateColumns+`
FROM templates
WHERE id = ?
`, func(row *sql.Row) error {
		var scanErr error
		tpl, scanErr = scanTemplate(row)
		return scanErr
	}, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrTemplateNotFound, "get template", fmt.Errorf("id %s", id))
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	return &tpl, nil
}

func (r *TemplateRepository) Create(ctx context.Context, tpl *domain.Template) error {
	cols, err := encodeTemplate(tpl)
	if err != nil {
		return err
	}
	_, err = r.store.exec(ctx, "db.templates.create", `
INSERT INTO templates (`+templateColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
`,
		tpl.ID, tpl.Name, tpl.Enabled, tpl.Priority, tpl.DocType, tpl.DocFolder, string(tpl.MatchMode),
		cols.patterns, cols.rules, cols.defaults, tpl.OutputPathTemplate, tpl.FilenameTemplate, cols.tags,
		tpl.CreatedAt, tpl.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (r *TemplateRepository) Update(ctx context.Context, tpl *domain.Template) error {
	cols, err := encodeTemplate(tpl)
	if err != nil {
		return err
	}
	res, err := r.store.exec(ctx, "db.templates.update", `
UPDATE templates
SET name = ?, enabled = ?, priority = ?, doc_type = ?, doc_folder = ?, match_mode = ?, match_patterns = ?,
	extraction_rules = ?, defaults = ?, output_path_template = ?, filename_template = ?, tags = ?, updated_at = ?
WHERE id = ?
`,
		tpl.Name, tpl.Enabled, tpl.Priority, tpl.DocType, tpl.DocFolder, string(tpl.MatchMode), cols.patterns,
		cols.rules, cols.defaults, tpl.OutputPathTemplate, tpl.FilenameTemplate, cols.tags, tpl.UpdatedAt,
		tpl.ID,
	)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	return requireAffected(res, domain.ErrTemplateNotFound, "update template", tpl.ID)
}

func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	res, err := r.store.exec(ctx, "db.templates.delete", `DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return requireAffected(res, domain.ErrTemplateNotFound, "delete template", id)
}

func requireAffected(res sql.Result, kind error, operation, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if affected == 0 {
		return domain.WrapError(kind, operation, fmt.Errorf("id %s", id))
	}
	return nil
}

type templateJSON struct {
	patterns, rules, defaults, tags string
}

func encodeTemplate(tpl *domain.Template) (templateJSON, error) {
	var (
		out templateJSON
		err error
	)
	if out.patterns, err = marshalJSON(tpl.MatchPatterns, "[]"); err != nil {
		return out, fmt.Errorf("marshal match patterns: %w", err)
	}
	if out.rules, err = marshalJSON(tpl.ExtractionRules, "[]"); err != nil {
		return out, fmt.Errorf("marshal extraction rules: %w", err)
	}
	if out.defaults, err = marshalJSON(tpl.Defaults, "{}"); err != nil {
		return out, fmt.Errorf("marshal defaults: %w", err)
	}
	if out.tags, err = marshalJSON(tpl.Tags, "[]"); err != nil {
		return out, fmt.Errorf("marshal tags: %w", err)
	}
	return out, nil
}

func scanTemplate(row scanner) (domain.Template, error) {
	var (
		tpl                                 domain.Template
		mode                                string
		patterns, rules, defaults, tagsJSON []byte
	)
	err := row.Scan(
		&tpl.ID, &tpl.Name, &tpl.Enabled, &tpl.Priority, &tpl.DocType, &tpl.DocFolder, &mode, &patterns,
		&rules, &defaults, &tpl.OutputPathTemplate, &tpl.FilenameTemplate, &tagsJSON, &tpl.CreatedAt, &tpl.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tpl, err
		}
		return tpl, fmt.Errorf("scan template: %w", err)
	}
	tpl.MatchMode = domain.MatchMode(mode)

	for _, col := range []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"match_patterns", patterns, &tpl.MatchPatterns},
		{"extraction_rules", rules, &tpl.ExtractionRules},
		{"defaults", defaults, &tpl.Defaults},
		{"tags", tagsJSON, &tpl.Tags},
	} {
		if len(col.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(col.raw, col.dst); err != nil {
			return tpl, fmt.Errorf("unmarshal %s: %w", col.name, err)
		}
	}
	return tpl, nil
}
