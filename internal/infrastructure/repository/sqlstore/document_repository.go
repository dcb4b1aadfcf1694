package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kirillkom/papertrellis/internal/core/domain"
)

const documentColumns = `id, source, source_path, original_filename, extracted_text, extraction_method, pages,
	matched_template_id, matched_template_name, fields, destination_path, status, stage,
	failure_kind, failure_reason, created_at, updated_at`

type DocumentRepository struct {
	store *Store
}

func NewDocumentRepository(store *Store) *DocumentRepository {
	return &DocumentRepository{store: store}
}

func (r *DocumentRepository) CreatePending(ctx context.Context, doc *domain.Document) error {
	fieldsJSON, err := marshalJSON(doc.Fields, "{}")
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	_, err = r.store.exec(ctx, "db.documents.create", `
INSERT INTO documents (`+documentColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
`,
		doc.ID, string(doc.Source), doc.SourcePath, doc.OriginalFilename, doc.ExtractedText,
		string(doc.ExtractionMethod), doc.Pages, doc.MatchedTemplateID, doc.MatchedTemplateName,
		fieldsJSON, doc.DestinationPath, string(doc.Status), string(doc.Stage),
		string(doc.FailureKind), doc.FailureReason, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// SaveOutcome stores the terminal state of a pending record. Terminal
// records are never rewritten.
func (r *DocumentRepository) SaveOutcome(ctx context.Context, doc *domain.Document) error {
	fieldsJSON, err := marshalJSON(doc.Fields, "{}")
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	res, err := r.store.exec(ctx, "db.documents.save_outcome", `
UPDATE documents
SET extracted_text = ?, extraction_method = ?, pages = ?, matched_template_id = ?, matched_template_name = ?,
	fields = ?, destination_path = ?, status = ?, stage = ?, failure_kind = ?, failure_reason = ?, updated_at = ?
WHERE id = ? AND status = ?
`,
		doc.ExtractedText, string(doc.ExtractionMethod), doc.Pages, doc.MatchedTemplateID, doc.MatchedTemplateName,
		fieldsJSON, doc.DestinationPath, string(doc.Status), string(doc.Stage), string(doc.FailureKind),
		doc.FailureReason, doc.UpdatedAt, doc.ID, string(domain.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("save outcome: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save outcome rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, "save outcome", fmt.Errorf("no pending document %s", doc.ID))
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	var doc domain.Document
	err := r.store.queryRow(ctx, "db.documents.get", `
SELECT `+documentColumns+`
FROM documents
WHERE id = ?
`, func(row *sql.Row) error {
		var scanErr error
		doc, scanErr = scanDocument(row)
		return scanErr
	}, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id %s", id))
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) ListRecent(ctx context.Context, limit int) ([]domain.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []domain.Document
	err := r.store.query(ctx, "db.documents.list_recent", `
SELECT `+documentColumns+`
FROM documents
ORDER BY created_at DESC, id DESC
LIMIT ?
`, func(rows *sql.Rows) error {
		out = make([]domain.Document, 0, limit)
		for rows.Next() {
			doc, err := scanDocument(rows)
			if err != nil {
				return err
			}
			out = append(out, doc)
		}
		return nil
	}, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return out, nil
}

func (r *DocumentRepository) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (domain.Document, error) {
	var (
		doc                                  domain.Document
		source, method, status, stage, fkind string
		fieldsRaw                            []byte
	)
	err := row.Scan(
		&doc.ID, &source, &doc.SourcePath, &doc.OriginalFilename, &doc.ExtractedText, &method, &doc.Pages,
		&doc.MatchedTemplateID, &doc.MatchedTemplateName, &fieldsRaw, &doc.DestinationPath, &status, &stage,
		&fkind, &doc.FailureReason, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return doc, err
		}
		return doc, fmt.Errorf("scan document: %w", err)
	}
	if len(fieldsRaw) > 0 {
		if err := json.Unmarshal(fieldsRaw, &doc.Fields); err != nil {
			return doc, fmt.Errorf("unmarshal fields: %w", err)
		}
	}
	doc.Source = domain.DocumentSource(source)
	doc.ExtractionMethod = domain.ExtractionMethod(method)
	doc.Status = domain.DocumentStatus(status)
	doc.Stage = domain.Stage(stage)
	doc.FailureKind = domain.FailureKind(fkind)
	return doc, nil
}

// marshalJSON encodes v as a JSON string, using empty for nil values.
func marshalJSON(v any, empty string) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(raw) == "null" {
		return empty, nil
	}
	return string(raw), nil
}
