package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrExtraction        = errors.New("extraction error")
	ErrNoTemplateMatch   = errors.New("no template match")
	ErrRender            = errors.New("render error")
	ErrMove              = errors.New("move error")
	ErrClaimConflict     = errors.New("claim conflict")

	ErrDocumentNotFound = errors.New("document not found")
	ErrTemplateNotFound = errors.New("template not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTemporary        = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// FailureKind is the persisted name of a routing failure.
type FailureKind string

const (
	FailureUnsupportedFormat FailureKind = "unsupported_format"
	FailureExtraction        FailureKind = "extraction_error"
	FailureNoTemplateMatch   FailureKind = "no_template_match"
	FailureRender            FailureKind = "render_error"
	FailureMove              FailureKind = "move_error"
	FailureClaimConflict     FailureKind = "claim_conflict"
)

var failureKinds = []struct {
	err  error
	kind FailureKind
}{
	{ErrUnsupportedFormat, FailureUnsupportedFormat},
	{ErrExtraction, FailureExtraction},
	{ErrNoTemplateMatch, FailureNoTemplateMatch},
	{ErrRender, FailureRender},
	{ErrMove, FailureMove},
	{ErrClaimConflict, FailureClaimConflict},
}

// FailureKindOf maps a routing error to its failure kind. Errors of no known
// kind are reported as extraction errors, the stage that calls external tools.
func FailureKindOf(err error) FailureKind {
	for _, fk := range failureKinds {
		if errors.Is(err, fk.err) {
			return fk.kind
		}
	}
	return FailureExtraction
}
