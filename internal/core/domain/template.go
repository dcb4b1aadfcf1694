package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

type MatchMode string

const (
	MatchAll MatchMode = "all"
	MatchAny MatchMode = "any"
)

const (
	DefaultDocType            = "Document"
	DefaultDocFolder          = "Inbox"
	DefaultOutputPathTemplate = "{doc_folder}"
	DefaultFilenameTemplate   = "{original_name}"
)

// Built-in rendering variables. Extraction rules may not reuse these names.
const (
	VarDocFolder     = "doc_folder"
	VarDocType       = "doc_type"
	VarCompany       = "company"
	VarInvoiceNumber = "invoice_number"
	VarDate          = "date"
	VarOriginalName  = "original_name"
)

// ExtractionRule is a named regex with one capture group.
type ExtractionRule struct {
	Name    string `json:"name" yaml:"name"`
	Pattern string `json:"pattern" yaml:"pattern"`
}

type Template struct {
	ID                 string            `json:"id" yaml:"id,omitempty"`
	Name               string            `json:"name" yaml:"name"`
	Enabled            bool              `json:"enabled" yaml:"enabled"`
	Priority           int               `json:"priority" yaml:"priority"`
	DocType            string            `json:"doc_type" yaml:"doc_type"`
	DocFolder          string            `json:"doc_folder" yaml:"doc_folder"`
	MatchMode          MatchMode         `json:"match_mode" yaml:"match_mode"`
	MatchPatterns      []string          `json:"match_patterns" yaml:"match_patterns"`
	ExtractionRules    []ExtractionRule  `json:"extraction_rules" yaml:"extraction_rules"`
	Defaults           map[string]string `json:"defaults,omitempty" yaml:"defaults,omitempty"`
	OutputPathTemplate string            `json:"output_path_template" yaml:"output_path_template"`
	FilenameTemplate   string            `json:"filename_template" yaml:"filename_template"`
	Tags               []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	CreatedAt          time.Time         `json:"created_at" yaml:"-"`
	UpdatedAt          time.Time         `json:"updated_at" yaml:"-"`
}

var ruleNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Normalize fills defaults and trims user input.
func (t *Template) Normalize() {
	t.Name = strings.TrimSpace(t.Name)
	t.MatchMode = MatchMode(strings.ToLower(strings.TrimSpace(string(t.MatchMode))))
	if t.MatchMode == "" {
		t.MatchMode = MatchAll
	}
	if strings.TrimSpace(t.DocType) == "" {
		t.DocType = DefaultDocType
	}
	if strings.TrimSpace(t.DocFolder) == "" {
		t.DocFolder = DefaultDocFolder
	}
	if strings.TrimSpace(t.OutputPathTemplate) == "" {
		t.OutputPathTemplate = DefaultOutputPathTemplate
	}
	if strings.TrimSpace(t.FilenameTemplate) == "" {
		t.FilenameTemplate = DefaultFilenameTemplate
	}

	patterns := make([]string, 0, len(t.MatchPatterns))
	for _, p := range t.MatchPatterns {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	t.MatchPatterns = patterns

	for i := range t.ExtractionRules {
		t.ExtractionRules[i].Name = strings.TrimSpace(t.ExtractionRules[i].Name)
	}
}

// Validate checks a template before it is written to the store.
func (t Template) Validate() error {
	if t.Name == "" {
		return WrapError(ErrInvalidInput, "validate template", fmt.Errorf("name is required"))
	}
	if t.MatchMode != MatchAll && t.MatchMode != MatchAny {
		return WrapError(ErrInvalidInput, "validate template", fmt.Errorf("unknown match mode %q", t.MatchMode))
	}
	for _, p := range t.MatchPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return WrapError(ErrInvalidInput, "validate template", fmt.Errorf("match pattern %q: %w", p, err))
		}
	}

	seen := make(map[string]struct{}, len(t.ExtractionRules))
	for _, rule := range t.ExtractionRules {
		if !ruleNamePattern.MatchString(rule.Name) {
			return WrapError(ErrInvalidInput, "validate template", fmt.Errorf("rule name %q must match %s", rule.Name, ruleNamePattern))
		}
		switch rule.Name {
		case VarDocFolder, VarDocType, VarOriginalName:
			return WrapError(ErrInvalidInput, "validate template", fmt.Errorf("rule name %q is reserved", rule.Name))
		}
		if _, dup := seen[rule.Name]; dup {
			return WrapError(ErrInvalidInput, "validate template", fmt.Errorf("duplicate rule %q", rule.Name))
		}
		seen[rule.Name] = struct{}{}

		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return WrapError(ErrInvalidInput, "validate template", fmt.Errorf("rule %q: %w", rule.Name, err))
		}
		if re.NumSubexp() != 1 {
			return WrapError(ErrInvalidInput, "validate template", fmt.Errorf("rule %q must have exactly one capture group, has %d", rule.Name, re.NumSubexp()))
		}
	}
	return nil
}

// DeclaresField reports whether one of the template's rules produces name.
func (t Template) DeclaresField(name string) bool {
	for _, rule := range t.ExtractionRules {
		if rule.Name == name {
			return true
		}
	}
	return false
}

// PatternHit is the result of one match pattern against a text.
type PatternHit struct {
	Pattern string `json:"pattern"`
	Matched bool   `json:"matched"`
	Invalid bool   `json:"invalid,omitempty"`
}

// TemplateTestResult is a dry run of one template against pasted text.
type TemplateTestResult struct {
	TemplateID  string            `json:"template_id"`
	Matched     bool              `json:"matched"`
	Patterns    []PatternHit      `json:"patterns"`
	Fields      map[string]string `json:"fields"`
	Destination string            `json:"destination,omitempty"`
	RenderError string            `json:"render_error,omitempty"`
}
