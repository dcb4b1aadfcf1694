// Package templateseed loads routing templates from YAML for first-run seeding.
package templateseed

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/papertrellis/internal/core/domain"
)

//go:embed default_templates.yaml
var defaultTemplates []byte

const defaultPriority = 100

type file struct {
	Templates []entry `yaml:"templates"`
}

// entry mirrors domain.Template with optional enabled/priority so a seed
// file can omit them.
type entry struct {
	Name               string                  `yaml:"name"`
	Enabled            *bool                   `yaml:"enabled"`
	Priority           *int                    `yaml:"priority"`
	DocType            string                  `yaml:"doc_type"`
	DocFolder          string                  `yaml:"doc_folder"`
	MatchMode          domain.MatchMode        `yaml:"match_mode"`
	MatchPatterns      []string                `yaml:"match_patterns"`
	ExtractionRules    []domain.ExtractionRule `yaml:"extraction_rules"`
	Defaults           map[string]string       `yaml:"defaults"`
	OutputPathTemplate string                  `yaml:"output_path_template"`
	FilenameTemplate   string                  `yaml:"filename_template"`
	Tags               []string                `yaml:"tags"`
}

// Default returns the built-in invoice template set.
func Default() ([]domain.Template, error) {
	return Parse(defaultTemplates)
}

// Load reads templates from path, or the built-in set when path is empty.
func Load(path string) ([]domain.Template, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template seed file: %w", err)
	}
	templates, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return templates, nil
}

// Parse decodes and validates a seed document.
func Parse(data []byte) ([]domain.Template, error) {
	var doc file
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse template seed", err)
	}

	out := make([]domain.Template, 0, len(doc.Templates))
	for i, e := range doc.Templates {
		tpl := domain.Template{
			Name:               e.Name,
			Enabled:            true,
			Priority:           defaultPriority,
			DocType:            e.DocType,
			DocFolder:          e.DocFolder,
			MatchMode:          e.MatchMode,
			MatchPatterns:      e.MatchPatterns,
			ExtractionRules:    e.ExtractionRules,
			Defaults:           e.Defaults,
			OutputPathTemplate: e.OutputPathTemplate,
			FilenameTemplate:   e.FilenameTemplate,
			Tags:               e.Tags,
		}
		if e.Enabled != nil {
			tpl.Enabled = *e.Enabled
		}
		if e.Priority != nil {
			tpl.Priority = *e.Priority
		}
		tpl.Normalize()
		if err := tpl.Validate(); err != nil {
			return nil, fmt.Errorf("template #%d (%s): %w", i+1, tpl.Name, err)
		}
		out = append(out, tpl)
	}
	return out, nil
}
