package usecase

import (
	"strings"

	"github.com/kirillkom/papertrellis/internal/core/domain"
)

// ExtractFields applies every extraction rule of tpl to text. A rule that
// does not match, captures only whitespace or fails to compile leaves its
// key out of the result.
func ExtractFields(tpl domain.Template, text string) map[string]string {
	fields := make(map[string]string, len(tpl.ExtractionRules))
	for _, rule := range tpl.ExtractionRules {
		if value, ok := firstGroup(rule.Pattern, text); ok {
			fields[rule.Name] = value
		}
	}
	return fields
}

func firstGroup(pattern, text string) (string, bool) {
	if strings.TrimSpace(pattern) == "" {
		return "", false
	}
	re, err := compilePattern(pattern)
	if err != nil {
		return "", false
	}
	m := re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}

	value := m[0]
	if len(m) > 1 {
		value = m[1]
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}
