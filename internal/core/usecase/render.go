package usecase

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/araddon/dateparse"
	"github.com/ncruces/go-strftime"

	"github.com/kirillkom/papertrellis/internal/core/domain"
)

const (
	defaultDateFormat = "%Y-%m-%d"
	maxSegmentBytes   = 200
)

var (
	illegalNameChars = regexp.MustCompile(`[:*?"<>|\\\x00-\x1f\x7f]+`)
	numericDate      = regexp.MustCompile(`^(\d{1,2})[./-](\d{1,2})[./-](\d{2}|\d{4})$`)
	whitespaceRun    = regexp.MustCompile(`\s+`)
	variableName     = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// RenderVars carries the per-document inputs of a destination template.
type RenderVars struct {
	// OriginalName is the source file name without its extension.
	OriginalName string
	// Extension includes the leading dot, e.g. ".pdf".
	Extension string
	Fields    map[string]string
}

// Destination is a rendered placement relative to the library root.
type Destination struct {
	Dir      string
	Filename string
}

// RelPath joins Dir and Filename with forward slashes.
func (d Destination) RelPath() string {
	return path.Join(d.Dir, d.Filename)
}

// RenderDestination expands the output path and filename templates of tpl.
// Any reference that cannot be satisfied is a domain.ErrRender; nothing is
// silently substituted with an empty string.
func RenderDestination(tpl domain.Template, vars RenderVars) (Destination, error) {
	const op = "render destination"

	outputTemplate := tpl.OutputPathTemplate
	if strings.TrimSpace(outputTemplate) == "" {
		outputTemplate = domain.DefaultOutputPathTemplate
	}
	filenameTemplate := tpl.FilenameTemplate
	if strings.TrimSpace(filenameTemplate) == "" {
		filenameTemplate = domain.DefaultFilenameTemplate
	}

	r := renderer{tpl: tpl, vars: vars}
	rawDir, err := r.expand(outputTemplate)
	if err != nil {
		return Destination{}, domain.WrapError(domain.ErrRender, op, fmt.Errorf("output path: %w", err))
	}
	rawName, err := r.expand(filenameTemplate)
	if err != nil {
		return Destination{}, domain.WrapError(domain.ErrRender, op, fmt.Errorf("filename: %w", err))
	}

	dir, err := cleanRelDir(rawDir)
	if err != nil {
		return Destination{}, domain.WrapError(domain.ErrRender, op, err)
	}
	if dir == "" {
		dir = sanitizeSegment(docFolder(tpl))
	}

	name, err := cleanFilename(rawName)
	if err != nil {
		return Destination{}, domain.WrapError(domain.ErrRender, op, err)
	}
	if name == "" {
		name = sanitizeSegment(vars.OriginalName)
	}
	if name == "" {
		return Destination{}, domain.WrapError(domain.ErrRender, op, errors.New("filename renders empty"))
	}
	name = truncateBytes(name, maxSegmentBytes) + strings.ToLower(vars.Extension)

	if !filepath.IsLocal(filepath.FromSlash(path.Join(dir, name))) {
		return Destination{}, domain.WrapError(domain.ErrRender, op, fmt.Errorf("destination %q escapes the library root", path.Join(dir, name)))
	}
	return Destination{Dir: dir, Filename: name}, nil
}

type renderer struct {
	tpl  domain.Template
	vars RenderVars
}

// expand substitutes {name} and {name:format} references. {{ and }} are literal braces.
func (r renderer) expand(tmpl string) (string, error) {
	var out strings.Builder
	for i := 0; i < len(tmpl); {
		c := tmpl[i]
		switch {
		case c == '{' && strings.HasPrefix(tmpl[i:], "{{"):
			out.WriteByte('{')
			i += 2
		case c == '}' && strings.HasPrefix(tmpl[i:], "}}"):
			out.WriteByte('}')
			i += 2
		case c == '}':
			return "", fmt.Errorf("unmatched '}' at offset %d", i)
		case c == '{':
			end := strings.IndexByte(tmpl[i:], '}')
			if end < 0 {
				return "", fmt.Errorf("unterminated reference at offset %d", i)
			}
			value, err := r.resolve(tmpl[i+1 : i+end])
			if err != nil {
				return "", err
			}
			out.WriteString(value)
			i += end + 1
		default:
			out.WriteByte(c)
			i++
		}
	}
	return out.String(), nil
}

func (r renderer) resolve(ref string) (string, error) {
	name, format, hasFormat := strings.Cut(ref, ":")
	name = strings.TrimSpace(name)
	if !variableName.MatchString(name) {
		return "", fmt.Errorf("malformed reference {%s}", ref)
	}
	if hasFormat && name != domain.VarDate {
		return "", fmt.Errorf("format specifier is only supported for {date}, got {%s}", ref)
	}
	if hasFormat && strings.TrimSpace(format) == "" {
		return "", fmt.Errorf("empty format specifier in {%s}", ref)
	}

	switch name {
	case domain.VarDocFolder:
		return sanitizeValue(docFolder(r.tpl)), nil
	case domain.VarDocType:
		docType := strings.TrimSpace(r.tpl.DocType)
		if docType == "" {
			docType = domain.DefaultDocType
		}
		return sanitizeValue(docType), nil
	case domain.VarOriginalName:
		return sanitizeValue(r.vars.OriginalName), nil
	case domain.VarCompany, domain.VarInvoiceNumber, domain.VarDate:
	default:
		if !r.tpl.DeclaresField(name) {
			return "", fmt.Errorf("unknown variable {%s}", name)
		}
	}

	if value, ok := r.vars.Fields[name]; ok && strings.TrimSpace(value) != "" {
		if name != domain.VarDate {
			return sanitizeValue(value), nil
		}
		if formatted, ok := formatDate(value, format); ok {
			return sanitizeValue(formatted), nil
		}
	}

	if fallback, ok := r.tpl.Defaults[name]; ok && strings.TrimSpace(fallback) != "" {
		return sanitizeValue(fallback), nil
	}
	return "", fmt.Errorf("no value for {%s}", name)
}

func docFolder(tpl domain.Template) string {
	if folder := strings.TrimSpace(tpl.DocFolder); folder != "" {
		return folder
	}
	return domain.DefaultDocFolder
}

// formatDate parses raw day-first and applies an strftime format.
func formatDate(raw, format string) (string, bool) {
	t, ok := parseDate(strings.TrimSpace(raw))
	if !ok {
		return "", false
	}
	if format == "" {
		format = defaultDateFormat
	}
	return strftime.Format(format, t), true
}

// parseDate reads dd.mm.yyyy, dd-mm-yyyy and dd/mm/yyyy day-first, falling
// back to month-first only when the day-first reading is impossible. Other
// layouts go through dateparse.
func parseDate(raw string) (time.Time, bool) {
	if m := numericDate.FindStringSubmatch(raw); m != nil {
		first, _ := strconv.Atoi(m[1])
		second, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if len(m[3]) == 2 {
			year += 2000
		}
		if t, ok := calendarDate(year, second, first); ok {
			return t, true
		}
		return calendarDate(year, first, second)
	}
	t, err := dateparse.ParseIn(raw, time.UTC, dateparse.PreferMonthFirst(false))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func calendarDate(year, month, day int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

// sanitizeValue replaces characters that are illegal in file names,
// backslashes included, and collapses whitespace. Forward slashes survive
// so the path check can see them.
func sanitizeValue(value string) string {
	value = whitespaceRun.ReplaceAllString(value, " ")
	value = illegalNameChars.ReplaceAllStringFunc(value, func(m string) string {
		if strings.ContainsRune(m, 0) {
			return m
		}
		return "_"
	})
	return strings.TrimSpace(value)
}

func sanitizeSegment(segment string) string {
	return truncateBytes(sanitizeValue(segment), maxSegmentBytes)
}

func cleanRelDir(raw string) (string, error) {
	if strings.ContainsRune(raw, 0) {
		return "", errors.New("output path contains a NUL byte")
	}
	raw = strings.ReplaceAll(strings.TrimSpace(raw), `\`, "/")
	if strings.HasPrefix(raw, "/") || filepath.IsAbs(raw) || hasVolume(raw) {
		return "", fmt.Errorf("output path %q is absolute", raw)
	}

	segments := make([]string, 0, strings.Count(raw, "/")+1)
	for _, segment := range strings.Split(raw, "/") {
		segment = strings.TrimSpace(segment)
		switch segment {
		case "", ".":
			continue
		case "..":
			return "", fmt.Errorf("output path %q contains a parent reference", raw)
		}
		segments = append(segments, sanitizeSegment(segment))
	}
	return strings.Join(segments, "/"), nil
}

func cleanFilename(raw string) (string, error) {
	if strings.ContainsRune(raw, 0) {
		return "", errors.New("filename contains a NUL byte")
	}
	raw = strings.TrimSpace(raw)
	if strings.ContainsAny(raw, `/\`) {
		return "", fmt.Errorf("filename %q contains a path separator", raw)
	}
	if raw == "." || raw == ".." {
		return "", fmt.Errorf("filename %q is not a file name", raw)
	}
	return sanitizeValue(raw), nil
}

// hasVolume catches "C:" style prefixes regardless of the host OS.
func hasVolume(p string) bool {
	if len(p) < 2 || p[1] != ':' {
		return false
	}
	return unicode.IsLetter(rune(p[0]))
}

func truncateBytes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimSpace(s[:cut])
}
