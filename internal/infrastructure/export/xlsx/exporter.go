package xlsx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/papertrellis/internal/core/domain"
)

const (
	SheetName   = "Routing"
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	maxReasonChars = 240
)

var headers = []string{
	"Received",
	"Status",
	"Original File",
	"Source",
	"Template",
	"Method",
	"Fields",
	"Destination",
	"Failure Kind",
	"Failure Reason",
}

// Exporter writes routing history as an XLSX workbook.
type Exporter struct {
	logger *slog.Logger
}

func NewExporter(logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{logger: logger}
}

func (e *Exporter) ExportDocuments(ctx context.Context, docs []domain.Document, w io.Writer) error {
	start := time.Now()

	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("xlsx rename sheet: %w", err)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(SheetName, cell, h); err != nil {
			return fmt.Errorf("xlsx header: %w", err)
		}
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetRowStyle(SheetName, 1, 1, style)
	}

	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		row := i + 2
		values := []any{
			doc.CreatedAt.UTC().Format(time.RFC3339),
			string(doc.Status),
			doc.OriginalFilename,
			string(doc.Source),
			doc.MatchedTemplateName,
			string(doc.ExtractionMethod),
			formatFields(doc.Fields),
			doc.DestinationPath,
			string(doc.FailureKind),
			truncate(doc.FailureReason, maxReasonChars),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(SheetName, cell, v); err != nil {
				return fmt.Errorf("xlsx cell %s: %w", cell, err)
			}
		}
	}

	_ = f.SetColWidth(SheetName, "A", "A", 22)
	_ = f.SetColWidth(SheetName, "B", "B", 10)
	_ = f.SetColWidth(SheetName, "C", "C", 32)
	_ = f.SetColWidth(SheetName, "D", "F", 14)
	_ = f.SetColWidth(SheetName, "G", "G", 40)
	_ = f.SetColWidth(SheetName, "H", "H", 60)
	_ = f.SetColWidth(SheetName, "I", "I", 20)
	_ = f.SetColWidth(SheetName, "J", "J", 60)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}

	e.logger.Info("export.xlsx.ok",
		"rows", len(docs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// formatFields renders fields as "k=v; k=v" in key order.
func formatFields(fields map[string]string) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+fields[k])
	}
	return strings.Join(parts, "; ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
