// Package export serializes a month of ledger records for download.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/punchamoorthee/webledger/internal/domain"
)

const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"

	sheetName = "finance"
)

var header = []string{"id", "date", "concept", "category", "amount", "kind", "created_at"}

// Exporter renders records in the formats this build supports.
type Exporter struct {
	xlsxEnabled bool
}

func New(xlsxEnabled bool) *Exporter {
	return &Exporter{xlsxEnabled: xlsxEnabled}
}

// Export renders rows, which must already be ordered, for the given month.
func (e *Exporter) Export(rows []domain.Record, month, format string) (*domain.Export, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatCSV:
		body, err := CSV(rows)
		if err != nil {
			return nil, err
		}
		return &domain.Export{
			Body:        body,
			ContentType: "text/csv; charset=utf-8",
			FileName:    fmt.Sprintf("finance-%s.csv", month),
		}, nil
	case FormatXLSX:
		if !e.xlsxEnabled {
			return nil, domain.Errorf(domain.ErrCapabilityUnavailable, "xlsx export is disabled in this build")
		}
		body, err := XLSX(rows)
		if err != nil {
			return nil, err
		}
		return &domain.Export{
			Body:        body,
			ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			FileName:    fmt.Sprintf("finance-%s.xlsx", month),
		}, nil
	default:
		return nil, domain.Errorf(domain.ErrValidation, "unsupported export format %q, use csv or xlsx", format)
	}
}

func row(r *domain.Record) []string {
	return []string{
		r.ID,
		r.Date,
		r.Concept,
		r.Category,
		strconv.FormatInt(r.Amount, 10),
		string(r.Kind),
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func CSV(rows []domain.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for i := range rows {
		if err := w.Write(row(&rows[i])); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}

func XLSX(rows []domain.Record) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	for i, h := range header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetName, cell, h)
	}

	for idx := range rows {
		r := &rows[idx]
		line := idx + 2
		f.SetCellValue(sheetName, fmt.Sprintf("A%d", line), r.ID)
		f.SetCellValue(sheetName, fmt.Sprintf("B%d", line), r.Date)
		f.SetCellValue(sheetName, fmt.Sprintf("C%d", line), r.Concept)
		f.SetCellValue(sheetName, fmt.Sprintf("D%d", line), r.Category)
		f.SetCellValue(sheetName, fmt.Sprintf("E%d", line), r.Amount)
		f.SetCellValue(sheetName, fmt.Sprintf("F%d", line), string(r.Kind))
		f.SetCellValue(sheetName, fmt.Sprintf("G%d", line), r.CreatedAt.UTC().Format(time.RFC3339Nano))
	}

	f.SetColWidth(sheetName, "A", "A", 38)
	f.SetColWidth(sheetName, "B", "B", 12)
	f.SetColWidth(sheetName, "C", "C", 30)
	f.SetColWidth(sheetName, "D", "D", 15)
	f.SetColWidth(sheetName, "E", "E", 12)
	f.SetColWidth(sheetName, "G", "G", 32)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}
