package registry

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/RobinCoderZhao/aistats/internal/aistats/sources"
)

// ImportColumns is the header row expected by ImportXLSX. Columns may appear
// in any order; mode, type, name and url are required.
var ImportColumns = []string{"mode", "type", "kind", "name", "url", "tags", "cadence", "params"}

// ImportError reports a rejected spreadsheet row.
type ImportError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// ImportReport summarises an import.
type ImportReport struct {
	Added  int           `json:"added"`
	Errors []ImportError `json:"errors,omitempty"`
}

// ImportXLSX appends every row of the first worksheet to its mode. The
// import is all or nothing: when any row is rejected the catalog is left
// untouched and the report lists the offending rows.
func (r *Registry) ImportXLSX(ctx context.Context, in io.Reader) (*ImportReport, error) {
	f, err := excelize.OpenReader(in)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return &ImportReport{}, nil
	}

	cols := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, req := range []string{"mode", "type", "name", "url"} {
		if _, ok := cols[req]; !ok {
			return nil, fmt.Errorf("%w: header is missing column %q", ErrInvalidSource, req)
		}
	}
	cell := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	report := &ImportReport{}
	next := r.catalog.clone()
	for i, row := range rows[1:] {
		rowNum := i + 2
		if isBlankRow(row) {
			continue
		}
		mode := cell(row, "mode")
		m := next.mode(mode)
		if m == nil {
			report.Errors = append(report.Errors, ImportError{Row: rowNum, Error: fmt.Sprintf("unknown mode %q", mode)})
			continue
		}
		src := sources.Source{
			Type:          sources.Type(strings.ToLower(cell(row, "type"))),
			Kind:          sources.Kind(strings.ToLower(cell(row, "kind"))),
			Name:          cell(row, "name"),
			URL:           cell(row, "url"),
			Tags:          splitCell(cell(row, "tags")),
			UpdateCadence: cell(row, "cadence"),
			Params:        parseParams(cell(row, "params")),
		}
		if err := src.Validate(); err != nil {
			report.Errors = append(report.Errors, ImportError{Row: rowNum, Error: err.Error()})
			continue
		}
		src = src.Resolve()
		src.Mode = mode
		m.Sources = append(m.Sources, src)
		report.Added++
	}

	if len(report.Errors) > 0 {
		rejected := len(report.Errors)
		report.Added = 0
		return report, fmt.Errorf("%w: %d rows rejected", ErrInvalidSource, rejected)
	}
	if report.Added == 0 {
		return report, nil
	}
	if err := r.commitLocked(ctx, next); err != nil {
		return nil, err
	}
	r.logger.Info("sources imported", "added", report.Added)
	return report, nil
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// splitCell splits on commas or semicolons.
func splitCell(s string) []string {
	var out []string
	for _, p := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseParams reads "key=value; key=value".
func parseParams(s string) map[string]string {
	if s == "" {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		if k = strings.TrimSpace(k); k != "" {
			out[k] = strings.TrimSpace(v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
