// Package export writes pipeline runs to spreadsheet workbooks.
package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/polisai/polis-docintel/pkg/domain"
)

// Sheet names.
const (
	RunsSheet   = "Runs"
	ChecksSheet = "Checks"
)

var runHeaders = []string{
	"Run ID",
	"Created",
	"Document Type",
	"Extraction Provider",
	"Extraction Confidence",
	"Compliance Provider",
	"Valid",
	"Score",
	"Synthesized",
	"Fallback Reasons",
	"Top HS Code",
	"Elapsed (ms)",
}

var checkHeaders = []string{"Run ID", "Source", "Check", "Passed", "Severity", "Message"}

// WriteRunsXLSX writes one row per run on the Runs sheet and one row per
// compliance or preflight check on the Checks sheet.
func WriteRunsXLSX(w io.Writer, runs []domain.PipelineRun) error {
	f := excelize.NewFile()
	defer f.Close()

	// NewFile starts with Sheet1; rename it rather than leave it empty.
	if err := f.SetSheetName(f.GetSheetName(0), RunsSheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(ChecksSheet); err != nil {
		return err
	}
	index, _ := f.GetSheetIndex(RunsSheet)
	f.SetActiveSheet(index)

	writeRow(f, RunsSheet, 1, toAny(runHeaders))
	writeRow(f, ChecksSheet, 1, toAny(checkHeaders))

	checkRow := 2
	for i, r := range runs {
		writeRow(f, RunsSheet, i+2, runRow(r))

		for _, c := range r.Compliance.Checks {
			writeRow(f, ChecksSheet, checkRow, checkRowValues(r.ID, "provider", c))
			checkRow++
		}
		for _, c := range r.Compliance.Preflight {
			writeRow(f, ChecksSheet, checkRow, checkRowValues(r.ID, "preflight", c))
			checkRow++
		}
	}

	_ = f.SetColWidth(RunsSheet, "A", "A", 38)
	_ = f.SetColWidth(RunsSheet, "B", "B", 20)
	_ = f.SetColWidth(RunsSheet, "C", "J", 16)
	_ = f.SetColWidth(ChecksSheet, "A", "A", 38)
	_ = f.SetColWidth(ChecksSheet, "C", "C", 30)
	_ = f.SetColWidth(ChecksSheet, "F", "F", 60)
	_ = f.SetPanes(RunsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

func runRow(r domain.PipelineRun) []any {
	var reasons []string
	for _, s := range r.Stages {
		if s.FallbackReason != domain.FallbackNone {
			reasons = append(reasons, s.Stage+"="+string(s.FallbackReason))
		}
	}
	topCode := ""
	if r.Classification != nil && len(r.Classification.Suggestions) > 0 {
		topCode = r.Classification.Suggestions[0].Code
	}
	return []any{
		r.ID,
		r.CreatedAt.UTC().Format(time.RFC3339),
		string(r.DocumentType),
		r.Extraction.ProviderID,
		r.Extraction.Confidence,
		r.Compliance.ProviderID,
		r.Compliance.IsValid,
		r.Compliance.Score,
		r.Synthesized(),
		strings.Join(reasons, ", "),
		topCode,
		r.ElapsedMs,
	}
}

func checkRowValues(runID, source string, c domain.Check) []any {
	return []any{runID, source, c.Name, c.Passed, string(c.Severity), c.Message}
}

func writeRow(f *excelize.File, sheet string, row int, values []any) {
	cell, _ := excelize.CoordinatesToCellName(1, row)
	_ = f.SetSheetRow(sheet, cell, &values)
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
