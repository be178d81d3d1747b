// Package export renders ward lists into shareable documents.
package export

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ehr/rounds/internal/domain/rounds"
)

// HandoverSheet is the name of the worksheet written by WriteHandover.
const HandoverSheet = "Handover"

var handoverColumns = []struct {
	title string
	width float64
}{
	{"Bed", 8},
	{"Patient", 24},
	{"Summary", 36},
	{"Open issues", 48},
	{"Open tasks", 40},
	{"Latest results", 40},
	{"Expected discharge", 18},
	{"Last updated", 20},
}

// WriteHandover writes an XLSX handover sheet with one row per patient,
// ordered by bed then name.
func WriteHandover(w io.Writer, patients []*rounds.Patient, generatedAt time.Time) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", HandoverSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]interface{}, len(handoverColumns))
	for i, col := range handoverColumns {
		header[i] = col.title
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(HandoverSheet, name, name, col.width); err != nil {
			return fmt.Errorf("failed to size column %s: %w", name, err)
		}
	}
	if err := f.SetSheetRow(HandoverSheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	if err := f.SetRowStyle(HandoverSheet, 1, 1, bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}
	wrap, err := f.NewStyle(&excelize.Style{Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"}})
	if err != nil {
		return fmt.Errorf("failed to create body style: %w", err)
	}

	sorted := make([]*rounds.Patient, len(patients))
	copy(sorted, patients)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Bed != sorted[j].Bed {
			return sorted[i].Bed < sorted[j].Bed
		}
		return sorted[i].Name < sorted[j].Name
	})

	for i, p := range sorted {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := handoverRow(p)
		if err := f.SetSheetRow(HandoverSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write patient %s: %w", p.ID, err)
		}
	}
	if n := len(sorted); n > 0 {
		if err := f.SetRowStyle(HandoverSheet, 2, n+1, wrap); err != nil {
			return fmt.Errorf("failed to style rows: %w", err)
		}
	}

	if err := f.SetPanes(HandoverSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	f.SetDocProps(&excelize.DocProperties{
		Title:   "Ward handover",
		Created: generatedAt.UTC().Format(time.RFC3339),
	})

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func handoverRow(p *rounds.Patient) []interface{} {
	discharge := ""
	if p.ExpectedDischargeDate != nil {
		discharge = *p.ExpectedDischargeDate
	}
	return []interface{}{
		p.Bed,
		p.Name,
		p.OneLiner,
		issueLines(p),
		taskLines(p),
		resultLines(p),
		discharge,
		p.LastUpdatedAt.UTC().Format("2006-01-02 15:04"),
	}
}

func issueLines(p *rounds.Patient) string {
	var lines []string
	for _, is := range p.OpenIssues() {
		line := is.Title
		if n := len(is.Subpoints); n > 0 {
			if last := subpointText(is.Subpoints[n-1]); last != "" {
				line += ": " + last
			}
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func subpointText(sp rounds.Subpoint) string {
	switch {
	case sp.Medication != nil:
		return strings.TrimSpace(sp.Medication.Name + " " + sp.Medication.Dose)
	case sp.Procedure != nil:
		return sp.Procedure.Name
	default:
		return sp.Text
	}
}

func taskLines(p *rounds.Patient) string {
	var lines []string
	for _, t := range p.OpenTasks() {
		lines = append(lines, "[ ] "+t.Text)
	}
	return strings.Join(lines, "\n")
}

func resultLines(p *rounds.Patient) string {
	var lines []string
	for _, inv := range p.Investigations {
		switch {
		case len(inv.LabValues) > 0:
			lv := inv.LabValues[len(inv.LabValues)-1]
			lines = append(lines, strings.TrimSpace(fmt.Sprintf("%s %g %s (%s)", inv.Name, lv.Value, lv.Units, lv.Date)))
		case inv.Summary != nil:
			lines = append(lines, inv.Name+": "+*inv.Summary)
		}
	}
	return strings.Join(lines, "\n")
}
