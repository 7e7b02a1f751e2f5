// Package excel reads the per-team decisions workbook, XLSX or CSV.
package excel

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"narpstat/domain/core"
	"narpstat/domain/study"
)

// Expected header of the decisions file
var decisionColumns = []string{
	"team_id", "software", "testing", "fmriprep", "movement",
	"h1", "h2", "h3", "h4", "h5", "h6", "h7", "h8", "h9",
}

// IngestStats counts the tolerant coercions applied during ingest
type IngestStats struct {
	Teams           int
	UnknownSoftware int
	UnknownTesting  int
}

// DecisionsReader handles reading the decisions workbook from Excel or CSV
type DecisionsReader struct {
	filePath string
	fileType string // "xlsx" or "csv"
}

// NewDecisionsReader creates a reader that handles both Excel and CSV files
func NewDecisionsReader(filePath string) *DecisionsReader {
	ext := strings.ToLower(filepath.Ext(filePath))
	fileType := "xlsx"
	if ext == ".csv" {
		fileType = "csv"
	}
	return &DecisionsReader{filePath: filePath, fileType: fileType}
}

// ReadTeams reads the workbook into wide team records
func (r *DecisionsReader) ReadTeams() ([]study.TeamRecord, *IngestStats, error) {
	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("%s file not found: %s", strings.ToUpper(r.fileType), r.filePath)
	}

	var rows [][]string
	var err error
	switch r.fileType {
	case "csv":
		rows, err = r.readCSVRows()
	case "xlsx":
		rows, err = r.readExcelRows()
	default:
		return nil, nil, fmt.Errorf("unsupported file type: %s", r.fileType)
	}
	if err != nil {
		return nil, nil, err
	}
	if len(rows) < 2 {
		return nil, nil, fmt.Errorf("decisions file must have a header row and at least one data row")
	}

	return r.processRows(rows)
}

// readExcelRows reads Sheet1 of the workbook
func (r *DecisionsReader) readExcelRows() ([][]string, error) {
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Sheet1")
	if err != nil {
		return nil, fmt.Errorf("failed to read Sheet1: %w", err)
	}
	return rows, nil
}

func (r *DecisionsReader) readCSVRows() ([][]string, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	return rows, nil
}

// processRows converts raw string rows into team records with tolerant cell
// coercion: yes/no, true/false and 1/0 for booleans; unknown software and
// testing values collapse to the Other level and are counted.
func (r *DecisionsReader) processRows(rows [][]string) ([]study.TeamRecord, *IngestStats, error) {
	header := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		name := strings.ToLower(strings.TrimSpace(h))
		if name == "" {
			continue
		}
		if _, dup := header[name]; dup {
			return nil, nil, core.NewValidationError("decisions", fmt.Sprintf("duplicate column %q", name))
		}
		header[name] = i
	}
	for _, col := range decisionColumns {
		if _, ok := header[col]; !ok {
			return nil, nil, core.NewValidationError("decisions", fmt.Sprintf("column %q missing", col))
		}
	}

	cell := func(row []string, col string) string {
		i := header[col]
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	stats := &IngestStats{}
	seen := make(map[study.TeamID]bool)
	var records []study.TeamRecord

	for lineNo, row := range rows[1:] {
		id := cell(row, "team_id")
		if id == "" {
			return nil, nil, core.NewValidationError("decisions", fmt.Sprintf("row %d: empty team_id", lineNo+2))
		}
		teamID := study.TeamID(id)
		if seen[teamID] {
			return nil, nil, fmt.Errorf("%w: %s", core.ErrDuplicateTeam, teamID)
		}
		seen[teamID] = true

		software, known := study.ParseSoftware(cell(row, "software"))
		if !known {
			stats.UnknownSoftware++
		}
		testing, known := study.ParseTesting(cell(row, "testing"))
		if !known {
			stats.UnknownTesting++
		}
		fmriprep, err := study.ParseFlag("fmriprep", cell(row, "fmriprep"))
		if err != nil {
			return nil, nil, fmt.Errorf("row %d: %w", lineNo+2, err)
		}
		movement, err := study.ParseFlag("movement", cell(row, "movement"))
		if err != nil {
			return nil, nil, fmt.Errorf("row %d: %w", lineNo+2, err)
		}

		record := study.TeamRecord{
			ID:        teamID,
			Software:  software,
			Testing:   testing,
			Fmriprep:  fmriprep,
			Movement:  movement,
			Decisions: make(map[study.Hypothesis]bool, study.NumHypotheses),
		}
		for _, h := range study.AllHypotheses() {
			raw := cell(row, h.String())
			if raw == "" {
				continue // a team may have skipped a hypothesis
			}
			decision, err := study.ParseDecision(raw)
			if err != nil {
				return nil, nil, fmt.Errorf("row %d, %s: %w", lineNo+2, h, err)
			}
			record.Decisions[h] = decision
		}
		records = append(records, record)
	}

	stats.Teams = len(records)
	return records, stats, nil
}
