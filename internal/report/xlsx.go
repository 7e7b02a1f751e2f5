package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"narpstat/domain/analysis"
)

// WriteXLSX exports a run artifact as a workbook with one sheet per table
func WriteXLSX(run *analysis.AnalysisRun, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := writeRunSheet(f, run); err != nil {
		return err
	}
	if run.Tables != nil {
		if err := writeTablesSheets(f, run.Tables); err != nil {
			return err
		}
	}
	if run.Bootstrap != nil {
		if err := writeBootstrapSheet(f, run.Bootstrap); err != nil {
			return err
		}
	}

	f.DeleteSheet("Sheet1")
	return f.SaveAs(path)
}

func writeRunSheet(f *excelize.File, run *analysis.AnalysisRun) error {
	const sheet = "Run"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	rows := [][]interface{}{
		{"id", run.ID.String()},
		{"kind", string(run.Kind)},
		{"created", run.CreatedAt.String()},
		{"seed", run.Seed},
	}
	return writeRows(f, sheet, rows)
}

func writeTablesSheets(f *excelize.File, tables *analysis.ModelTables) error {
	if len(tables.DecisionRates) > 0 {
		rows := [][]interface{}{{"hypothesis", "rate", "teams", "contrast"}}
		for _, dr := range tables.DecisionRates {
			rows = append(rows, []interface{}{dr.Hypothesis, dr.Rate, dr.Teams, dr.Label})
		}
		if err := writeSheet(f, "DecisionRates", rows); err != nil {
			return err
		}
	}

	if len(tables.Screen) > 0 {
		rows := [][]interface{}{{"hypothesis", "rho", "p", "q", "n"}}
		for _, s := range tables.Screen {
			rows = append(rows, []interface{}{s.Hypothesis, s.Rho, s.PValue, s.QValue, s.N})
		}
		if err := writeSheet(f, "Screen", rows); err != nil {
			return err
		}
	}

	if tables.Decision != nil {
		if err := writeFitSheet(f, "DecisionModel", tables.Decision); err != nil {
			return err
		}
	}
	if len(tables.Comparisons) > 0 {
		rows := [][]interface{}{{"covariate", "delta_aic", "delta_bic"}}
		for _, c := range tables.Comparisons {
			rows = append(rows, []interface{}{c.Covariate, c.DeltaAIC, c.DeltaBIC})
		}
		if err := writeSheet(f, "Comparisons", rows); err != nil {
			return err
		}
	}
	if tables.Similarity != nil {
		if err := writeFitSheet(f, "SimilarityModel", tables.Similarity); err != nil {
			return err
		}
	}
	return nil
}

func writeFitSheet(f *excelize.File, sheet string, fit *analysis.FitResult) error {
	rows := [][]interface{}{{"term", "estimate", "std_err", "odds_ratio"}}
	for _, c := range fit.Coefficients {
		rows = append(rows, []interface{}{c.Name, c.Estimate, c.StdErr, c.OddsRatio})
	}
	rows = append(rows,
		[]interface{}{},
		[]interface{}{"loglik", fit.LogLik},
		[]interface{}{"aic", fit.AIC},
		[]interface{}{"bic", fit.BIC},
		[]interface{}{"random_intercept_sd", fit.RandomInterceptSD},
	)
	return writeSheet(f, sheet, rows)
}

func writeBootstrapSheet(f *excelize.File, boot *analysis.BootstrapSummary) error {
	rows := [][]interface{}{
		{"requested", boot.Requested},
		{"completed", boot.Completed},
		{"degenerate", boot.Degenerate},
		{"failed", boot.Failed},
		{},
		{"statistic", "n", "mean", "median", "ci_low", "ci_high", "selection_prob"},
	}
	for _, s := range boot.Stats {
		row := []interface{}{s.Name, s.N, s.Mean, s.Median, s.CI.Lower, s.CI.Upper}
		if s.SelectionProb != nil {
			row = append(row, *s.SelectionProb)
		}
		rows = append(rows, row)
	}
	return writeSheet(f, "Bootstrap", rows)
}

func writeSheet(f *excelize.File, sheet string, rows [][]interface{}) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	return writeRows(f, sheet, rows)
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
