// Package report renders run artifacts as aligned text for the CLI,
// markdown/HTML for the result server, and XLSX workbooks for export.
package report

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"narpstat/domain/analysis"
)

// Text renders a run as aligned plain-text tables for terminal output
func Text(run *analysis.AnalysisRun) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "run %s (%s)\n", run.ID, run.Kind)
	fmt.Fprintf(&sb, "created %s, seed %d\n", run.CreatedAt, run.Seed)

	if run.Prepare != nil {
		sb.WriteString("\nprepare summary\n")
		w := newTabWriter(&sb)
		fmt.Fprintf(w, "teams\t%d\n", run.Prepare.Teams)
		fmt.Fprintf(w, "teams kept\t%d\n", run.Prepare.TeamsKept)
		fmt.Fprintf(w, "observations\t%d\n", run.Prepare.Observations)
		fmt.Fprintf(w, "missing smoothness\t%d\n", run.Prepare.MissingSmoothness)
		fmt.Fprintf(w, "missing decisions\t%d\n", run.Prepare.MissingDecisions)
		fmt.Fprintf(w, "missing similarity\t%d\n", run.Prepare.MissingSimilarity)
		fmt.Fprintf(w, "unknown software\t%d\n", run.Prepare.UnknownSoftware)
		fmt.Fprintf(w, "unknown testing\t%d\n", run.Prepare.UnknownTesting)
		fmt.Fprintf(w, "output\t%s\n", run.Prepare.OutputPath)
		fmt.Fprintf(w, "fingerprint\t%s\n", run.Prepare.Fingerprint)
		w.Flush()
	}

	if run.Tables != nil {
		writeTablesText(&sb, run.Tables)
	}
	if run.Bootstrap != nil {
		writeBootstrapText(&sb, run.Bootstrap)
	}
	return sb.String()
}

func writeTablesText(sb *strings.Builder, tables *analysis.ModelTables) {
	if len(tables.DecisionRates) > 0 {
		sb.WriteString("\ndecision rates\n")
		w := newTabWriter(sb)
		fmt.Fprintln(w, "hyp\trate\tteams\tlabel")
		for _, dr := range tables.DecisionRates {
			fmt.Fprintf(w, "h%d\t%.3f\t%d\t%s\n", dr.Hypothesis, dr.Rate, dr.Teams, dr.Label)
		}
		w.Flush()
	}

	if len(tables.Screen) > 0 {
		sb.WriteString("\nsmoothness vs decision (Spearman, BH-adjusted)\n")
		w := newTabWriter(sb)
		fmt.Fprintln(w, "hyp\trho\tp\tq\tn")
		for _, s := range tables.Screen {
			fmt.Fprintf(w, "h%d\t%.3f\t%.4f\t%.4f\t%d\n", s.Hypothesis, s.Rho, s.PValue, s.QValue, s.N)
		}
		w.Flush()
	}

	if tables.Decision != nil {
		sb.WriteString("\nmixed logistic model (decision)\n")
		writeFitText(sb, tables.Decision, true)
	}
	if len(tables.Comparisons) > 0 {
		sb.WriteString("\nmodel comparisons (reduced - full)\n")
		w := newTabWriter(sb)
		fmt.Fprintln(w, "covariate\tdAIC\tdBIC")
		for _, c := range tables.Comparisons {
			fmt.Fprintf(w, "%s\t%.2f\t%.2f\n", c.Covariate, c.DeltaAIC, c.DeltaBIC)
		}
		w.Flush()
	}
	if tables.Similarity != nil {
		sb.WriteString("\nlinear mixed model (similarity)\n")
		writeFitText(sb, tables.Similarity, false)
	}
}

func writeFitText(sb *strings.Builder, fit *analysis.FitResult, odds bool) {
	w := newTabWriter(sb)
	if odds {
		fmt.Fprintln(w, "term\testimate\tse\tOR")
	} else {
		fmt.Fprintln(w, "term\testimate\tse")
	}
	for _, c := range fit.Coefficients {
		if odds {
			fmt.Fprintf(w, "%s\t%.4f\t%.4f\t%.3f\n", c.Name, c.Estimate, c.StdErr, c.OddsRatio)
		} else {
			fmt.Fprintf(w, "%s\t%.4f\t%.4f\n", c.Name, c.Estimate, c.StdErr)
		}
	}
	w.Flush()
	w = newTabWriter(sb)
	fmt.Fprintf(w, "loglik\t%.2f\n", fit.LogLik)
	fmt.Fprintf(w, "AIC\t%.2f\n", fit.AIC)
	fmt.Fprintf(w, "BIC\t%.2f\n", fit.BIC)
	if fit.RandomInterceptSD > 0 {
		fmt.Fprintf(w, "random intercept SD\t%.3f\n", fit.RandomInterceptSD)
	}
	w.Flush()
}

func writeBootstrapText(sb *strings.Builder, boot *analysis.BootstrapSummary) {
	fmt.Fprintf(sb, "\nbootstrap over teams (%d requested, %d completed, %d degenerate, %d failed)\n",
		boot.Requested, boot.Completed, boot.Degenerate, boot.Failed)
	w := newTabWriter(sb)
	fmt.Fprintln(w, "statistic\tmedian\tCI low\tCI high\tP(full better)")
	for _, s := range boot.Stats {
		sel := "-"
		if s.SelectionProb != nil {
			sel = fmt.Sprintf("%.3f", *s.SelectionProb)
		}
		fmt.Fprintf(w, "%s\t%.3f\t%.3f\t%.3f\t%s\n", s.Name, s.Median, s.CI.Lower, s.CI.Upper, sel)
	}
	w.Flush()
}

func newTabWriter(sb *strings.Builder) *tabwriter.Writer {
	return tabwriter.NewWriter(sb, 0, 4, 2, ' ', 0)
}
