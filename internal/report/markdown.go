package report

import (
	"fmt"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"narpstat/domain/analysis"
)

// Markdown renders a run artifact as a markdown report
func Markdown(run *analysis.AnalysisRun) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Run %s\n\n", run.ID)
	fmt.Fprintf(&sb, "- kind: %s\n- created: %s\n- seed: %d\n", run.Kind, run.CreatedAt, run.Seed)

	if run.Prepare != nil {
		p := run.Prepare
		sb.WriteString("\n## Prepare summary\n\n")
		fmt.Fprintf(&sb, "| metric | value |\n|---|---|\n")
		fmt.Fprintf(&sb, "| teams | %d |\n", p.Teams)
		fmt.Fprintf(&sb, "| teams kept | %d |\n", p.TeamsKept)
		fmt.Fprintf(&sb, "| observations | %d |\n", p.Observations)
		fmt.Fprintf(&sb, "| missing smoothness | %d |\n", p.MissingSmoothness)
		fmt.Fprintf(&sb, "| missing decisions | %d |\n", p.MissingDecisions)
		fmt.Fprintf(&sb, "| missing similarity | %d |\n", p.MissingSimilarity)
		fmt.Fprintf(&sb, "| unknown software | %d |\n", p.UnknownSoftware)
		fmt.Fprintf(&sb, "| unknown testing | %d |\n", p.UnknownTesting)
		fmt.Fprintf(&sb, "| fingerprint | `%s` |\n", p.Fingerprint)
	}

	if run.Tables != nil {
		writeTablesMarkdown(&sb, run.Tables)
	}
	if run.Bootstrap != nil {
		writeBootstrapMarkdown(&sb, run.Bootstrap)
	}
	return sb.String()
}

func writeTablesMarkdown(sb *strings.Builder, tables *analysis.ModelTables) {
	if len(tables.DecisionRates) > 0 {
		sb.WriteString("\n## Decision rates\n\n")
		sb.WriteString("| hypothesis | rate | teams | contrast |\n|---|---|---|---|\n")
		for _, dr := range tables.DecisionRates {
			fmt.Fprintf(sb, "| h%d | %.3f | %d | %s |\n", dr.Hypothesis, dr.Rate, dr.Teams, dr.Label)
		}
	}

	if len(tables.Screen) > 0 {
		sb.WriteString("\n## Smoothness vs decision screen\n\n")
		sb.WriteString("| hypothesis | rho | p | q (BH) | n |\n|---|---|---|---|---|\n")
		for _, s := range tables.Screen {
			fmt.Fprintf(sb, "| h%d | %.3f | %.4f | %.4f | %d |\n", s.Hypothesis, s.Rho, s.PValue, s.QValue, s.N)
		}
	}

	if tables.Decision != nil {
		sb.WriteString("\n## Mixed logistic model (decision)\n\n")
		writeFitMarkdown(sb, tables.Decision, true)
	}
	if len(tables.Comparisons) > 0 {
		sb.WriteString("\n## Model comparisons\n\n")
		sb.WriteString("dAIC/dBIC are criterion(reduced) - criterion(full); positive favors keeping the covariate.\n\n")
		sb.WriteString("| covariate | dAIC | dBIC |\n|---|---|---|\n")
		for _, c := range tables.Comparisons {
			fmt.Fprintf(sb, "| %s | %.2f | %.2f |\n", c.Covariate, c.DeltaAIC, c.DeltaBIC)
		}
	}
	if tables.Similarity != nil {
		sb.WriteString("\n## Linear mixed model (similarity)\n\n")
		writeFitMarkdown(sb, tables.Similarity, false)
	}
}

func writeFitMarkdown(sb *strings.Builder, fit *analysis.FitResult, odds bool) {
	if odds {
		sb.WriteString("| term | estimate | se | OR |\n|---|---|---|---|\n")
	} else {
		sb.WriteString("| term | estimate | se |\n|---|---|---|\n")
	}
	for _, c := range fit.Coefficients {
		if odds {
			fmt.Fprintf(sb, "| %s | %.4f | %.4f | %.3f |\n", c.Name, c.Estimate, c.StdErr, c.OddsRatio)
		} else {
			fmt.Fprintf(sb, "| %s | %.4f | %.4f |\n", c.Name, c.Estimate, c.StdErr)
		}
	}
	fmt.Fprintf(sb, "\nloglik %.2f, AIC %.2f, BIC %.2f", fit.LogLik, fit.AIC, fit.BIC)
	if fit.RandomInterceptSD > 0 {
		fmt.Fprintf(sb, ", random intercept SD %.3f", fit.RandomInterceptSD)
	}
	sb.WriteString("\n")
}

func writeBootstrapMarkdown(sb *strings.Builder, boot *analysis.BootstrapSummary) {
	sb.WriteString("\n## Bootstrap over teams\n\n")
	fmt.Fprintf(sb, "%d requested, %d completed, %d degenerate, %d failed.\n\n",
		boot.Requested, boot.Completed, boot.Degenerate, boot.Failed)
	sb.WriteString("| statistic | median | CI low | CI high | P(full better) |\n|---|---|---|---|---|\n")
	for _, s := range boot.Stats {
		sel := "-"
		if s.SelectionProb != nil {
			sel = fmt.Sprintf("%.3f", *s.SelectionProb)
		}
		fmt.Fprintf(sb, "| %s | %.3f | %.3f | %.3f | %s |\n", s.Name, s.Median, s.CI.Lower, s.CI.Upper, sel)
	}
}

// HTML renders the markdown report as an HTML fragment for the result server
func HTML(run *analysis.AnalysisRun) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.Tables)
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags})
	return markdown.ToHTML([]byte(Markdown(run)), p, renderer)
}
