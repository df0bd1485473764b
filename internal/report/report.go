// Package report renders task results for the terminal.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/muesli/reflow/wordwrap"

	"github.com/openkoi/openkoi/internal/task"
)

// Outcome color scheme.
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")) // White bold - headers

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // Gray - labels

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")) // White - values

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")) // Green

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")) // Yellow

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")) // Red

	blockerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("9")) // Red bold

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // Gray - per-iteration rows
)

const outputWidth = 100

// decisionStyle picks the color for a terminal decision.
func decisionStyle(d task.Decision) lipgloss.Style {
	switch d {
	case task.DecisionQualityMet:
		return successStyle
	case task.DecisionFailed, task.DecisionRegression:
		return errorStyle
	default:
		return warnStyle
	}
}

// Render formats a finished task with its per-iteration history.
func Render(res *task.Result, cycles []*task.IterationCycle) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Task "+res.TaskID) + "\n")
	b.WriteString(decisionStyle(res.Decision).Render(string(res.Decision)) +
		labelStyle.Render(" ("+res.Decision.Reason()+")") + "\n\n")

	for _, c := range cycles {
		b.WriteString(renderCycle(c) + "\n")
	}
	if len(cycles) > 0 {
		b.WriteString("\n")
	}

	row := func(label, value string) {
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-12s", label)) + valueStyle.Render(value) + "\n")
	}
	row("iterations", fmt.Sprintf("%d", res.Iterations))
	row("best score", fmt.Sprintf("%.2f", res.BestScore))
	row("final score", fmt.Sprintf("%.2f", res.FinalScore))
	row("tokens", humanize.Comma(int64(res.TotalTokens)))
	row("elapsed", res.Elapsed.Round(time.Millisecond).String())
	if res.Err != "" {
		b.WriteString(errorStyle.Render("error       "+res.Err) + "\n")
	}

	if res.Output != "" {
		b.WriteString("\n" + titleStyle.Render("Output") + "\n")
		b.WriteString(wordwrap.String(res.Output, outputWidth) + "\n")
	}

	return b.String()
}

func renderCycle(c *task.IterationCycle) string {
	score := "  -  "
	if c.Evaluated() {
		score = fmt.Sprintf("%.2f ", c.Evaluation.Score)
	}
	line := fmt.Sprintf("  #%-3d %s %-18s %8s tokens  %s",
		c.Index,
		score,
		c.Decision,
		humanize.Comma(int64(c.Usage.Total())),
		c.Duration.Round(time.Millisecond),
	)
	if c.Evaluation != nil && c.Evaluation.HasBlocker() {
		return dimStyle.Render(line) + " " + blockerStyle.Render("BLOCKER")
	}
	return dimStyle.Render(line)
}

// RenderFindings formats a findings list, blockers first.
func RenderFindings(findings []task.Finding) string {
	if len(findings) == 0 {
		return labelStyle.Render("no findings") + "\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Findings") + "\n")
	for _, f := range findings {
		style := labelStyle
		switch f.Severity {
		case task.SeverityBlocker:
			style = blockerStyle
		case task.SeverityImportant:
			style = warnStyle
		}
		b.WriteString(style.Render(fmt.Sprintf("  [%s]", strings.ToUpper(string(f.Severity)))))
		b.WriteString(" " + valueStyle.Render(f.Title))
		if f.Dimension != "" {
			b.WriteString(labelStyle.Render(" (" + f.Dimension + ")"))
		}
		if f.ResolvedBy > 0 {
			b.WriteString(successStyle.Render(fmt.Sprintf(" resolved by #%d", f.ResolvedBy)))
		}
		b.WriteString("\n")
		if f.Description != "" {
			b.WriteString(dimStyle.Render(wordwrap.String("      "+f.Description, outputWidth)) + "\n")
		}
	}
	return b.String()
}

// RenderHistoryLine formats one past task for list output.
func RenderHistoryLine(description, decision string, bestScore float64, finished time.Time) string {
	style := warnStyle
	switch task.Decision(decision) {
	case task.DecisionQualityMet:
		style = successStyle
	case task.DecisionFailed, task.DecisionRegression:
		style = errorStyle
	}
	desc := description
	if len(desc) > 60 {
		desc = desc[:57] + "..."
	}
	return fmt.Sprintf("%s  %s  %s  %s",
		labelStyle.Render(humanize.Time(finished)),
		style.Render(fmt.Sprintf("%-16s", decision)),
		valueStyle.Render(fmt.Sprintf("%.2f", bestScore)),
		valueStyle.Render(desc),
	)
}
