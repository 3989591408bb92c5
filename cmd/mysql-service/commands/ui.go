package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/openfroyo/mysql-service/pkg/engine"
	"github.com/openfroyo/mysql-service/pkg/policy"
	"github.com/openfroyo/mysql-service/pkg/stores"
)

var (
	purple = lipgloss.Color("99")
	green  = lipgloss.Color("76")
	red    = lipgloss.Color("204")
	yellow = lipgloss.Color("214")
	dim    = lipgloss.Color("243")
	faint  = lipgloss.Color("238")
)

var (
	accentStyle  = lipgloss.NewStyle().Foreground(purple)
	successStyle = lipgloss.NewStyle().Foreground(green)
	errorStyle   = lipgloss.NewStyle().Foreground(red)
	warnStyle    = lipgloss.NewStyle().Foreground(yellow)
	mutedStyle   = lipgloss.NewStyle().Foreground(dim)
)

func successMsg(format string, a ...any) string {
	return successStyle.Render("✓") + " " + fmt.Sprintf(format, a...)
}

func warnMsg(format string, a ...any) string {
	return warnStyle.Render("!") + " " + fmt.Sprintf(format, a...)
}

func errorMsg(format string, a ...any) string {
	return errorStyle.Render("✗") + " " + fmt.Sprintf(format, a...)
}

func infoMsg(format string, a ...any) string {
	return accentStyle.Render("●") + " " + fmt.Sprintf(format, a...)
}

// renderTable renders a table with rounded borders and striped rows.
func renderTable(headers []string, rows [][]string) string {
	headerStyle := lipgloss.NewStyle().
		Foreground(purple).
		Bold(true).
		Padding(0, 1)

	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	oddStyle := cellStyle.Foreground(dim)
	evenStyle := cellStyle

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(faint)).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row%2 == 0:
				return evenStyle
			default:
				return oddStyle
			}
		}).
		Headers(headers...).
		Rows(rows...)

	return t.String()
}

func outcomeText(o engine.Outcome) string {
	switch o {
	case engine.OutcomeChanged:
		return warnStyle.Render(string(o))
	case engine.OutcomeFailed:
		return errorStyle.Render(string(o))
	case engine.OutcomeSkipped:
		return mutedStyle.Render(string(o))
	default:
		return string(o)
	}
}

func statusText(s engine.RunStatus) string {
	if s == engine.RunStatusSucceeded {
		return successStyle.Render(string(s))
	}
	return errorStyle.Render(string(s))
}

func recordsTable(records []engine.StepRecord) string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		via := string(rec.Via)
		if rec.NotifiedBy != "" {
			via += " by " + rec.NotifiedBy
		}
		rows = append(rows, []string{
			strconv.Itoa(rec.Sequence),
			rec.StepID,
			string(rec.Action),
			outcomeText(rec.Outcome),
			via,
			rec.Duration.Round(time.Millisecond).String(),
		})
	}
	return renderTable([]string{"#", "STEP", "ACTION", "OUTCOME", "VIA", "DURATION"}, rows)
}

func runsTable(runs []*stores.Run) string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		action := run.Action
		if run.DryRun {
			action += " (dry run)"
		}
		rows = append(rows, []string{
			shortID(run.ID),
			run.ServiceName,
			action,
			run.Host,
			statusText(run.Status),
			strconv.Itoa(run.Changed),
			run.StartedAt.Local().Format(time.DateTime),
			run.Duration().Round(time.Millisecond).String(),
			string(run.ErrorKind),
		})
	}
	return renderTable([]string{"RUN", "SERVICE", "ACTION", "HOST", "STATUS", "CHANGED", "STARTED", "DURATION", "ERROR"}, rows)
}

func violationsTable(violations []policy.Violation) string {
	rows := make([][]string, 0, len(violations))
	for _, v := range violations {
		severity := warnStyle.Render(string(v.Severity))
		if v.Severity == policy.SeverityError {
			severity = errorStyle.Render(string(v.Severity))
		}
		rows = append(rows, []string{v.Policy, severity, v.Field, v.Message})
	}
	return renderTable([]string{"POLICY", "SEVERITY", "FIELD", "MESSAGE"}, rows)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
