package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/Aman-CERP/obplan/internal/pipeline"
	"github.com/Aman-CERP/obplan/internal/preflight"
)

// CheckReport is the machine-readable outcome of a check run.
type CheckReport struct {
	RunID    string             `json:"run_id"`
	Status   string             `json:"status"`
	Duration string             `json:"duration"`
	Records  []preflight.Record `json:"records"`
}

// NewCheckReport builds the view of a pass.
func NewCheckReport(r *pipeline.Report) CheckReport {
	records := r.Ledger.Records()
	return CheckReport{
		RunID:    r.RunID,
		Status:   preflight.SummaryStatus(records),
		Duration: r.Duration.Round(time.Millisecond).String(),
		Records:  records,
	}
}

// CheckRenderer displays a preflight ledger.
type CheckRenderer struct {
	cfg    Config
	styles Styles
}

// NewCheckRenderer creates a check renderer.
func NewCheckRenderer(cfg Config) *CheckRenderer {
	return &CheckRenderer{cfg: cfg, styles: GetStyles(cfg.NoColor)}
}

// Render writes the ledger as a table followed by the failures and
// warnings with their remediation hints.
func (r *CheckRenderer) Render(rep CheckReport) error {
	out := r.cfg.Output
	_, _ = fmt.Fprintf(out, "%s %s\n\n", r.styles.Header.Render("Preflight check"), r.styles.Dim.Render(rep.RunID))

	var rows [][]string
	var statuses []string
	for _, rec := range rep.Records {
		status := statusLabel(rec)
		if !r.cfg.Verbose && status == "PASS" {
			continue
		}
		rows = append(rows, []string{rec.NodeID, rec.IP, rec.Item, status, detail(rec)})
		statuses = append(statuses, status)
	}

	if len(rows) > 0 {
		t := table.New().
			Border(lipgloss.NormalBorder()).
			BorderStyle(r.styles.Border).
			Headers("NODE", "IP", "ITEM", "STATUS", "DETAIL").
			Rows(rows...).
			StyleFunc(func(row, col int) lipgloss.Style {
				base := lipgloss.NewStyle().Padding(0, 1)
				if row == table.HeaderRow {
					return base.Inherit(r.styles.Label)
				}
				if col == 3 && row >= 0 && row < len(statuses) {
					return base.Inherit(r.statusStyle(statuses[row]))
				}
				return base
			})
		_, _ = fmt.Fprintln(out, t.Render())
		_, _ = fmt.Fprintln(out)
	}

	r.renderFindings(out, rep.Records)

	_, _ = fmt.Fprintf(out, "Status: %s (%d items, %s)\n",
		r.summaryStyle(rep.Status).Render(strings.ToUpper(rep.Status)), len(rep.Records), rep.Duration)
	return nil
}

func (r *CheckRenderer) renderFindings(out io.Writer, records []preflight.Record) {
	var failures int
	for _, rec := range records {
		if rec.Status != preflight.StatusFail {
			continue
		}
		if failures == 0 {
			_, _ = fmt.Fprintln(out, r.styles.Fail.Render("Failures:"))
		}
		failures++
		_, _ = fmt.Fprintf(out, "  - %s %s: %s\n", rec.NodeID, rec.Item, rec.Err.Message)
		for _, s := range rec.Suggestions {
			fix := "manual"
			if s.AutoFix {
				fix = "auto"
			}
			_, _ = fmt.Fprintf(out, "    %s %s %s\n", r.styles.Label.Render("Hint:"), s.Text, r.styles.Dim.Render("["+fix+"]"))
		}
	}
	if failures > 0 {
		_, _ = fmt.Fprintln(out)
	}

	if !r.cfg.Verbose {
		return
	}
	var warnings int
	for _, rec := range records {
		for _, w := range rec.Warnings {
			if warnings == 0 {
				_, _ = fmt.Fprintln(out, r.styles.Warning.Render("Warnings:"))
			}
			warnings++
			_, _ = fmt.Fprintf(out, "  - %s %s: %s\n", rec.NodeID, rec.Item, w.Message)
		}
	}
	if warnings > 0 {
		_, _ = fmt.Fprintln(out)
	}
}

// RenderJSON writes the report as JSON.
func (r *CheckRenderer) RenderJSON(rep CheckReport) error {
	return WriteJSON(r.cfg.Output, rep)
}

func (r *CheckRenderer) statusStyle(status string) lipgloss.Style {
	switch status {
	case "PASS":
		return r.styles.Pass
	case "WARN":
		return r.styles.Warning
	case "FAIL":
		return r.styles.Fail
	default:
		return r.styles.Dim
	}
}

func (r *CheckRenderer) summaryStyle(summary string) lipgloss.Style {
	switch summary {
	case preflight.SummaryReady:
		return r.styles.Pass
	case preflight.SummaryReadyWithWarnings:
		return r.styles.Warning
	default:
		return r.styles.Fail
	}
}

func statusLabel(rec preflight.Record) string {
	switch {
	case rec.Status == preflight.StatusFail:
		return "FAIL"
	case len(rec.Warnings) > 0:
		return "WARN"
	default:
		return rec.Status.String()
	}
}

func detail(rec preflight.Record) string {
	switch {
	case rec.Err != nil:
		return rec.Err.Message
	case len(rec.Warnings) > 0:
		msg := rec.Warnings[0].Message
		if n := len(rec.Warnings) - 1; n > 0 {
			msg += fmt.Sprintf(" (+%d more)", n)
		}
		return msg
	default:
		return ""
	}
}
