package reporter

import (
	"fmt"
	"strings"

	"github.com/LouisBoudreau/licensed/internal/models"
)

// TerminalReporter outputs an audit report in a human-readable terminal format
type TerminalReporter struct{}

var statusLabels = map[models.Status]string{
	models.StatusNew:            "NEW",
	models.StatusUnchanged:      "OK",
	models.StatusStaleContent:   "STALE",
	models.StatusVersionChanged: "CHANGED",
	models.StatusRemoved:        "REMOVED",
}

// Report generates terminal output for the given report
func (r *TerminalReporter) Report(report models.Report) ([]byte, error) {
	var sb strings.Builder

	if len(report.Sources) == 0 {
		sb.WriteString("No enabled sources found for this project.\n")
		return []byte(sb.String()), nil
	}

	sb.WriteString(fmt.Sprintf("Checked %d dependencies from %s\n", len(report.Results), strings.Join(report.Sources, ", ")))
	sb.WriteString(strings.Repeat("=", 60) + "\n")

	currentType := ""
	for _, res := range report.Results {
		if res.Status == models.StatusUnchanged && res.Err == nil {
			continue
		}
		if t := res.Dependency.Type(); t != currentType {
			currentType = t
			sb.WriteString(fmt.Sprintf("\n%s\n", t))
		}

		sb.WriteString(fmt.Sprintf("  %-8s %s", statusLabels[res.Status], res.Dependency.String()))
		if res.Detail != "" {
			sb.WriteString(fmt.Sprintf(" (%s)", res.Detail))
		}
		sb.WriteString("\n")
		if res.Err != nil {
			sb.WriteString(fmt.Sprintf("           warning: %v\n", res.Err))
		}
	}

	if len(report.SourceErrors) > 0 {
		sb.WriteString("\nErrors\n")
		for _, se := range report.SourceErrors {
			sb.WriteString(fmt.Sprintf("  %s: %v\n", se.Source, se.Err))
		}
	}

	sb.WriteString("\n" + strings.Repeat("-", 60) + "\n")
	sb.WriteString(fmt.Sprintf("%d new, %d unchanged, %d stale, %d version changed, %d removed, %d source errors\n",
		report.Count(models.StatusNew),
		report.Count(models.StatusUnchanged),
		report.Count(models.StatusStaleContent),
		report.Count(models.StatusVersionChanged),
		report.Count(models.StatusRemoved),
		len(report.SourceErrors)))

	if report.Count(models.StatusStaleContent) > 0 {
		sb.WriteString("\nStale records keep their previous license text. Review the installed text and update the cached record.\n")
	}

	return []byte(sb.String()), nil
}
