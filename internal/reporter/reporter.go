package reporter

import "github.com/LouisBoudreau/licensed/internal/models"

// Formats lists the supported output formats
var Formats = []string{"terminal", "json", "sarif"}

// Reporter is the interface for output formatters
type Reporter interface {
	// Report generates output for an audit cycle
	Report(report models.Report) ([]byte, error)
}

// Get returns a reporter for the specified format
func Get(format string) Reporter {
	switch format {
	case "json":
		return &JSONReporter{}
	case "sarif":
		return &SARIFReporter{}
	default:
		return &TerminalReporter{}
	}
}

// cachePathOf returns the record path a result points at, falling back to
// the dependency location
func cachePathOf(res models.Result) string {
	if res.CachePath != "" {
		return res.CachePath
	}
	return res.Dependency.Path
}
