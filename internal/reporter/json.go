package reporter

import (
	"encoding/json"

	"github.com/LouisBoudreau/licensed/internal/models"
)

// JSONReporter outputs an audit report in JSON format
type JSONReporter struct{}

// jsonOutput represents the JSON output structure
type jsonOutput struct {
	Summary      jsonSummary       `json:"summary"`
	Sources      []string          `json:"sources"`
	Results      []jsonResult      `json:"results"`
	SourceErrors []jsonSourceError `json:"source_errors"`
}

type jsonSummary struct {
	Total          int  `json:"total"`
	New            int  `json:"new"`
	Unchanged      int  `json:"unchanged"`
	StaleContent   int  `json:"stale_content"`
	VersionChanged int  `json:"version_changed"`
	Removed        int  `json:"removed"`
	Drift          bool `json:"drift"`
}

type jsonResult struct {
	Package   jsonPackage `json:"package"`
	Status    string      `json:"status"`
	Detail    string      `json:"detail,omitempty"`
	CachePath string      `json:"cache_path"`
	Error     string      `json:"error,omitempty"`
}

type jsonPackage struct {
	Name     string `json:"name"`
	Version  string `json:"version,omitempty"`
	Type     string `json:"type"`
	Path     string `json:"path,omitempty"`
	Homepage string `json:"homepage,omitempty"`
}

type jsonSourceError struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

// Report generates JSON output for the given report
func (r *JSONReporter) Report(report models.Report) ([]byte, error) {
	output := jsonOutput{
		Summary: jsonSummary{
			Total:          len(report.Results),
			New:            report.Count(models.StatusNew),
			Unchanged:      report.Count(models.StatusUnchanged),
			StaleContent:   report.Count(models.StatusStaleContent),
			VersionChanged: report.Count(models.StatusVersionChanged),
			Removed:        report.Count(models.StatusRemoved),
			Drift:          report.HasDrift(),
		},
		Sources:      report.Sources,
		Results:      make([]jsonResult, 0, len(report.Results)),
		SourceErrors: make([]jsonSourceError, 0, len(report.SourceErrors)),
	}
	if output.Sources == nil {
		output.Sources = []string{}
	}

	for _, res := range report.Results {
		jr := jsonResult{
			Package: jsonPackage{
				Name:     res.Dependency.Name,
				Version:  res.Dependency.Version,
				Type:     res.Dependency.Type(),
				Path:     res.Dependency.Path,
				Homepage: res.Dependency.Metadata[models.MetadataHomepage],
			},
			Status:    string(res.Status),
			Detail:    res.Detail,
			CachePath: res.CachePath,
		}
		if res.Err != nil {
			jr.Error = res.Err.Error()
		}
		output.Results = append(output.Results, jr)
	}

	for _, se := range report.SourceErrors {
		output.SourceErrors = append(output.SourceErrors, jsonSourceError{Source: se.Source, Error: se.Err.Error()})
	}

	return json.MarshalIndent(output, "", "  ")
}
