package reporter

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/LouisBoudreau/licensed/internal/models"
)

// ToolVersion is reported as the SARIF driver version
var ToolVersion = "dev"

// SARIFReporter outputs drift in SARIF format for GitHub Code Scanning
type SARIFReporter struct{}

// SARIF structures
type sarifReport struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name           string      `json:"name"`
	Version        string      `json:"version"`
	InformationURI string      `json:"informationUri"`
	Rules          []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	ShortDescription sarifText       `json:"shortDescription"`
	Help             sarifText       `json:"help"`
	DefaultConfig    sarifRuleConfig `json:"defaultConfiguration"`
	Properties       sarifProperties `json:"properties"`
}

type sarifText struct {
	Text string `json:"text"`
}

type sarifRuleConfig struct {
	Level string `json:"level"`
}

type sarifProperties struct {
	Tags []string `json:"tags"`
}

type sarifResult struct {
	RuleID              string            `json:"ruleId"`
	RuleIndex           int               `json:"ruleIndex"`
	Level               string            `json:"level"`
	Message             sarifText         `json:"message"`
	Locations           []sarifLocation   `json:"locations"`
	PartialFingerprints map[string]string `json:"partialFingerprints"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifact `json:"artifactLocation"`
}

type sarifArtifact struct {
	URI string `json:"uri"`
}

// sarifRules are reported in this order; ruleIndex refers to it
var sarifRules = []sarifRule{
	{
		ID:               "licensed/stale-content",
		Name:             "StaleLicenseContent",
		ShortDescription: sarifText{Text: "Installed license text differs from the cached record"},
		Help:             sarifText{Text: "Review the installed license text and update the cached record once approved."},
		DefaultConfig:    sarifRuleConfig{Level: "error"},
		Properties:       sarifProperties{Tags: []string{"license", "compliance"}},
	},
	{
		ID:               "licensed/version-changed",
		Name:             "DependencyVersionChanged",
		ShortDescription: sarifText{Text: "Dependency version changed and its record was recaptured"},
		Help:             sarifText{Text: "Review the recaptured record for the new version."},
		DefaultConfig:    sarifRuleConfig{Level: "warning"},
		Properties:       sarifProperties{Tags: []string{"license", "compliance"}},
	},
	{
		ID:               "licensed/new",
		Name:             "NewDependency",
		ShortDescription: sarifText{Text: "Dependency has no cached record yet"},
		Help:             sarifText{Text: "Run licensed cache and review the captured record."},
		DefaultConfig:    sarifRuleConfig{Level: "warning"},
		Properties:       sarifProperties{Tags: []string{"license", "compliance"}},
	},
	{
		ID:               "licensed/removed",
		Name:             "RemovedDependency",
		ShortDescription: sarifText{Text: "Cached record refers to a dependency that is no longer installed"},
		Help:             sarifText{Text: "Run licensed cache to delete the record."},
		DefaultConfig:    sarifRuleConfig{Level: "note"},
		Properties:       sarifProperties{Tags: []string{"license"}},
	},
	{
		ID:               "licensed/source-error",
		Name:             "SourceError",
		ShortDescription: sarifText{Text: "Dependencies of a source could not be enumerated"},
		Help:             sarifText{Text: "Fix the source configuration or install the ecosystem tooling."},
		DefaultConfig:    sarifRuleConfig{Level: "error"},
		Properties:       sarifProperties{Tags: []string{"configuration"}},
	},
}

var ruleIndexByStatus = map[models.Status]int{
	models.StatusStaleContent:   0,
	models.StatusVersionChanged: 1,
	models.StatusNew:            2,
	models.StatusRemoved:        3,
}

const sourceErrorRuleIndex = 4

// Report generates SARIF output for the given report
func (r *SARIFReporter) Report(report models.Report) ([]byte, error) {
	output := sarifReport{
		Schema:  "https://json.schemastore.org/sarif-2.1.0.json",
		Version: "2.1.0",
		Runs: []sarifRun{{
			Tool: sarifTool{
				Driver: sarifDriver{
					Name:           "licensed",
					Version:        ToolVersion,
					InformationURI: "https://github.com/LouisBoudreau/licensed",
					Rules:          sarifRules,
				},
			},
			Results: r.buildResults(report),
		}},
	}

	return json.MarshalIndent(output, "", "  ")
}

func (r *SARIFReporter) buildResults(report models.Report) []sarifResult {
	results := []sarifResult{}

	for _, res := range report.Results {
		index, ok := ruleIndexByStatus[res.Status]
		if !ok {
			continue
		}
		rule := sarifRules[index]

		msg := fmt.Sprintf("%s dependency %s: %s", res.Dependency.Type(), res.Dependency.String(), rule.ShortDescription.Text)
		if res.Detail != "" {
			msg += " (" + res.Detail + ")"
		}

		results = append(results, sarifResult{
			RuleID:    rule.ID,
			RuleIndex: index,
			Level:     rule.DefaultConfig.Level,
			Message:   sarifText{Text: msg},
			Locations: []sarifLocation{location(cachePathOf(res))},
			PartialFingerprints: map[string]string{
				"dependency": fmt.Sprintf("%s:%s:%s", res.Dependency.Type(), res.Dependency.Name, res.Dependency.Version),
			},
		})
	}

	for _, se := range report.SourceErrors {
		rule := sarifRules[sourceErrorRuleIndex]
		results = append(results, sarifResult{
			RuleID:    rule.ID,
			RuleIndex: sourceErrorRuleIndex,
			Level:     rule.DefaultConfig.Level,
			Message:   sarifText{Text: fmt.Sprintf("%s: %v", se.Source, se.Err)},
			Locations: []sarifLocation{location(".licensed.yml")},
			PartialFingerprints: map[string]string{
				"source": se.Source,
			},
		})
	}

	return results
}

func location(path string) sarifLocation {
	return sarifLocation{
		PhysicalLocation: sarifPhysicalLocation{
			ArtifactLocation: sarifArtifact{URI: filepath.ToSlash(path)},
		},
	}
}
