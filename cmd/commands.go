package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/LouisBoudreau/licensed/internal/models"
	"github.com/LouisBoudreau/licensed/internal/scanner"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Capture license records for new and changed dependencies",
	Long: `cache reconciles every enabled source against the record cache.
New dependencies and dependencies whose version changed are captured,
records of removed dependencies are deleted. Records whose installed
license text changed at the same version are left for review.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()

		report, err := s.scanner.Run(cmd.Context())
		if err != nil {
			return fmt.Errorf("cache failed: %w", err)
		}
		if err := writeReport(cmd.OutOrStdout(), report); err != nil {
			return err
		}

		if cacheNeedsAttention(report) {
			return errDrift
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check cached records against installed dependencies without writing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()

		report, err := s.scanner.Status(cmd.Context())
		if err != nil {
			return fmt.Errorf("status failed: %w", err)
		}
		if err := writeReport(cmd.OutOrStdout(), report); err != nil {
			return err
		}

		if statusNeedsAttention(report) {
			return errDrift
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the dependencies enumerated by every enabled source",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()

		lists, failed, err := s.scanner.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("list failed: %w", err)
		}

		var output []byte
		if flagFormat == "json" {
			output, err = listJSON(lists, failed)
			if err != nil {
				return err
			}
		} else {
			output = []byte(listText(lists, failed))
		}
		if err := writeOutput(cmd.OutOrStdout(), output); err != nil {
			return err
		}

		if len(failed) > 0 {
			return errDrift
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the licensed version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), Version)
	},
}

// cacheNeedsAttention reports what a cache run could not resolve by itself
func cacheNeedsAttention(report models.Report) bool {
	return len(report.SourceErrors) > 0 || report.HasErrors() || report.Count(models.StatusStaleContent) > 0
}

func statusNeedsAttention(report models.Report) bool {
	return report.HasDrift() || report.HasErrors()
}

func listText(lists []scanner.Enumerated, failed []models.SourceError) string {
	var sb strings.Builder
	for _, l := range lists {
		sb.WriteString(fmt.Sprintf("%s (%d)\n", l.Source, len(l.Dependencies)))
		for _, d := range l.Dependencies {
			sb.WriteString(fmt.Sprintf("  %s\n", d.String()))
		}
	}
	for _, f := range failed {
		sb.WriteString(fmt.Sprintf("%s: %v\n", f.Source, f.Err))
	}
	return sb.String()
}

type listedDependency struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Path    string `json:"path"`
}

func listJSON(lists []scanner.Enumerated, failed []models.SourceError) ([]byte, error) {
	out := struct {
		Sources map[string][]listedDependency `json:"sources"`
		Errors  map[string]string             `json:"errors,omitempty"`
	}{
		Sources: make(map[string][]listedDependency, len(lists)),
	}

	for _, l := range lists {
		deps := make([]listedDependency, 0, len(l.Dependencies))
		for _, d := range l.Dependencies {
			deps = append(deps, listedDependency{Name: d.Name, Version: d.Version, Path: d.Path})
		}
		out.Sources[l.Source] = deps
	}
	if len(failed) > 0 {
		out.Errors = make(map[string]string, len(failed))
		for _, f := range failed {
			out.Errors[f.Source] = f.Err.Error()
		}
	}

	return json.MarshalIndent(out, "", "  ")
}
