package sources

import (
	"context"
	"encoding/json"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/LouisBoudreau/licensed/internal/models"
	"github.com/LouisBoudreau/licensed/internal/shell"
)

// CargoType is the source type for Rust crates
const CargoType = "cargo"

// Cargo enumerates crates resolved by cargo metadata
type Cargo struct {
	base
}

// NewCargo creates a Cargo source
func NewCargo(config *models.Config, runner shell.Runner, logger *zap.Logger) *Cargo {
	return &Cargo{base: newBase(config, runner, logger, CargoType)}
}

// Enabled returns true when cargo is installed and the project has a Cargo.toml
func (c *Cargo) Enabled() bool {
	return c.runner.Available("cargo") && c.exists("Cargo.toml")
}

// cargoMetadata is the output of `cargo metadata --format-version 1`
type cargoMetadata struct {
	Packages []struct {
		ID           string  `json:"id"`
		Name         string  `json:"name"`
		Version      string  `json:"version"`
		Source       *string `json:"source"`
		ManifestPath string  `json:"manifest_path"`
		Description  string  `json:"description"`
		Homepage     string  `json:"homepage"`
		Repository   string  `json:"repository"`
	} `json:"packages"`
	WorkspaceMembers []string `json:"workspace_members"`
}

// EnumerateDependencies returns every crate outside the workspace
func (c *Cargo) EnumerateDependencies(ctx context.Context) ([]models.Dependency, error) {
	out, err := c.output(ctx, "cargo", "metadata", "--format-version", "1", "--manifest-path", c.path("Cargo.toml"))
	if err != nil {
		return nil, err
	}

	var meta cargoMetadata
	if err := json.Unmarshal([]byte(out), &meta); err != nil {
		return nil, configError(CargoType, err, "parsing cargo metadata output")
	}

	members := make(map[string]bool, len(meta.WorkspaceMembers))
	for _, id := range meta.WorkspaceMembers {
		members[id] = true
	}

	var entries []resolved
	for _, pkg := range meta.Packages {
		// Local path crates have no source
		if members[pkg.ID] || pkg.Source == nil {
			continue
		}

		homepage := pkg.Homepage
		if homepage == "" {
			homepage = pkg.Repository
		}
		entries = append(entries, resolved{
			path:    filepath.Dir(pkg.ManifestPath),
			name:    pkg.Name,
			version: pkg.Version,
			metadata: map[string]string{
				models.MetadataHomepage: homepage,
				models.MetadataSummary:  pkg.Description,
			},
		})
	}

	c.logger.Debug("resolved crates", zap.Int("count", len(entries)))
	return c.build(entries)
}
