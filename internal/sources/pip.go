package sources

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	"github.com/LouisBoudreau/licensed/internal/models"
	"github.com/LouisBoudreau/licensed/internal/shell"
)

// PipType is the source type for Python packages installed with pip
const PipType = "pip"

// requirementPattern captures the distribution name at the start of a PEP 508 requirement
var requirementPattern = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)`)

// nameSeparators are collapsed when normalizing distribution names
var nameSeparators = regexp.MustCompile(`[-_.]+`)

// Pip enumerates the installed distributions declared by requirements.txt or pyproject.toml
type Pip struct {
	base
}

// NewPip creates a pip source
func NewPip(config *models.Config, runner shell.Runner, logger *zap.Logger) *Pip {
	return &Pip{base: newBase(config, runner, logger, PipType)}
}

func (p *Pip) python() string {
	if p.config.Pip.Python != "" {
		return p.config.Pip.Python
	}
	return "python3"
}

// Enabled returns true when the interpreter is available and the project declares requirements
func (p *Pip) Enabled() bool {
	if !p.runner.Available(p.python()) {
		return false
	}
	return p.exists("requirements.txt") || p.exists("pyproject.toml")
}

// pipPackage is an entry of `pip list --format=json -v`
type pipPackage struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Location string `json:"location"`
}

// pyproject represents the dependency tables of pyproject.toml
type pyproject struct {
	Project struct {
		Dependencies []string `toml:"dependencies"`
	} `toml:"project"`
	Tool struct {
		Poetry struct {
			Dependencies map[string]any `toml:"dependencies"`
		} `toml:"poetry"`
	} `toml:"tool"`
}

// EnumerateDependencies returns the installed distributions of every declared requirement
func (p *Pip) EnumerateDependencies(ctx context.Context) ([]models.Dependency, error) {
	declared, err := p.declared()
	if err != nil {
		return nil, err
	}

	out, err := p.output(ctx, p.python(), "-m", "pip", "list", "--format=json", "-v", "--disable-pip-version-check")
	if err != nil {
		return nil, err
	}

	var installed []pipPackage
	if err := json.Unmarshal([]byte(out), &installed); err != nil {
		return nil, configError(PipType, err, "parsing pip list output")
	}
	byName := make(map[string]pipPackage, len(installed))
	for _, pkg := range installed {
		byName[normalizePythonName(pkg.Name)] = pkg
	}

	entries := make([]resolved, 0, len(declared))
	for _, name := range declared {
		pkg, ok := byName[name]
		if !ok {
			return nil, configError(PipType, nil, "package %s is not installed", name)
		}
		entries = append(entries, resolved{
			path:    distInfoPath(pkg),
			name:    pkg.Name,
			version: pkg.Version,
		})
	}

	p.logger.Debug("resolved python packages", zap.Int("count", len(entries)))
	return p.build(entries)
}

// declared returns the normalized names of the project's requirements
func (p *Pip) declared() ([]string, error) {
	var specs []string

	if data, err := os.ReadFile(p.path("requirements.txt")); err == nil {
		specs = append(specs, strings.Split(string(data), "\n")...)
	} else if !os.IsNotExist(err) {
		return nil, configError(PipType, err, "reading requirements.txt")
	}

	if data, err := os.ReadFile(p.path("pyproject.toml")); err == nil {
		var proj pyproject
		if err := toml.Unmarshal(data, &proj); err != nil {
			return nil, configError(PipType, err, "parsing pyproject.toml")
		}
		specs = append(specs, proj.Project.Dependencies...)
		for name := range proj.Tool.Poetry.Dependencies {
			if name != "python" {
				specs = append(specs, name)
			}
		}
	} else if !os.IsNotExist(err) {
		return nil, configError(PipType, err, "reading pyproject.toml")
	}

	seen := make(map[string]bool)
	var names []string
	for _, spec := range specs {
		name := requirementName(spec)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names, nil
}

// requirementName returns the normalized name of a requirement line, or an
// empty string for comments, options and blank lines
func requirementName(line string) string {
	line = strings.TrimSpace(line)

	// Skip empty lines, comments, and options
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
		return ""
	}

	m := requirementPattern.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	return normalizePythonName(m[1])
}

// normalizePythonName normalizes a distribution name so that spellings
// differing in case or separators compare equal
func normalizePythonName(name string) string {
	return strings.ToLower(nameSeparators.ReplaceAllString(name, "-"))
}

// distInfoPath returns the metadata directory of an installed distribution
func distInfoPath(pkg pipPackage) string {
	dir := strings.ReplaceAll(pkg.Name, "-", "_") + "-" + pkg.Version + ".dist-info"
	return filepath.Join(pkg.Location, dir)
}
