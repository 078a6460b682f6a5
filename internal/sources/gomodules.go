package sources

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/mod/modfile"
	"golang.org/x/mod/module"

	"github.com/LouisBoudreau/licensed/internal/models"
	"github.com/LouisBoudreau/licensed/internal/shell"
)

// GoType is the source type for Go modules
const GoType = "go"

// GoModules enumerates the modules required by go.mod
type GoModules struct {
	base
}

// NewGoModules creates a Go modules source
func NewGoModules(config *models.Config, runner shell.Runner, logger *zap.Logger) *GoModules {
	return &GoModules{base: newBase(config, runner, logger, GoType)}
}

// Enabled returns true when go is installed and the project has a go.mod
func (g *GoModules) Enabled() bool {
	return g.runner.Available("go") && g.exists("go.mod")
}

// goModule is an entry of `go list -m -json all`
type goModule struct {
	Path    string
	Version string
	Dir     string
	Main    bool
	Replace *goModule
}

// EnumerateDependencies returns the required modules at their selected versions
func (g *GoModules) EnumerateDependencies(ctx context.Context) ([]models.Dependency, error) {
	required, err := g.required()
	if err != nil {
		return nil, err
	}

	out, err := g.output(ctx, "go", "list", "-m", "-json", "all")
	if err != nil {
		return nil, err
	}

	listed := make(map[string]goModule)
	dec := json.NewDecoder(strings.NewReader(out))
	for {
		var m goModule
		if err := dec.Decode(&m); errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, configError(GoType, err, "parsing go list output")
		}
		if !m.Main {
			listed[m.Path] = m
		}
	}

	var modCache string
	entries := make([]resolved, 0, len(required))
	for _, path := range required {
		m, ok := listed[path]
		if !ok {
			return nil, configError(GoType, nil, "module %s is not in the build list", path)
		}

		source, version, dir := path, m.Version, m.Dir
		if m.Replace != nil {
			if m.Replace.Version != "" {
				source, version = m.Replace.Path, m.Replace.Version
			}
			dir = m.Replace.Dir
		}

		if dir == "" {
			if modCache == "" {
				if modCache, err = g.modCache(ctx); err != nil {
					return nil, err
				}
			}
			if dir, err = moduleDir(modCache, source, version); err != nil {
				return nil, configError(GoType, err, "locating module %s", path)
			}
		}

		entries = append(entries, resolved{
			path:    dir,
			name:    path,
			version: version,
			metadata: map[string]string{
				models.MetadataHomepage: "https://pkg.go.dev/" + path,
			},
		})
	}

	g.logger.Debug("resolved modules", zap.Int("count", len(entries)))
	return g.build(entries)
}

// required returns the module paths required by go.mod
func (g *GoModules) required() ([]string, error) {
	path := g.path("go.mod")
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, configError(GoType, err, "reading go.mod")
	}

	mod, err := modfile.Parse(path, content, nil)
	if err != nil {
		return nil, configError(GoType, err, "parsing go.mod")
	}

	var paths []string
	for _, req := range mod.Require {
		// Skip indirect deps unless explicitly requested
		if req.Indirect && !g.config.Go.IncludeIndirect {
			continue
		}
		paths = append(paths, req.Mod.Path)
	}
	return paths, nil
}

func (g *GoModules) modCache(ctx context.Context) (string, error) {
	out, err := g.output(ctx, "go", "env", "GOMODCACHE")
	if err != nil {
		return "", err
	}
	dir := strings.TrimSpace(out)
	if dir == "" {
		return "", configError(GoType, nil, "GOMODCACHE is not set")
	}
	return dir, nil
}

// moduleDir returns the module cache directory of a module version
func moduleDir(modCache, path, version string) (string, error) {
	escapedPath, err := module.EscapePath(path)
	if err != nil {
		return "", err
	}
	escapedVersion, err := module.EscapeVersion(version)
	if err != nil {
		return "", err
	}
	return filepath.Join(modCache, filepath.FromSlash(escapedPath)+"@"+escapedVersion), nil
}
