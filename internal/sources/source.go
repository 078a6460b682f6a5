// Package sources enumerates the dependencies of a project, one Source per
// package ecosystem. Each source reads lockfiles and invokes the ecosystem
// tooling, and reports the resolved version of every dependency it finds.
package sources

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/LouisBoudreau/licensed/internal/models"
	"github.com/LouisBoudreau/licensed/internal/shell"
)

// Source is the interface for ecosystem dependency enumerators
type Source interface {
	// Type returns the source type, used as the cache directory name
	Type() string

	// Enabled is a cheap probe deciding whether the ecosystem applies to the project
	Enabled() bool

	// EnumerateDependencies returns the dependencies sorted by path
	EnumerateDependencies(ctx context.Context) ([]models.Dependency, error)
}

// ErrNoTargets is wrapped by errors returned when a configured filter matches nothing
var ErrNoTargets = errors.New("no matching targets")

// ConfigurationError is returned when a source can't determine its
// dependencies, as opposed to there being none
type ConfigurationError struct {
	Source  string
	Message string
	Output  string // Diagnostic output captured from external tooling
	Err     error
}

func (e *ConfigurationError) Error() string {
	msg := e.Source + ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func configError(source string, err error, format string, args ...any) *ConfigurationError {
	ce := &ConfigurationError{
		Source:  source,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
	var exitErr *shell.ExitError
	if errors.As(err, &exitErr) {
		ce.Output = exitErr.Stderr
	}
	return ce
}

// All returns every known source built from the same configuration
func All(config *models.Config, runner shell.Runner, logger *zap.Logger) []Source {
	return []Source{
		NewBundler(config, runner, logger),
		NewCargo(config, runner, logger),
		NewCocoapods(config, runner, logger),
		NewGoModules(config, runner, logger),
		NewNPM(config, runner, logger),
		NewPip(config, runner, logger),
	}
}

// base holds what every source is constructed with
type base struct {
	kind   string
	config *models.Config
	runner shell.Runner
	logger *zap.Logger
}

func newBase(config *models.Config, runner shell.Runner, logger *zap.Logger, sourceType string) base {
	if config == nil {
		config = models.DefaultConfig()
	}
	if runner == nil {
		runner = shell.NewOSRunner()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return base{
		kind:   sourceType,
		config: config,
		runner: runner,
		logger: logger.With(zap.String("source", sourceType)),
	}
}

// Type returns the source type
func (b base) Type() string {
	return b.kind
}

func (b base) path(elem ...string) string {
	return filepath.Join(append([]string{b.config.Root}, elem...)...)
}

func (b base) exists(elem ...string) bool {
	_, err := os.Stat(b.path(elem...))
	return err == nil
}

func (b base) workers() int {
	if b.config.Workers < 1 {
		return 1
	}
	return b.config.Workers
}

// output runs an ecosystem tool in the project root
func (b base) output(ctx context.Context, name string, args ...string) (string, error) {
	cmd := shell.Command{Name: name, Args: args, Dir: b.config.Root}
	out, err := shell.Output(ctx, b.runner, cmd)
	if err != nil {
		return "", configError(b.kind, err, "running %s", cmd)
	}
	return out, nil
}

// resolved is a dependency before names are disambiguated
type resolved struct {
	path     string
	name     string
	version  string
	metadata map[string]string
}

// build turns resolved entries into dependencies. A name resolved at more
// than one version is recorded as name@version so every version keeps its
// own record.
func (b base) build(entries []resolved) ([]models.Dependency, error) {
	versions := make(map[string]map[string]bool)
	for _, e := range entries {
		if versions[e.name] == nil {
			versions[e.name] = make(map[string]bool)
		}
		versions[e.name][e.version] = true
	}

	deps := make([]models.Dependency, 0, len(entries))
	for _, e := range entries {
		name := e.name
		if len(versions[e.name]) > 1 && e.version != "" {
			name = e.name + "@" + e.version
		}
		dep, err := models.NewDependency(e.path, name, e.version, b.kind, e.metadata)
		if err != nil {
			return nil, configError(b.kind, err, "invalid dependency %q", e.name)
		}
		deps = append(deps, dep)
	}

	sortDependencies(deps)
	return deps, nil
}

func sortDependencies(deps []models.Dependency) {
	sort.Slice(deps, func(i, j int) bool {
		return deps[i].Path < deps[j].Path
	})
}

// splitLines returns the non-empty trimmed lines of s
func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
