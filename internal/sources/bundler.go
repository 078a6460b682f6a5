package sources

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/LouisBoudreau/licensed/internal/models"
	"github.com/LouisBoudreau/licensed/internal/shell"
)

// BundlerType is the source type for Ruby gems managed by Bundler
const BundlerType = "bundler"

// specPattern matches gem specs such as "    rack (2.2.8)" in Gemfile.lock
var specPattern = regexp.MustCompile(`^    ([^ ]+) \(([^)]+)\)$`)

// lockSections are the Gemfile.lock sections listing installed gems
var lockSections = map[string]bool{"GEM": true, "GIT": true, "PATH": true}

// Bundler enumerates gems locked in Gemfile.lock
type Bundler struct {
	base
}

// NewBundler creates a Bundler source
func NewBundler(config *models.Config, runner shell.Runner, logger *zap.Logger) *Bundler {
	return &Bundler{base: newBase(config, runner, logger, BundlerType)}
}

// Enabled returns true when bundle is installed and the project has a Gemfile and Gemfile.lock
func (b *Bundler) Enabled() bool {
	if !b.runner.Available("bundle") {
		return false
	}
	return b.exists("Gemfile") && b.exists("Gemfile.lock")
}

// EnumerateDependencies returns one dependency per locked gem
func (b *Bundler) EnumerateDependencies(ctx context.Context) ([]models.Dependency, error) {
	specs, err := b.lockedSpecs()
	if err != nil {
		return nil, err
	}

	out, err := b.output(ctx, "bundle", "list", "--paths")
	if err != nil {
		return nil, err
	}
	paths := splitLines(out)

	installed := make(map[string]bool)
	var entries []resolved
	var missing []gemSpec
	for _, spec := range specs {
		path, ok := gemPath(paths, spec)
		if !ok {
			missing = append(missing, spec)
			continue
		}
		installed[spec.name] = true
		entries = append(entries, resolved{path: path, name: spec.name, version: spec.version})
	}

	for _, spec := range missing {
		// Gemfile.lock lists every locked platform, only one of them is installed
		if spec.section == "GEM" && installed[spec.name] {
			b.logger.Debug("skipping gem for another platform", zap.String("gem", spec.name), zap.String("version", spec.version))
			continue
		}
		return nil, configError(BundlerType, nil, "unable to find install path for %s (%s)", spec.name, spec.version)
	}

	b.logger.Debug("resolved gems", zap.Int("count", len(entries)))
	return b.build(entries)
}

type gemSpec struct {
	section string
	name    string
	version string
}

// lockedSpecs reads the top level specs of every gem source in Gemfile.lock
func (b *Bundler) lockedSpecs() ([]gemSpec, error) {
	f, err := os.Open(b.path("Gemfile.lock"))
	if err != nil {
		return nil, configError(BundlerType, err, "reading Gemfile.lock")
	}
	defer f.Close()

	var (
		specs   []gemSpec
		section string
	)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" && !strings.HasPrefix(line, " ") {
			section = strings.TrimSpace(line)
			continue
		}
		if !lockSections[section] {
			continue
		}
		if m := specPattern.FindStringSubmatch(line); m != nil {
			// Platform specific gems are locked as "name (version-platform)"
			specs = append(specs, gemSpec{section: section, name: m[1], version: m[2]})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, configError(BundlerType, err, "reading Gemfile.lock")
	}
	return specs, nil
}

// gemPath finds the install path for a gem. Rubygems install into an exact
// name-version directory. Git and path gems are checked out under a
// revision suffix, so a unique name- prefix is accepted for them.
func gemPath(paths []string, spec gemSpec) (string, bool) {
	exact := spec.name + "-" + spec.version
	var candidates []string
	for _, p := range paths {
		base := filepath.Base(p)
		if base == exact {
			return p, true
		}
		if strings.HasPrefix(base, spec.name+"-") || base == spec.name {
			candidates = append(candidates, p)
		}
	}
	if spec.section != "GEM" && len(candidates) == 1 {
		return candidates[0], true
	}
	return "", false
}
