package sources

import (
	"context"
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/LouisBoudreau/licensed/internal/models"
	"github.com/LouisBoudreau/licensed/internal/shell"
)

// NPMType is the source type for npm packages
const NPMType = "npm"

const nodeModules = "node_modules/"

// NPM enumerates packages installed from package-lock.json
type NPM struct {
	base
}

// NewNPM creates an npm source
func NewNPM(config *models.Config, runner shell.Runner, logger *zap.Logger) *NPM {
	return &NPM{base: newBase(config, runner, logger, NPMType)}
}

// Enabled returns true when the project has a package.json and package-lock.json
func (n *NPM) Enabled() bool {
	return n.exists("package.json") && n.exists("package-lock.json")
}

// packageLock represents the structure of package-lock.json
type packageLock struct {
	LockfileVersion int `json:"lockfileVersion"`
	// V2/V3 format
	Packages map[string]lockPackage `json:"packages"`
	// V1 format
	Dependencies map[string]lockDependency `json:"dependencies"`
}

type lockPackage struct {
	Name                 string            `json:"name"`
	Version              string            `json:"version"`
	Dev                  bool              `json:"dev"`
	Link                 bool              `json:"link"`
	Resolved             string            `json:"resolved"`
	Dependencies         map[string]string `json:"dependencies"`
	OptionalDependencies map[string]string `json:"optionalDependencies"`
	PeerDependencies     map[string]string `json:"peerDependencies"`
}

type lockDependency struct {
	Version      string                    `json:"version"`
	Dev          bool                      `json:"dev"`
	Dependencies map[string]lockDependency `json:"dependencies"`
}

// packageJSON represents the fields of an installed package.json that are used
type packageJSON struct {
	Homepage    string `json:"homepage"`
	Description string `json:"description"`
}

// EnumerateDependencies returns the installed packages, one per name and version
func (n *NPM) EnumerateDependencies(ctx context.Context) ([]models.Dependency, error) {
	data, err := os.ReadFile(n.path("package-lock.json"))
	if err != nil {
		return nil, configError(NPMType, err, "reading package-lock.json")
	}

	var lock packageLock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, configError(NPMType, err, "parsing package-lock.json")
	}

	var entries []resolved
	if len(lock.Packages) > 0 {
		entries, err = n.fromPackages(lock.Packages)
	} else {
		entries, err = n.fromDependencies(lock.Dependencies)
	}
	if err != nil {
		return nil, err
	}

	for i := range entries {
		entries[i].metadata = n.readMetadata(entries[i].path)
	}
	return n.build(entries)
}

// fromPackages reads the v2/v3 packages map, keyed by install location
func (n *NPM) fromPackages(packages map[string]lockPackage) ([]resolved, error) {
	locations := make([]string, 0, len(packages))
	for location, pkg := range packages {
		if location == "" || pkg.Link || !strings.Contains(location, nodeModules) {
			continue
		}
		if pkg.Dev && !n.config.NPM.IncludeDev {
			continue
		}
		locations = append(locations, location)
	}

	if workspaces := n.config.NPM.Workspaces; len(workspaces) > 0 {
		var err error
		locations, err = workspaceClosure(packages, workspaces)
		if err != nil {
			return nil, err
		}
		if !n.config.NPM.IncludeDev {
			locations = filterLocations(locations, func(l string) bool { return !packages[l].Dev })
		}
	}

	// Shallowest install wins when a name and version is installed more than once
	sort.Slice(locations, func(i, j int) bool {
		di, dj := strings.Count(locations[i], nodeModules), strings.Count(locations[j], nodeModules)
		if di != dj {
			return di < dj
		}
		return locations[i] < locations[j]
	})

	seen := make(map[string]bool)
	var entries []resolved
	for _, location := range locations {
		pkg := packages[location]
		name := pkg.Name
		if name == "" {
			name = packageNameFromLocation(location)
		}
		key := name + "@" + pkg.Version
		if seen[key] {
			continue
		}
		seen[key] = true

		entries = append(entries, resolved{
			path:    n.path(filepath.FromSlash(location)),
			name:    name,
			version: pkg.Version,
		})
	}
	return entries, nil
}

// fromDependencies reads the nested v1 dependencies tree
func (n *NPM) fromDependencies(deps map[string]lockDependency) ([]resolved, error) {
	if len(n.config.NPM.Workspaces) > 0 {
		return nil, configError(NPMType, nil, "workspaces require a lockfileVersion 2 or later package-lock.json")
	}

	seen := make(map[string]bool)
	var entries []resolved
	var walk func(prefix string, deps map[string]lockDependency)
	walk = func(prefix string, deps map[string]lockDependency) {
		names := make([]string, 0, len(deps))
		for name := range deps {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			dep := deps[name]
			location := prefix + nodeModules + name
			if dep.Dev && !n.config.NPM.IncludeDev {
				continue
			}
			if key := name + "@" + dep.Version; !seen[key] {
				seen[key] = true
				entries = append(entries, resolved{
					path:    n.path(filepath.FromSlash(location)),
					name:    name,
					version: dep.Version,
				})
			}
			walk(location+"/", dep.Dependencies)
		}
	}
	walk("", deps)
	return entries, nil
}

// workspaceClosure returns the install locations of everything the named
// workspaces depend on, directly or transitively
func workspaceClosure(packages map[string]lockPackage, workspaces []string) ([]string, error) {
	wanted := make(map[string]bool, len(workspaces))
	for _, w := range workspaces {
		wanted[w] = true
	}

	var queue []string
	for location, pkg := range packages {
		if location == "" || strings.Contains(location, nodeModules) {
			continue
		}
		if wanted[pkg.Name] || wanted[location] {
			queue = append(queue, location)
		}
	}
	if len(queue) == 0 {
		return nil, configError(NPMType, ErrNoTargets,
			"unable to find any workspace in package-lock.json matching the ones provided in the config (%s)", strings.Join(workspaces, ", "))
	}

	visited := make(map[string]bool)
	var locations []string
	for len(queue) > 0 {
		from := queue[0]
		queue = queue[1:]
		if visited[from] {
			continue
		}
		visited[from] = true
		if strings.Contains(from, nodeModules) {
			locations = append(locations, from)
		}

		pkg := packages[from]
		for _, group := range []map[string]string{pkg.Dependencies, pkg.OptionalDependencies, pkg.PeerDependencies} {
			for name := range group {
				if to, ok := resolveModule(packages, from, name); ok {
					queue = append(queue, to)
				}
			}
		}
	}
	return locations, nil
}

// resolveModule applies node's lookup, walking up node_modules directories
// from the requiring package until the name is found
func resolveModule(packages map[string]lockPackage, from, name string) (string, bool) {
	dir := from
	for {
		candidate := nodeModules + name
		if dir != "" {
			candidate = dir + "/" + candidate
		}
		if pkg, ok := packages[candidate]; ok {
			// Links point at workspace packages, which are walked but not reported
			if pkg.Link {
				return pkg.Resolved, pkg.Resolved != ""
			}
			return candidate, true
		}
		if dir == "" {
			return "", false
		}

		// Step out of the current package, skipping its node_modules segment
		dir = path.Dir(dir)
		if path.Base(dir) == "node_modules" {
			dir = path.Dir(dir)
		} else if strings.HasPrefix(path.Base(dir), "@") && path.Base(path.Dir(dir)) == "node_modules" {
			dir = path.Dir(path.Dir(dir))
		}
		if dir == "." {
			dir = ""
		}
	}
}

func filterLocations(locations []string, keep func(string) bool) []string {
	var out []string
	for _, l := range locations {
		if keep(l) {
			out = append(out, l)
		}
	}
	return out
}

// packageNameFromLocation returns the name of the package installed at a
// location such as node_modules/a/node_modules/@scope/b
func packageNameFromLocation(location string) string {
	if idx := strings.LastIndex(location, nodeModules); idx >= 0 {
		return location[idx+len(nodeModules):]
	}
	return location
}

// readMetadata reads informational fields from the installed package.json
func (n *NPM) readMetadata(dir string) map[string]string {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return nil
	}
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		n.logger.Debug("unable to parse package.json", zap.String("path", dir), zap.Error(err))
		return nil
	}
	return map[string]string{
		models.MetadataHomepage: pkg.Homepage,
		models.MetadataSummary:  pkg.Description,
	}
}
