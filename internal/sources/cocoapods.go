package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/LouisBoudreau/licensed/internal/models"
	"github.com/LouisBoudreau/licensed/internal/shell"
)

// CocoapodsType is the source type for CocoaPods dependencies
const CocoapodsType = "cocoapods"

const podsLabelPrefix = "Pods"

// Cocoapods enumerates pods declared in a Podfile and locked in Podfile.lock
type Cocoapods struct {
	base
}

// NewCocoapods creates a CocoaPods source
func NewCocoapods(config *models.Config, runner shell.Runner, logger *zap.Logger) *Cocoapods {
	return &Cocoapods{base: newBase(config, runner, logger, CocoapodsType)}
}

// Enabled returns true when pod is installed and the project has a Podfile and Podfile.lock
func (c *Cocoapods) Enabled() bool {
	if !c.runner.Available("pod") {
		return false
	}
	return c.exists("Podfile") && c.exists("Podfile.lock")
}

// EnumerateDependencies returns one dependency per root pod
func (c *Cocoapods) EnumerateDependencies(ctx context.Context) ([]models.Dependency, error) {
	lock, err := c.lockfile()
	if err != nil {
		return nil, err
	}

	names, err := c.pods(ctx, lock)
	if err != nil {
		return nil, err
	}

	// Subspecs install into their root pod's directory
	var entries []resolved
	seen := make(map[string]bool)
	for _, name := range names {
		root := podRootName(name)
		if seen[root] {
			continue
		}
		seen[root] = true

		version, ok := lock.version(name)
		if !ok {
			return nil, configError(CocoapodsType, nil, "pod %s is not locked in Podfile.lock", name)
		}

		entries = append(entries, resolved{
			path:    c.path("Pods", root),
			name:    root,
			version: version,
		})
	}

	c.addMetadata(ctx, entries)
	return c.build(entries)
}

// pods returns the declared pod names, restricted to the configured targets if any
func (c *Cocoapods) pods(ctx context.Context, lock *podfileLock) ([]string, error) {
	targets := c.config.Cocoapods.Targets
	if len(targets) == 0 {
		names := make([]string, 0, len(lock.Dependencies))
		for _, entry := range lock.Dependencies {
			name, _ := entry.split()
			names = append(names, name)
		}
		return names, nil
	}

	podfile, err := c.podfile(ctx)
	if err != nil {
		return nil, err
	}

	labels := make(map[string]bool, len(targets))
	for _, t := range targets {
		labels[podsLabelPrefix+"-"+t] = true
	}

	var names []string
	matched := false
	for _, def := range podfile.definitions() {
		if !labels[def.label()] {
			continue
		}
		matched = true
		names = append(names, def.dependencies()...)
	}

	if !matched {
		return nil, configError(CocoapodsType, ErrNoTargets,
			"unable to find any target in the Podfile matching the ones provided in the config (%s)", strings.Join(targets, ", "))
	}
	return names, nil
}

func (c *Cocoapods) lockfile() (*podfileLock, error) {
	data, err := os.ReadFile(c.path("Podfile.lock"))
	if err != nil {
		return nil, configError(CocoapodsType, err, "reading Podfile.lock")
	}

	var lock podfileLock
	if err := yaml.Unmarshal(data, &lock); err != nil {
		return nil, configError(CocoapodsType, err, "parsing Podfile.lock")
	}

	lock.versions = make(map[string]string, len(lock.Pods))
	for _, entry := range lock.Pods {
		name, version := entry.split()
		lock.versions[name] = version
		if root := podRootName(name); lock.versions[root] == "" {
			lock.versions[root] = version
		}
	}
	return &lock, nil
}

func (c *Cocoapods) podfile(ctx context.Context) (*podfileJSON, error) {
	out, err := c.output(ctx, "pod", "ipc", "podfile-json", "Podfile")
	if err != nil {
		return nil, err
	}

	var podfile podfileJSON
	if err := json.Unmarshal([]byte(out), &podfile); err != nil {
		return nil, configError(CocoapodsType, err, "parsing Podfile")
	}
	return &podfile, nil
}

// addMetadata fetches pod specs in parallel. Metadata is informational
// so failures are logged and skipped.
func (c *Cocoapods) addMetadata(ctx context.Context, entries []resolved) {
	var g errgroup.Group
	g.SetLimit(c.workers())

	for i := range entries {
		g.Go(func() error {
			name := entries[i].name
			out, err := c.output(ctx, "pod", "spec", "cat", "--regex", "^"+regexp.QuoteMeta(name)+"$")
			if err != nil {
				c.logger.Warn("unable to fetch pod spec", zap.String("pod", name), zap.Error(err))
				return nil
			}

			var spec struct {
				Homepage string `json:"homepage"`
				Summary  string `json:"summary"`
			}
			if err := json.Unmarshal([]byte(out), &spec); err != nil {
				c.logger.Warn("unable to parse pod spec", zap.String("pod", name), zap.Error(err))
				return nil
			}

			entries[i].metadata = map[string]string{
				models.MetadataHomepage: spec.Homepage,
				models.MetadataSummary:  spec.Summary,
			}
			return nil
		})
	}
	_ = g.Wait()
}

// podRootName returns the pod name without any subspec
func podRootName(name string) string {
	root, _, _ := strings.Cut(name, "/")
	return root
}

// podfileLock represents the parts of Podfile.lock that are used
type podfileLock struct {
	Pods         []podEntry `yaml:"PODS"`
	Dependencies []podEntry `yaml:"DEPENDENCIES"`

	versions map[string]string
}

func (l *podfileLock) version(name string) (string, bool) {
	if v, ok := l.versions[name]; ok {
		return v, true
	}
	v, ok := l.versions[podRootName(name)]
	return v, ok
}

// podEntry is a "Name (requirement)" string. Entries of pods with their own
// dependencies are single key mappings.
type podEntry string

func (p *podEntry) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*p = podEntry(node.Value)
	case yaml.MappingNode:
		if len(node.Content) == 0 {
			return fmt.Errorf("line %d: empty pod entry", node.Line)
		}
		*p = podEntry(node.Content[0].Value)
	default:
		return fmt.Errorf("line %d: unexpected pod entry", node.Line)
	}
	return nil
}

func (p podEntry) split() (name, requirement string) {
	s := strings.TrimSpace(string(p))
	name, rest, found := strings.Cut(s, " (")
	if !found {
		return s, ""
	}
	return name, strings.TrimSuffix(rest, ")")
}

// podfileJSON is the output of `pod ipc podfile-json`
type podfileJSON struct {
	TargetDefinitions []*targetDefinition `json:"target_definitions"`
}

type targetDefinition struct {
	Name         string              `json:"name"`
	Inheritance  string              `json:"inheritance"`
	Dependencies []podDependency     `json:"dependencies"`
	Children     []*targetDefinition `json:"children"`

	parent *targetDefinition
}

// definitions returns all target definitions with parents linked
func (p *podfileJSON) definitions() []*targetDefinition {
	var all []*targetDefinition
	var walk func(def *targetDefinition, parent *targetDefinition)
	walk = func(def *targetDefinition, parent *targetDefinition) {
		def.parent = parent
		all = append(all, def)
		for _, child := range def.Children {
			walk(child, def)
		}
	}
	for _, def := range p.TargetDefinitions {
		walk(def, nil)
	}
	return all
}

// exclusive targets don't inherit their parent's dependencies
func (t *targetDefinition) exclusive() bool {
	return t.parent == nil || (t.Inheritance != "" && t.Inheritance != "complete")
}

func (t *targetDefinition) label() string {
	switch {
	case t.parent == nil && t.Name == podsLabelPrefix:
		return podsLabelPrefix
	case t.exclusive():
		return podsLabelPrefix + "-" + t.Name
	default:
		return t.parent.label() + "-" + t.Name
	}
}

func (t *targetDefinition) dependencies() []string {
	names := make([]string, 0, len(t.Dependencies))
	for _, d := range t.Dependencies {
		names = append(names, string(d))
	}
	if !t.exclusive() {
		names = append(names, t.parent.dependencies()...)
	}
	return names
}

// podDependency is either "Name" or {"Name": [requirements]}
type podDependency string

func (d *podDependency) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*d = podDependency(name)
		return nil
	}

	var withRequirements map[string]json.RawMessage
	if err := json.Unmarshal(data, &withRequirements); err != nil {
		return err
	}
	if len(withRequirements) != 1 {
		return fmt.Errorf("unexpected pod dependency %s", data)
	}
	for name := range withRequirements {
		*d = podDependency(name)
	}
	return nil
}
