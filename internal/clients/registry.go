package clients

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/git-pkgs/purl"
	"github.com/git-pkgs/registries"
	_ "github.com/git-pkgs/registries/all"

	"github.com/LouisBoudreau/licensed/internal/models"
)

// Metadata keys added by registry lookups
const (
	MetadataPURL    = "purl"
	MetadataLicense = "registry_license"
)

// purlTypes maps source types to package URL types
var purlTypes = map[string]string{
	"bundler":   "gem",
	"cargo":     "cargo",
	"cocoapods": "cocoapods",
	"go":        "golang",
	"npm":       "npm",
	"pip":       "pypi",
}

// PackageFetcher fetches registry metadata for a package URL
type PackageFetcher func(ctx context.Context, purl string) (*registries.Package, error)

// RegistryClient looks up dependency metadata in the public package registries
type RegistryClient struct {
	fetch     PackageFetcher
	supported map[string]bool

	mu    sync.Mutex
	cache map[string]*registries.Package
}

// NewRegistryClient creates a client backed by the default registry HTTP client
func NewRegistryClient() *RegistryClient {
	client := registries.DefaultClient()
	return NewRegistryClientWithFetcher(func(ctx context.Context, p string) (*registries.Package, error) {
		return registries.FetchPackageFromPURL(ctx, p, client)
	}, registries.SupportedEcosystems())
}

// NewRegistryClientWithFetcher creates a client using fetch for the given purl types
func NewRegistryClientWithFetcher(fetch PackageFetcher, ecosystems []string) *RegistryClient {
	supported := make(map[string]bool, len(ecosystems))
	for _, e := range ecosystems {
		supported[e] = true
	}
	return &RegistryClient{
		fetch:     fetch,
		supported: supported,
		cache:     make(map[string]*registries.Package),
	}
}

// Enrich returns the package URL of dep and, when its registry is supported,
// the homepage, summary and declared license published there
func (c *RegistryClient) Enrich(ctx context.Context, dep models.Dependency) (map[string]string, error) {
	p, err := PURL(dep)
	if err != nil {
		return nil, err
	}
	metadata := map[string]string{MetadataPURL: p}

	parsed, err := purl.Parse(p)
	if err != nil {
		return metadata, fmt.Errorf("invalid package url %s: %w", p, err)
	}
	if !c.supported[parsed.Type] {
		return metadata, nil
	}

	pkg, err := c.lookup(ctx, packageURL(p))
	if err != nil {
		return metadata, fmt.Errorf("fetching %s: %w", p, err)
	}
	if pkg == nil {
		return metadata, nil
	}

	homepage := pkg.Homepage
	if homepage == "" {
		homepage = pkg.Repository
	}
	metadata[models.MetadataHomepage] = homepage
	metadata[models.MetadataSummary] = strings.TrimSpace(pkg.Description)
	metadata[MetadataLicense] = pkg.Licenses
	return metadata, nil
}

// lookup fetches package metadata once per package across versions
func (c *RegistryClient) lookup(ctx context.Context, p string) (*registries.Package, error) {
	c.mu.Lock()
	pkg, ok := c.cache[p]
	c.mu.Unlock()
	if ok {
		return pkg, nil
	}

	pkg, err := c.fetch(ctx, p)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[p] = pkg
	c.mu.Unlock()
	return pkg, nil
}

// PURL builds the package URL of a dependency
func PURL(dep models.Dependency) (string, error) {
	purlType, ok := purlTypes[dep.Type()]
	if !ok {
		return "", fmt.Errorf("no package url type for %s dependencies", dep.Type())
	}

	// Names of dependencies installed at several versions carry the version
	name := strings.TrimSuffix(dep.Name, "@"+dep.Version)
	if purlType == "pypi" {
		name = strings.ToLower(strings.ReplaceAll(name, "_", "-"))
	}

	segments := strings.Split(name, "/")
	for i, s := range segments {
		segments[i] = escape(s)
	}

	p := "pkg:" + purlType + "/" + strings.Join(segments, "/")
	if dep.Version != "" {
		p += "@" + escape(dep.Version)
	}
	return p, nil
}

// packageURL strips the version from a package URL
func packageURL(p string) string {
	if i := strings.LastIndex(p, "@"); i > strings.LastIndex(p, "/") {
		return p[:i]
	}
	return p
}

func escape(s string) string {
	return strings.ReplaceAll(url.PathEscape(s), "@", "%40")
}
