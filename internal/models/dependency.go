package models

import (
	"errors"
	"strings"
)

// Metadata keys set on every enumerated dependency
const (
	MetadataType     = "type"
	MetadataHomepage = "homepage"
	MetadataSummary  = "summary"
)

var (
	errEmptyName = errors.New("dependency name must not be empty")
	errEmptyPath = errors.New("dependency path must not be empty")
)

// Dependency represents a single package occurrence discovered by a source
type Dependency struct {
	Path     string // Filesystem location identifying this dependency instance
	Name     string
	Version  string // Ecosystem specific, empty when the ecosystem doesn't pin versions
	Metadata map[string]string
}

// NewDependency validates and builds a Dependency owned by the given source type
func NewDependency(path, name, version, sourceType string, metadata map[string]string) (Dependency, error) {
	if strings.TrimSpace(name) == "" {
		return Dependency{}, errEmptyName
	}
	if strings.TrimSpace(path) == "" {
		return Dependency{}, errEmptyPath
	}

	meta := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	meta[MetadataType] = sourceType

	return Dependency{
		Path:     path,
		Name:     name,
		Version:  version,
		Metadata: meta,
	}, nil
}

// Type returns the owning source type
func (d Dependency) Type() string {
	return d.Metadata[MetadataType]
}

// Unversioned reports whether version change detection should be skipped
func (d Dependency) Unversioned() bool {
	return d.Version == ""
}

// String returns a human-readable representation
func (d Dependency) String() string {
	if d.Unversioned() {
		return d.Name
	}
	return d.Name + "@" + d.Version
}
