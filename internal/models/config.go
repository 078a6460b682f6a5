package models

// Config holds configuration for an audit run
type Config struct {
	// Project root all sources resolve paths against
	Root string `mapstructure:"root"`

	// Directory holding one record file per dependency
	CachePath string `mapstructure:"cache_path"`

	// Source types to consider, omitted means all of them
	Sources map[string]bool `mapstructure:"sources"`

	// Per-ecosystem settings
	Cocoapods CocoapodsConfig `mapstructure:"cocoapods"`
	NPM       NPMConfig       `mapstructure:"npm"`
	Go        GoConfig        `mapstructure:"go"`
	Pip       PipConfig       `mapstructure:"pip"`

	// Behavior settings
	Workers        int  `mapstructure:"workers"`
	RegistryLookup bool `mapstructure:"registry_lookup"`

	// Logging settings
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// CocoapodsConfig restricts enumeration to named Podfile targets
type CocoapodsConfig struct {
	Targets []string `mapstructure:"targets"`
}

// NPMConfig controls which package-lock entries are enumerated
type NPMConfig struct {
	IncludeDev bool     `mapstructure:"include_dev"`
	Workspaces []string `mapstructure:"workspaces"`
}

// GoConfig controls which go.mod requirements are enumerated
type GoConfig struct {
	IncludeIndirect bool `mapstructure:"include_indirect"`
}

// PipConfig names the interpreter used to inspect installed packages
type PipConfig struct {
	Python string `mapstructure:"python"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Root:      ".",
		CachePath: ".licenses",
		Pip:       PipConfig{Python: "python3"},
		Workers:   4,
		LogLevel:  "info",
		LogFormat: "console",
	}
}

// SourceEnabled reports whether the configuration allows a source type
func (c *Config) SourceEnabled(sourceType string) bool {
	if len(c.Sources) == 0 {
		return true
	}
	return c.Sources[sourceType]
}
