// Package config loads licensed configuration from .licensed.yml, the
// environment and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/LouisBoudreau/licensed/internal/models"
)

const (
	// FileName is the configuration file looked up in the project root
	FileName = ".licensed"
	// EnvPrefix prefixes environment overrides, e.g. LICENSED_CACHE_PATH
	EnvPrefix = "LICENSED"

	fileType = "yaml"
)

// Loaded describes the resolved configuration
type Loaded struct {
	Config *models.Config
	// File is the configuration file that was read, empty if none
	File string
}

// Load reads configuration for the project at root. An explicit file must
// exist; otherwise .licensed.yml in root is optional.
func Load(root, file string) (Loaded, error) {
	if root == "" {
		root = "."
	}

	v := viper.New()
	v.SetConfigName(FileName)
	v.SetConfigType(fileType)
	v.AddConfigPath(root)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	if file != "" {
		v.SetConfigFile(file)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Loaded{}, fmt.Errorf("failed to read configuration: %w", err)
		}
	}

	config := models.DefaultConfig()
	err := v.Unmarshal(config, viper.DecodeHook(mapstructure.StringToSliceHookFunc(",")))
	if err != nil {
		return Loaded{}, fmt.Errorf("failed to parse configuration: %w", err)
	}

	config.Root = root
	if !filepath.IsAbs(config.CachePath) {
		config.CachePath = filepath.Join(root, config.CachePath)
	}
	if err := validate(config); err != nil {
		return Loaded{}, err
	}

	return Loaded{Config: config, File: v.ConfigFileUsed()}, nil
}

// defaults lists every key so environment overrides apply to all of them
func defaults() map[string]any {
	d := models.DefaultConfig()
	return map[string]any{
		"cache_path":          d.CachePath,
		"workers":             d.Workers,
		"registry_lookup":     d.RegistryLookup,
		"log_level":           d.LogLevel,
		"log_format":          d.LogFormat,
		"cocoapods.targets":   []string{},
		"npm.include_dev":     d.NPM.IncludeDev,
		"npm.workspaces":      []string{},
		"go.include_indirect": d.Go.IncludeIndirect,
		"pip.python":          d.Pip.Python,
	}
}

func validate(config *models.Config) error {
	if config.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", config.Workers)
	}
	if info, err := os.Stat(config.Root); err != nil {
		return fmt.Errorf("project root: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("project root %s is not a directory", config.Root)
	}
	return nil
}
