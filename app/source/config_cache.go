package source

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

type ConfigCache struct {
	sourcesDir string
	cache      map[string]*Config
	mu         sync.RWMutex
}

func NewConfigCache(sourcesDir string) *ConfigCache {
	return &ConfigCache{
		sourcesDir: sourcesDir,
		cache:      make(map[string]*Config),
	}
}

func (cc *ConfigCache) Run() error {
	if _, err := os.Stat(cc.sourcesDir); os.IsNotExist(err) {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(cc.sourcesDir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	for _, file := range files {
		name := NameFromPath(file)

		config, err := cc.LoadConfig(name)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		slog.Debug("Configuration loaded", "source", name, "format", config.Format, "enabled", config.Settings.Enabled)
	}

	return nil
}

func (cc *ConfigCache) LoadConfig(name string) (*Config, error) {
	configFile := cc.getConfigFilePath(name)
	sourceConfig, err := cc.parseConfig(configFile)
	if err != nil {
		return nil, err
	}

	sourceConfig.Name = name

	if err := cc.validateConfig(sourceConfig); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configFile, err)
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.cache[sourceConfig.Name] = sourceConfig

	return sourceConfig, nil
}

func (cc *ConfigCache) Remove(name string) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	delete(cc.cache, name)
}

func (cc *ConfigCache) GetConfig(name string) (*Config, error) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	sourceConfig, ok := cc.cache[name]
	if !ok {
		return nil, fmt.Errorf("source config with name '%s' not found", name)
	}
	return sourceConfig, nil
}

func (cc *ConfigCache) GetConfigs() map[string]*Config {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	configsCopy := make(map[string]*Config, len(cc.cache))
	for k, v := range cc.cache {
		configsCopy[k] = v
	}
	return configsCopy
}

// GetEnabledConfigs returns enabled sources sorted by name.
func (cc *ConfigCache) GetEnabledConfigs() []*Config {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	enabled := make([]*Config, 0, len(cc.cache))
	for _, v := range cc.cache {
		if v.Settings.Enabled {
			enabled = append(enabled, v)
		}
	}
	sort.Slice(enabled, func(i, j int) bool { return enabled[i].Name < enabled[j].Name })
	return enabled
}

func (cc *ConfigCache) GetConfigCount() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.cache)
}

func (cc *ConfigCache) parseConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var sourceConfig Config
	if err := yaml.Unmarshal(data, &sourceConfig); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if sourceConfig.Format == "" {
		sourceConfig.Format = FormatXML
	}
	if sourceConfig.Settings.RefreshInterval == 0 {
		sourceConfig.Settings.RefreshInterval = 3600
	}
	if sourceConfig.Settings.Timeout == 0 {
		sourceConfig.Settings.Timeout = 30
	}
	if sourceConfig.Settings.AssetKey == "" {
		sourceConfig.Settings.AssetKey = AssetKeyBasename
	}
	if sourceConfig.Fields.DomainSuffix == "" {
		sourceConfig.Fields.DomainSuffix = "@domain"
	}
	if _, ok := sourceConfig.Fields.Defaults["status"]; !ok {
		if sourceConfig.Fields.Defaults == nil {
			sourceConfig.Fields.Defaults = make(map[string]string)
		}
		sourceConfig.Fields.Defaults["status"] = "publish"
	}
	if sourceConfig.Target.CategoryContainerID == "" {
		sourceConfig.Target.CategoryContainerID = sourceConfig.Target.ContainerID
	}
	if sourceConfig.Target.TagContainerID == "" {
		sourceConfig.Target.TagContainerID = sourceConfig.Target.ContainerID
	}

	return &sourceConfig, nil
}

func (cc *ConfigCache) validateConfig(sourceConfig *Config) error {
	if sourceConfig == nil {
		return fmt.Errorf("sourceConfig is nil")
	}

	requiredFields := map[string]string{
		"source name":  sourceConfig.Name,
		"source path":  sourceConfig.Path,
		"container id": sourceConfig.Target.ContainerID,
	}

	for fieldName, fieldValue := range requiredFields {
		if fieldValue == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
	}

	switch sourceConfig.Format {
	case FormatXML, FormatCSV:
	default:
		return fmt.Errorf("unsupported format: %s", sourceConfig.Format)
	}

	switch sourceConfig.Settings.AssetKey {
	case AssetKeyBasename, AssetKeyURLHash:
	default:
		return fmt.Errorf("unsupported asset key: %s", sourceConfig.Settings.AssetKey)
	}

	nonNegativeFields := map[string]int{
		"refresh interval": sourceConfig.Settings.RefreshInterval,
		"timeout":          sourceConfig.Settings.Timeout,
	}

	for fieldName, fieldValue := range nonNegativeFields {
		if fieldValue < 0 {
			return fmt.Errorf("%s must be non-negative", fieldName)
		}
	}

	for label, id := range sourceConfig.CategoryMapping {
		if strings.TrimSpace(label) == "" || strings.TrimSpace(id) == "" {
			return fmt.Errorf("category mapping entries need a label and an id")
		}
	}

	return nil
}

func (cc *ConfigCache) getConfigFilePath(name string) string {
	return filepath.Join(cc.sourcesDir, name+".yml")
}

// NameFromPath derives a source name from its configuration file path.
func NameFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".yml")
}
