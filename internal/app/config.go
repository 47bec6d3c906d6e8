package app

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Run scope selectors accepted by Config.RunScope.
const (
	RunScopeAll  = "all"
	RunScopeNode = "node"
	RunScopeFrom = "from"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	WorkflowPath  string // single .hcl workflow file
	ManifestsPath string // .hcl model manifest file or directory
	SettingsPath  string // optional yaml settings file
	AssetsDir     string // where file-output nodes save artifacts

	RunScope  string // all | node | from
	RunNodeID string // target node for the node and from scopes

	APIBaseURL       string
	APIKey           string
	GatewayURL       string
	GatewayNamespace string
	RedisURL         string // empty keeps run history in memory

	LogFormat string
	LogLevel  string
	Workers   int
}

// fileSettings mirrors the optional yaml settings file. Every present key
// fills a Config field the flags left empty.
type fileSettings struct {
	API struct {
		BaseURL string `yaml:"base_url"`
		Key     string `yaml:"key"`
	} `yaml:"api"`
	Gateway struct {
		URL       string `yaml:"url"`
		Namespace string `yaml:"namespace"`
	} `yaml:"gateway"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Assets struct {
		Dir string `yaml:"dir"`
	} `yaml:"assets"`
	Workers int `yaml:"workers"`
}

// NewConfig resolves a Config: flags win, then the settings file, then the
// environment fills whatever is still empty. It validates the result.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.WorkflowPath == "" {
		return nil, errors.New("WorkflowPath is a required configuration field and cannot be empty")
	}

	if err := cfg.applySettingsFile(); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	switch cfg.RunScope {
	case "", RunScopeAll:
		cfg.RunScope = RunScopeAll
	case RunScopeNode, RunScopeFrom:
		if cfg.RunNodeID == "" {
			return nil, fmt.Errorf("run scope '%s' requires a target node id", cfg.RunScope)
		}
	default:
		return nil, fmt.Errorf("invalid run scope '%s': must be 'all', 'node', or 'from'", cfg.RunScope)
	}

	if cfg.ManifestsPath == "" {
		cfg.ManifestsPath = "manifests"
	}
	if cfg.AssetsDir == "" {
		cfg.AssetsDir = "assets"
	}

	return &cfg, nil
}

// applySettingsFile overlays the yaml settings file onto empty fields. A
// missing file is fine when the path was never set; an explicit path that
// does not parse is a configuration error.
func (c *Config) applySettingsFile() error {
	if c.SettingsPath == "" {
		return nil
	}

	data, err := os.ReadFile(c.SettingsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read settings file %s: %w", c.SettingsPath, err)
	}

	var s fileSettings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to parse settings file %s: %w", c.SettingsPath, err)
	}

	fillString(&c.APIBaseURL, s.API.BaseURL)
	fillString(&c.APIKey, s.API.Key)
	fillString(&c.GatewayURL, s.Gateway.URL)
	fillString(&c.GatewayNamespace, s.Gateway.Namespace)
	fillString(&c.RedisURL, s.Redis.URL)
	fillString(&c.AssetsDir, s.Assets.Dir)
	if c.Workers == 0 && s.Workers > 0 {
		c.Workers = s.Workers
	}
	return nil
}

// applyEnv fills still-empty fields from the environment. The provider key
// keeps its conventional name; app-level settings use the WSFLOW_ prefix.
func (c *Config) applyEnv() {
	fillString(&c.APIKey, os.Getenv("WAVESPEED_API_KEY"))
	fillString(&c.APIBaseURL, os.Getenv("WAVESPEED_API_BASE_URL"))
	fillString(&c.GatewayURL, os.Getenv("WSFLOW_GATEWAY_URL"))
	fillString(&c.RedisURL, os.Getenv("WSFLOW_REDIS_URL"))
	fillString(&c.AssetsDir, os.Getenv("WSFLOW_ASSETS_DIR"))
}

func fillString(dst *string, val string) {
	if *dst == "" && val != "" {
		*dst = val
	}
}
