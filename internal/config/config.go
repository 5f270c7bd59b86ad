package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Build backends.
const (
	BuildBackendCodeBuild = "codebuild"
	BuildBackendDocker    = "docker"
)

// Deployment patterns. The pattern selects which agent backend the runtime
// image hosts; the provisioned resource shapes are the same.
var knownPatterns = map[string]bool{
	"basic":                  true,
	"strands-single-agent":   true,
	"langgraph-single-agent": true,
}

// Config is the typed deployment configuration loaded from faststack.yaml.
// StackName namespaces every parameter store key as /{stack_name}/...
type Config struct {
	StackName  string `yaml:"stack_name"`
	Region     string `yaml:"region"`
	AdminEmail string `yaml:"admin_email"`

	Backend struct {
		Pattern string `yaml:"pattern"`
	} `yaml:"backend"`

	Network struct {
		Mode string `yaml:"mode"` // "public" or "private"
	} `yaml:"network"`

	Build struct {
		Backend  string `yaml:"backend"`
		ImageTag string `yaml:"image_tag"`
		Source   string `yaml:"source"` // path to the agent source tree
	} `yaml:"build"`

	Gateway struct {
		Endpoint string `yaml:"endpoint"` // agent control plane base URL
	} `yaml:"gateway"`

	// Overrides are arbitrary key/value settings threaded into node configs.
	Overrides map[string]string `yaml:"overrides"`
}

var stackNameRe = regexp.MustCompile(`^[a-z][a-z0-9-]{1,40}$`)

// Load reads and validates a configuration file, applying CLI overrides in
// "key=value" form on top of the file's own overrides map.
func Load(path string, cliOverrides []string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if cfg.Overrides == nil {
		cfg.Overrides = make(map[string]string)
	}
	for _, kv := range cliOverrides {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid override %q (want key=value)", kv)
		}
		cfg.Overrides[k] = v
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Backend.Pattern == "" {
		c.Backend.Pattern = "basic"
	}
	if c.Network.Mode == "" {
		c.Network.Mode = "public"
	}
	if c.Build.Backend == "" {
		c.Build.Backend = BuildBackendCodeBuild
	}
	if c.Build.ImageTag == "" {
		c.Build.ImageTag = "latest"
	}
	if c.Build.Source == "" {
		c.Build.Source = "."
	}
}

// Validate checks required fields and enum values.
func (c *Config) Validate() error {
	if c.StackName == "" {
		return fmt.Errorf("stack_name is required")
	}
	if !stackNameRe.MatchString(c.StackName) {
		return fmt.Errorf("stack_name %q must be lowercase alphanumeric with hyphens", c.StackName)
	}
	if c.Region == "" {
		return fmt.Errorf("region is required")
	}
	if !knownPatterns[c.Backend.Pattern] {
		return fmt.Errorf("unknown backend pattern %q", c.Backend.Pattern)
	}
	switch c.Build.Backend {
	case BuildBackendCodeBuild, BuildBackendDocker:
	default:
		return fmt.Errorf("unknown build backend %q", c.Build.Backend)
	}
	switch c.Network.Mode {
	case "public", "private":
	default:
		return fmt.Errorf("unknown network mode %q", c.Network.Mode)
	}
	return nil
}
