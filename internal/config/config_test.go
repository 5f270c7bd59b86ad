package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "faststack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

const minimalYAML = `
stack_name: demo
region: us-east-1
admin_email: ops@example.com
`

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML), nil)
	require.NoError(t, err)

	assert.Equal(t, "demo", cfg.StackName)
	assert.Equal(t, "us-east-1", cfg.Region)
	assert.Equal(t, "basic", cfg.Backend.Pattern)
	assert.Equal(t, "public", cfg.Network.Mode)
	assert.Equal(t, BuildBackendCodeBuild, cfg.Build.Backend)
	assert.Equal(t, "latest", cfg.Build.ImageTag)
	assert.Equal(t, ".", cfg.Build.Source)
	assert.NotNil(t, cfg.Overrides)
}

func TestLoad_FullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
stack_name: prod-agents
region: eu-west-1
admin_email: ops@example.com
backend:
  pattern: strands-single-agent
network:
  mode: private
build:
  backend: docker
  image_tag: v42
  source: ./agent
gateway:
  endpoint: https://gateways.example.com/v1
overrides:
  record_bucket: prod-records
`), nil)
	require.NoError(t, err)

	assert.Equal(t, "strands-single-agent", cfg.Backend.Pattern)
	assert.Equal(t, "private", cfg.Network.Mode)
	assert.Equal(t, BuildBackendDocker, cfg.Build.Backend)
	assert.Equal(t, "v42", cfg.Build.ImageTag)
	assert.Equal(t, "./agent", cfg.Build.Source)
	assert.Equal(t, "https://gateways.example.com/v1", cfg.Gateway.Endpoint)
	assert.Equal(t, "prod-records", cfg.Overrides["record_bucket"])
}

func TestLoad_CLIOverridesWinOverFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML+`
overrides:
  record_bucket: from-file
`), []string{"record_bucket=from-cli", "extra=1"})
	require.NoError(t, err)

	assert.Equal(t, "from-cli", cfg.Overrides["record_bucket"])
	assert.Equal(t, "1", cfg.Overrides["extra"])
}

func TestLoad_BadOverrideSyntax(t *testing.T) {
	_, err := Load(writeConfig(t, minimalYAML), []string{"no-equals-sign"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want key=value")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "stack_name: [unclosed"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestValidate_Failures(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing stack name", func(c *Config) { c.StackName = "" }, "stack_name is required"},
		{"uppercase stack name", func(c *Config) { c.StackName = "Demo" }, "lowercase alphanumeric"},
		{"stack name starts with digit", func(c *Config) { c.StackName = "1demo" }, "lowercase alphanumeric"},
		{"missing region", func(c *Config) { c.Region = "" }, "region is required"},
		{"unknown pattern", func(c *Config) { c.Backend.Pattern = "mystery" }, "unknown backend pattern"},
		{"unknown build backend", func(c *Config) { c.Build.Backend = "buildah" }, "unknown build backend"},
		{"unknown network mode", func(c *Config) { c.Network.Mode = "mesh" }, "unknown network mode"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{StackName: "demo", Region: "us-east-1"}
			cfg.applyDefaults()
			tc.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
