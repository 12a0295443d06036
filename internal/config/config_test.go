package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/obplan/internal/capacity"
)

// isolate points the user config at an empty directory.
func isolate(t *testing.T) string {
	t.Helper()
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	return xdg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// =============================================================================
// Defaults
// =============================================================================

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	// Given: no configuration file exists
	cfg := NewConfig()

	// Then: all defaults should be applied
	require.NotNil(t, cfg)
	assert.Equal(t, 1, cfg.Version)
	assert.False(t, cfg.Check.Strict)
	assert.False(t, cfg.Check.Production)
	assert.Equal(t, 200*time.Millisecond, cfg.ClockThreshold())
	assert.Equal(t, 16, cfg.Probe.Concurrency)
	assert.Equal(t, 1024, cfg.Probe.MountCacheSize)
	assert.Equal(t, 22, cfg.SSH.Port)
	assert.Equal(t, 30*time.Second, cfg.SSHTimeout())
	assert.Equal(t, uint(3), cfg.SSH.DialAttempts)
	assert.Equal(t, 20, cfg.Credentials.Length)
	assert.Equal(t, FormatTable, cfg.Output.Format)
	assert.Equal(t, "warn", cfg.Output.LogLevel)
	assert.NoError(t, cfg.Validate())
}

// =============================================================================
// Layering
// =============================================================================

func TestLoad_NoConfigFile_ReturnsDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, NewConfig(), cfg)
}

func TestLoad_ProjectFile_OverridesDefaults(t *testing.T) {
	// Given: a project config
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectConfigName), `
check:
  production: true
  min_memory: 12G
  skip: [ntp]
probe:
  concurrency: 4
ssh:
  user: admin
  key_file: ~/.ssh/ob
tenants:
  - name: app
    memory: 8G
    log_disk: 24G
metrics:
  textfile: /var/lib/node_exporter/obplan.prom
`)

	// When: configuration is loaded
	cfg, err := Load(dir)

	// Then: file values win over defaults and the rest stays default
	require.NoError(t, err)
	assert.True(t, cfg.Check.Production)
	assert.Equal(t, 12*capacity.GiB, cfg.MinMemoryBytes())
	assert.Equal(t, []string{"ntp"}, cfg.Check.Skip)
	assert.Equal(t, 4, cfg.Probe.Concurrency)
	assert.Equal(t, "admin", cfg.SSH.User)
	assert.Equal(t, 22, cfg.SSH.Port)
	require.Len(t, cfg.Tenants, 1)
	mem, logDisk := cfg.Tenants[0].TenantBytes()
	assert.Equal(t, 8*capacity.GiB, mem)
	assert.Equal(t, 24*capacity.GiB, logDisk)
	assert.Equal(t, "/var/lib/node_exporter/obplan.prom", cfg.Metrics.Textfile)
}

func TestLoad_ProjectConfigOverridesUserConfig(t *testing.T) {
	// Given: user config enables strict and native, project turns native off
	xdg := isolate(t)
	writeFile(t, filepath.Join(xdg, "obplan", "config.yaml"), `
check:
  strict: true
probe:
  native: true
  concurrency: 8
`)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectConfigName), `
probe:
  native: false
`)

	// When: configuration is loaded
	cfg, err := Load(dir)

	// Then: explicit false in the project wins, unset keys keep the user value
	require.NoError(t, err)
	assert.True(t, cfg.Check.Strict)
	assert.False(t, cfg.Probe.Native)
	assert.Equal(t, 8, cfg.Probe.Concurrency)
}

func TestLoad_EnvVarOverridesFiles(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectConfigName), "check:\n  strict: true\noutput:\n  format: table\n")
	t.Setenv("OBPLAN_STRICT", "false")
	t.Setenv("OBPLAN_OUTPUT", "json")
	t.Setenv("OBPLAN_SSH_PORT", "2022")
	t.Setenv("OBPLAN_PROBE_CONCURRENCY", "2")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.False(t, cfg.Check.Strict)
	assert.Equal(t, FormatJSON, cfg.Output.Format)
	assert.Equal(t, 2022, cfg.SSH.Port)
	assert.Equal(t, 2, cfg.Probe.Concurrency)
}

func TestLoad_EnvVarEmptyOrInvalid_DoesNotOverride(t *testing.T) {
	isolate(t)
	t.Setenv("OBPLAN_PRODUCTION", "")
	t.Setenv("OBPLAN_PROBE_CONCURRENCY", "many")

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.False(t, cfg.Check.Production)
	assert.Equal(t, 16, cfg.Probe.Concurrency)
}

func TestLoad_DotEnv(t *testing.T) {
	// Given: a .env file with SSH credentials
	isolate(t)
	require.NoError(t, os.Unsetenv("OBPLAN_SSH_PASSWORD"))
	t.Cleanup(func() { _ = os.Unsetenv("OBPLAN_SSH_PASSWORD") })
	t.Setenv("OBPLAN_SSH_USER", "from-shell")
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env"), "OBPLAN_SSH_USER=from-dotenv\nOBPLAN_SSH_PASSWORD=s3cret\n")

	// When: configuration is loaded
	cfg, err := Load(dir)

	// Then: .env fills unset variables without overriding the shell
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.SSH.Password)
	assert.Equal(t, "from-shell", cfg.SSH.User)
}

func TestLoad_InvalidYaml_ReturnsError(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectConfigName), "check: [unclosed\n")

	_, err := Load(dir)

	assert.Error(t, err)
}

func TestLoad_InvalidUserConfig_ReturnsError(t *testing.T) {
	xdg := isolate(t)
	writeFile(t, filepath.Join(xdg, "obplan", "config.yaml"), "probe:\n  concurrency: lots\n")

	_, err := Load(t.TempDir())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "user config")
}

// =============================================================================
// Validation
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad min memory", func(c *Config) { c.Check.MinMemory = "lots" }, "check.min_memory"},
		{"bad clock threshold", func(c *Config) { c.Check.ClockThreshold = "soon" }, "check.clock_threshold"},
		{"negative clock threshold", func(c *Config) { c.Check.ClockThreshold = "-1s" }, "check.clock_threshold"},
		{"negative concurrency", func(c *Config) { c.Probe.Concurrency = -1 }, "probe.concurrency"},
		{"port out of range", func(c *Config) { c.SSH.Port = 70000 }, "ssh.port"},
		{"bad ssh timeout", func(c *Config) { c.SSH.Timeout = "30" }, "ssh.timeout"},
		{"short passwords", func(c *Config) { c.Credentials.Length = 6 }, "credentials.length"},
		{"unnamed tenant", func(c *Config) { c.Tenants = []TenantConfig{{Memory: "2G"}} }, "name is required"},
		{"bad tenant size", func(c *Config) { c.Tenants = []TenantConfig{{Name: "app", LogDisk: "huge"}} }, "tenants[0].log_disk"},
		{"unknown format", func(c *Config) { c.Output.Format = "xml" }, "output.format"},
		{"unknown log level", func(c *Config) { c.Output.LogLevel = "trace" }, "output.log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := NewConfig()
	cfg.SSH.Port = 0
	cfg.Output.Format = "xml"

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "ssh.port")
	assert.Contains(t, err.Error(), "output.format")
}

// =============================================================================
// Paths and writing
// =============================================================================

func TestGetUserConfigPath_RespectsXDGConfigHome(t *testing.T) {
	xdg := isolate(t)

	assert.Equal(t, filepath.Join(xdg, "obplan", "config.yaml"), GetUserConfigPath())
	assert.False(t, UserConfigExists())
}

func TestWriteYAML_RoundTrips(t *testing.T) {
	// Given: a modified config written to disk
	isolate(t)
	dir := t.TempDir()
	cfg := NewConfig()
	cfg.Check.Strict = true
	cfg.Probe.SysctlKeys = []string{"vm.max_map_count"}
	require.NoError(t, cfg.WriteYAML(filepath.Join(dir, ProjectConfigName)))

	// When: it is loaded back
	loaded, err := Load(dir)

	// Then: the values survive
	require.NoError(t, err)
	assert.True(t, loaded.Check.Strict)
	assert.Equal(t, []string{"vm.max_map_count"}, loaded.Probe.SysctlKeys)
}
