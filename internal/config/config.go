package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/obplan/internal/capacity"
)

// Config is the obplan tool configuration. It governs how a pass runs; the
// deployment itself lives in the topology file.
type Config struct {
	Version     int               `yaml:"version" json:"version"`
	Check       CheckConfig       `yaml:"check" json:"check"`
	Probe       ProbeConfig       `yaml:"probe" json:"probe"`
	SSH         SSHConfig         `yaml:"ssh" json:"ssh"`
	Credentials CredentialsConfig `yaml:"credentials" json:"credentials"`
	Tenants     []TenantConfig    `yaml:"tenants" json:"tenants"`
	Metrics     MetricsConfig     `yaml:"metrics" json:"metrics"`
	Output      OutputConfig      `yaml:"output" json:"output"`
}

// CheckConfig configures severity policy and thresholds.
type CheckConfig struct {
	// Strict fails alert items instead of warning.
	Strict bool `yaml:"strict" json:"strict"`
	// Production applies production floors to every node.
	Production bool `yaml:"production" json:"production"`
	// PermitUnsafe downgrades error items to warnings.
	PermitUnsafe bool `yaml:"permit_unsafe" json:"permit_unsafe"`
	// MinMemory overrides the non-production memory floor ("8G").
	MinMemory string `yaml:"min_memory" json:"min_memory"`
	// ClockThreshold is the allowed clock spread across hosts ("200ms").
	ClockThreshold string `yaml:"clock_threshold" json:"clock_threshold"`
	// Skip lists check items that are not evaluated.
	Skip []string `yaml:"skip" json:"skip"`
}

// ProbeConfig configures host fact collection.
type ProbeConfig struct {
	// Concurrency bounds how many hosts are probed at once.
	Concurrency int `yaml:"concurrency" json:"concurrency"`
	// Native reads localhost facts through the OS instead of shell commands.
	Native bool `yaml:"native" json:"native"`
	// MountCacheSize bounds the per-pass mount resolution cache.
	MountCacheSize int `yaml:"mount_cache_size" json:"mount_cache_size"`
	// SysctlKeys replaces the kernel parameters read from each host.
	SysctlKeys []string `yaml:"sysctl_keys" json:"sysctl_keys"`
}

// SSHConfig holds the remote login defaults. The topology user block wins
// over these.
type SSHConfig struct {
	User           string `yaml:"user" json:"user"`
	Password       string `yaml:"password" json:"-"`
	KeyFile        string `yaml:"key_file" json:"key_file"`
	Port           int    `yaml:"port" json:"port"`
	KnownHostsFile string `yaml:"known_hosts_file" json:"known_hosts_file"`
	Timeout        string `yaml:"timeout" json:"timeout"`
	DialAttempts   uint   `yaml:"dial_attempts" json:"dial_attempts"`
}

// CredentialsConfig configures generated passwords.
type CredentialsConfig struct {
	Length int `yaml:"length" json:"length"`
}

// TenantConfig is capacity already promised to a tenant of the storage
// cluster, subtracted before the management tenant is checked.
type TenantConfig struct {
	Name    string `yaml:"name" json:"name"`
	Memory  string `yaml:"memory" json:"memory"`
	LogDisk string `yaml:"log_disk" json:"log_disk"`
}

// MetricsConfig configures metrics export.
type MetricsConfig struct {
	// Textfile is written after each pass when set.
	Textfile string `yaml:"textfile" json:"textfile"`
}

// OutputConfig configures rendering and logging.
type OutputConfig struct {
	// Format is "table" or "json".
	Format   string `yaml:"format" json:"format"`
	LogLevel string `yaml:"log_level" json:"log_level"`
	Verbose  bool   `yaml:"verbose" json:"verbose"`
}

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
)

// ProjectConfigName is the per-project configuration file.
const ProjectConfigName = ".obplan.yaml"

// NewConfig creates a Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Check: CheckConfig{
			ClockThreshold: "200ms",
		},
		Probe: ProbeConfig{
			Concurrency:    16,
			MountCacheSize: 1024,
		},
		SSH: SSHConfig{
			Port:         22,
			Timeout:      "30s",
			DialAttempts: 3,
		},
		Credentials: CredentialsConfig{
			Length: 20,
		},
		Output: OutputConfig{
			Format:   FormatTable,
			LogLevel: "warn",
		},
	}
}

// GetUserConfigPath returns the path to the user configuration file:
//   - $XDG_CONFIG_HOME/obplan/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/obplan/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "obplan", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "obplan", "config.yaml")
	}
	return filepath.Join(home, ".config", "obplan", "config.yaml")
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// Load loads configuration for a deployment directory. Layers, in order of
// increasing precedence:
//  1. Defaults
//  2. User config (~/.config/obplan/config.yaml)
//  3. Project config (.obplan.yaml in dir)
//  4. .env in dir (never overriding variables already set)
//  5. Environment variables (OBPLAN_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if path := filepath.Join(dir, ProjectConfigName); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	if err := loadDotEnv(dir); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if !fileExists(path) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// loadYAML merges a YAML file into c.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Booleans cannot be told apart from "unset" after decoding, so they
	// are merged only when the key is present.
	c.mergeWith(&parsed, presentKeys(data))
	return nil
}

// presentKeys returns the keys set in each section of a config document.
func presentKeys(data []byte) map[string]map[string]any {
	var raw map[string]yaml.Node
	_ = yaml.Unmarshal(data, &raw)

	present := map[string]map[string]any{}
	for name, node := range raw {
		if node.Kind != yaml.MappingNode {
			continue
		}
		var m map[string]any
		if node.Decode(&m) == nil {
			present[name] = m
		}
	}
	return present
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config, present map[string]map[string]any) {
	has := func(section, key string) bool {
		_, ok := present[section][key]
		return ok
	}

	if other.Version != 0 {
		c.Version = other.Version
	}

	// Check
	if has("check", "strict") {
		c.Check.Strict = other.Check.Strict
	}
	if has("check", "production") {
		c.Check.Production = other.Check.Production
	}
	if has("check", "permit_unsafe") {
		c.Check.PermitUnsafe = other.Check.PermitUnsafe
	}
	if other.Check.MinMemory != "" {
		c.Check.MinMemory = other.Check.MinMemory
	}
	if other.Check.ClockThreshold != "" {
		c.Check.ClockThreshold = other.Check.ClockThreshold
	}
	if len(other.Check.Skip) > 0 {
		c.Check.Skip = other.Check.Skip
	}

	// Probe
	if other.Probe.Concurrency != 0 {
		c.Probe.Concurrency = other.Probe.Concurrency
	}
	if has("probe", "native") {
		c.Probe.Native = other.Probe.Native
	}
	if other.Probe.MountCacheSize != 0 {
		c.Probe.MountCacheSize = other.Probe.MountCacheSize
	}
	if len(other.Probe.SysctlKeys) > 0 {
		c.Probe.SysctlKeys = other.Probe.SysctlKeys
	}

	// SSH
	if other.SSH.User != "" {
		c.SSH.User = other.SSH.User
	}
	if other.SSH.Password != "" {
		c.SSH.Password = other.SSH.Password
	}
	if other.SSH.KeyFile != "" {
		c.SSH.KeyFile = other.SSH.KeyFile
	}
	if other.SSH.Port != 0 {
		c.SSH.Port = other.SSH.Port
	}
	if other.SSH.KnownHostsFile != "" {
		c.SSH.KnownHostsFile = other.SSH.KnownHostsFile
	}
	if other.SSH.Timeout != "" {
		c.SSH.Timeout = other.SSH.Timeout
	}
	if other.SSH.DialAttempts != 0 {
		c.SSH.DialAttempts = other.SSH.DialAttempts
	}

	if other.Credentials.Length != 0 {
		c.Credentials.Length = other.Credentials.Length
	}
	if len(other.Tenants) > 0 {
		c.Tenants = other.Tenants
	}
	if other.Metrics.Textfile != "" {
		c.Metrics.Textfile = other.Metrics.Textfile
	}

	// Output
	if other.Output.Format != "" {
		c.Output.Format = other.Output.Format
	}
	if other.Output.LogLevel != "" {
		c.Output.LogLevel = other.Output.LogLevel
	}
	if has("output", "verbose") {
		c.Output.Verbose = other.Output.Verbose
	}
}

// applyEnvOverrides applies OBPLAN_* environment variables.
func (c *Config) applyEnvOverrides() {
	envBool("OBPLAN_STRICT", &c.Check.Strict)
	envBool("OBPLAN_PRODUCTION", &c.Check.Production)
	envBool("OBPLAN_PERMIT_UNSAFE", &c.Check.PermitUnsafe)
	if v := os.Getenv("OBPLAN_MIN_MEMORY"); v != "" {
		c.Check.MinMemory = v
	}
	if v := os.Getenv("OBPLAN_CLOCK_THRESHOLD"); v != "" {
		c.Check.ClockThreshold = v
	}

	if v := os.Getenv("OBPLAN_PROBE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Probe.Concurrency = n
		}
	}
	envBool("OBPLAN_PROBE_NATIVE", &c.Probe.Native)

	if v := os.Getenv("OBPLAN_SSH_USER"); v != "" {
		c.SSH.User = v
	}
	if v := os.Getenv("OBPLAN_SSH_PASSWORD"); v != "" {
		c.SSH.Password = v
	}
	if v := os.Getenv("OBPLAN_SSH_KEY_FILE"); v != "" {
		c.SSH.KeyFile = v
	}
	if v := os.Getenv("OBPLAN_SSH_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.SSH.Port = p
		}
	}
	if v := os.Getenv("OBPLAN_SSH_KNOWN_HOSTS"); v != "" {
		c.SSH.KnownHostsFile = v
	}

	if v := os.Getenv("OBPLAN_METRICS_TEXTFILE"); v != "" {
		c.Metrics.Textfile = v
	}
	if v := os.Getenv("OBPLAN_OUTPUT"); v != "" {
		c.Output.Format = v
	}
	if v := os.Getenv("OBPLAN_LOG_LEVEL"); v != "" {
		c.Output.LogLevel = v
	}
}

func envBool(name string, dst *bool) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Check.MinMemory != "" {
		if _, err := capacity.Parse(c.Check.MinMemory); err != nil {
			errs = append(errs, fmt.Errorf("check.min_memory: %w", err))
		}
	}
	if _, err := parseDuration("check.clock_threshold", c.Check.ClockThreshold); err != nil {
		errs = append(errs, err)
	}
	if c.Probe.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("probe.concurrency must be non-negative, got %d", c.Probe.Concurrency))
	}
	if c.Probe.MountCacheSize < 0 {
		errs = append(errs, fmt.Errorf("probe.mount_cache_size must be non-negative, got %d", c.Probe.MountCacheSize))
	}
	if c.SSH.Port < 1 || c.SSH.Port > 65535 {
		errs = append(errs, fmt.Errorf("ssh.port must be between 1 and 65535, got %d", c.SSH.Port))
	}
	if _, err := parseDuration("ssh.timeout", c.SSH.Timeout); err != nil {
		errs = append(errs, err)
	}
	if c.Credentials.Length != 0 && c.Credentials.Length < 8 {
		errs = append(errs, fmt.Errorf("credentials.length must be at least 8, got %d", c.Credentials.Length))
	}
	for i, t := range c.Tenants {
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("tenants[%d]: name is required", i))
		}
		for key, v := range map[string]string{"memory": t.Memory, "log_disk": t.LogDisk} {
			if v == "" {
				continue
			}
			if _, err := capacity.Parse(v); err != nil {
				errs = append(errs, fmt.Errorf("tenants[%d].%s: %w", i, key, err))
			}
		}
	}

	switch strings.ToLower(c.Output.Format) {
	case FormatTable, FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("output.format must be 'table' or 'json', got %s", c.Output.Format))
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Output.LogLevel)] {
		errs = append(errs, fmt.Errorf("output.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Output.LogLevel))
	}

	return errors.Join(errs...)
}

func parseDuration(field, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must be non-negative, got %s", field, v)
	}
	return d, nil
}

// MinMemoryBytes returns check.min_memory, zero when unset.
func (c *Config) MinMemoryBytes() capacity.Bytes {
	b, _ := capacity.Parse(c.Check.MinMemory)
	return b
}

// ClockThreshold returns check.clock_threshold, zero when unset.
func (c *Config) ClockThreshold() time.Duration {
	d, _ := parseDuration("", c.Check.ClockThreshold)
	return d
}

// SSHTimeout returns ssh.timeout, zero when unset.
func (c *Config) SSHTimeout() time.Duration {
	d, _ := parseDuration("", c.SSH.Timeout)
	return d
}

// TenantBytes returns the reservation sizes of tenant i.
func (t TenantConfig) TenantBytes() (memory, logDisk capacity.Bytes) {
	memory, _ = capacity.Parse(t.Memory)
	logDisk, _ = capacity.Parse(t.LogDisk)
	return memory, logDisk
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
