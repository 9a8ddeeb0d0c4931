// Package config loads and validates the optional .rustytools YAML file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up at the repository root.
const FileName = ".rustytools"

// Environment variables that override the file.
const (
	EnvDBPath   = "RUSTY_TOOLS_DB_PATH"
	EnvLogLevel = "RUSTY_TOOLS_LOG_LEVEL"
)

// Default values used when the file leaves a field unset.
const (
	DefaultTimeout       = 60 * time.Second
	DefaultMaxTimeout    = 10 * time.Minute
	DefaultMaxOutput     = 1 << 20 // 1 MB per stream
	DefaultMaxCodeBytes  = 10000
	DefaultMaxConcurrent = 4
)

// Config holds the parsed .rustytools configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	Version       int                   `yaml:"version" validate:"gte=0,lte=1"`
	RawTimeout    string                `yaml:"timeout" validate:"omitempty,duration"`     // e.g. "90s"
	RawMaxTimeout string                `yaml:"max_timeout" validate:"omitempty,duration"` // cap for per-request timeouts
	RawMaxOutput  int                   `yaml:"max_output" validate:"gte=0"`               // bytes per stream
	MaxCodeBytes  int                   `yaml:"max_code_bytes" validate:"gte=0"`
	MaxConcurrent int                   `yaml:"max_concurrent" validate:"gte=0,lte=64"`
	DBPath        string                `yaml:"db_path"`
	LogLevel      string                `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	Tools         map[string]ToolConfig `yaml:"tools" validate:"dive,keys,oneof=cargo_fmt cargo_clippy cargo_check cargo_build cargo_test cargo_fix cargo_audit cargo_tree cargo_doc rust_analyzer rustc_explain cargo_search,endkeys"`
	Check         CheckConfig           `yaml:"check"`
}

// ToolConfig overrides the catalogue entry of one tool.
type ToolConfig struct {
	RawTimeout string   `yaml:"timeout" validate:"omitempty,duration"`
	Args       []string `yaml:"args"` // appended after the catalogue arguments
}

// CheckConfig defines the steps for cargo_check_all.
type CheckConfig struct {
	Steps []string `yaml:"steps" validate:"dive,oneof=cargo_fmt cargo_clippy cargo_check cargo_build cargo_test cargo_doc cargo_audit"`
}

// DefaultCheckSteps are used when no steps are configured.
var DefaultCheckSteps = []string{"cargo_fmt", "cargo_check", "cargo_clippy", "cargo_test"}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("duration", validateDuration)
}

// validateDuration accepts strings time.ParseDuration understands that
// denote a positive span.
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

// Validate checks field values and tool names.
func (c *Config) Validate() error {
	return validate.Struct(c)
}

// Timeout returns the configured default timeout or DefaultTimeout.
func (c *Config) Timeout() time.Duration {
	return parseDuration(c.RawTimeout, DefaultTimeout)
}

// MaxTimeout returns the cap applied to per-request timeouts.
func (c *Config) MaxTimeout() time.Duration {
	return parseDuration(c.RawMaxTimeout, DefaultMaxTimeout)
}

// MaxOutputBytes returns the configured max output size or the default.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return DefaultMaxOutput
}

// CodeLimit returns the largest accepted code snippet in bytes.
func (c *Config) CodeLimit() int {
	if c.MaxCodeBytes > 0 {
		return c.MaxCodeBytes
	}
	return DefaultMaxCodeBytes
}

// Concurrency returns how many tool invocations may run at once.
func (c *Config) Concurrency() int {
	if c.MaxConcurrent > 0 {
		return c.MaxConcurrent
	}
	return DefaultMaxConcurrent
}

// ToolTimeout returns the timeout configured for tool, if any.
func (c *Config) ToolTimeout(tool string) (time.Duration, bool) {
	tc, ok := c.Tools[tool]
	if !ok || tc.RawTimeout == "" {
		return 0, false
	}
	d := parseDuration(tc.RawTimeout, 0)
	return d, d > 0
}

// ToolArgs returns the extra arguments configured for tool.
func (c *Config) ToolArgs(tool string) []string {
	return c.Tools[tool].Args
}

// CheckSteps returns the configured check steps, falling back to defaults.
func (c *Config) CheckSteps() []string {
	if len(c.Check.Steps) > 0 {
		return c.Check.Steps
	}
	return DefaultCheckSteps
}

// Level returns the slog level named by LogLevel, defaulting to info.
func (c *Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func parseDuration(raw string, def time.Duration) time.Duration {
	if raw != "" {
		d, err := time.ParseDuration(raw)
		if err == nil && d > 0 {
			return d
		}
	}
	return def
}

// LoadResult holds the parsed config and the discovered repository root.
type LoadResult struct {
	Config   *Config
	RepoRoot string // directory containing Cargo.toml; falls back to workspace
	Path     string // config file that was read, empty when none exists
}

// Load reads the .rustytools file from the repository root and applies
// environment overrides. The repository root is discovered by walking
// upward from workspace looking for Cargo.toml. If no file exists, a
// default Config is returned.
func Load(workspace string) (*LoadResult, error) {
	root, err := findRepoRoot(workspace)
	if err != nil {
		// No Cargo.toml found; use workspace as root.
		root, err = filepath.Abs(workspace)
		if err != nil {
			return nil, err
		}
	}

	res := &LoadResult{Config: &Config{}, RepoRoot: root}
	path := filepath.Join(root, FileName)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, res.Config); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", FileName, err)
		}
		res.Path = path
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}

	applyEnv(res.Config)
	if res.Config.DBPath != "" {
		res.Config.DBPath = expandPath(res.Config.DBPath, root)
	}
	if err := res.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", FileName, err)
	}
	return res, nil
}

func applyEnv(c *Config) {
	if v := os.Getenv(EnvDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
}

// expandPath resolves ~ and paths relative to the repository root.
func expandPath(p, root string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	return filepath.Clean(p)
}

// findRepoRoot walks upward from dir looking for a directory containing Cargo.toml.
func findRepoRoot(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "Cargo.toml")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("Cargo.toml not found")
		}
		dir = parent
	}
}
