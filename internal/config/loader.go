package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/cmci/internal/log"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads configuration from a YAML file layered over Defaults().
// A directory path is resolved to cmci.yaml inside it.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, DefaultFileName)
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but %s not found: %s", DefaultFileName, absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	return cfg, nil
}

// Parse decodes YAML bytes over Defaults() and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	interpolated := interpolateEnv(string(data))
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configPath, or the discovered config, falling back to
// Defaults() when nothing is found. An explicit path that fails to load is an error.
func LoadOrDefault(configPath string) (*Config, string, error) {
	if configPath != "" {
		cfg, err := Load(configPath)
		return cfg, configPath, err
	}
	discovered, ok := Discover()
	if !ok {
		return Defaults(), "", nil
	}
	cfg, err := Load(discovered)
	return cfg, discovered, err
}

// Validate checks required fields.
func Validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Gate.PrimaryBranch) == "" {
		return fmt.Errorf("gate.primary_branch is required")
	}
	if len(cfg.Gate.BranchVars) == 0 {
		return fmt.Errorf("gate.branch_vars must name at least one variable")
	}
	if len(cfg.Gate.EventVars) == 0 {
		return fmt.Errorf("gate.event_vars must name at least one variable")
	}
	if cfg.Toolchain.Cargo == "" {
		return fmt.Errorf("toolchain.cargo is required")
	}
	if cfg.Toolchain.R0P1Feature == "" {
		return fmt.Errorf("toolchain.r0p1_feature is required")
	}
	if cfg.HIL.Timeout < 0 {
		return fmt.Errorf("hil.timeout must not be negative")
	}
	if !log.ValidLevel(cfg.LogLevel) {
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error", cfg.LogLevel)
	}
	return nil
}

// interpolateEnv replaces ${VAR} with the environment value. Unset variables
// are left as-is so they surface in validation rather than becoming empty.
func interpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}
