package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/workbench/internal/auth"
	"github.com/mattjoyce/workbench/internal/state"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// EnvConfigPath names the environment variable that points at a config file.
const EnvConfigPath = "WORKBENCH_CONFIG"

// ErrNoConfig is returned by DiscoverConfigPath when no candidate exists.
var ErrNoConfig = errors.New("no config found")

// Load reads and parses configuration from a file. An empty path yields the
// defaults.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		cfg := Defaults()
		if err := validate(cfg); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	// Resolve to absolute path for consistent relative path resolution
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
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath

	cfg = applyConfigDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $WORKBENCH_CONFIG, ~/.config/workbench/config.yaml, ./config.yaml
func DiscoverConfigPath() (string, error) {
	// 1. Check environment variable
	if path := os.Getenv(EnvConfigPath); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	// 2. Check user config directory
	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "workbench", "config.yaml")
		if _, err := os.Stat(userConfig); err == nil {
			return userConfig, nil
		}
	}

	// 3. Fallback to the current directory
	localConfig := "./config.yaml"
	if _, err := os.Stat(localConfig); err == nil {
		return localConfig, nil
	}

	return "", fmt.Errorf("%w (checked: $%s, ~/.config/workbench/config.yaml, ./config.yaml)", ErrNoConfig, EnvConfigPath)
}

// loadConfigFile loads and parses a single config file.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	// Apply environment variable interpolation
	interpolated := interpolateEnv(string(data))

	// Parse YAML into partial config (don't apply defaults yet)
	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &cfg, nil
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	// Apply service defaults if not set
	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Service.LockPath == "" {
		cfg.Service.LockPath = defaults.Service.LockPath
	}

	if cfg.CLI.Binary == "" {
		cfg.CLI.Binary = defaults.CLI.Binary
	}

	if cfg.Poll.ListInterval == 0 {
		cfg.Poll.ListInterval = defaults.Poll.ListInterval
	}
	if cfg.Poll.StatusInterval == 0 {
		cfg.Poll.StatusInterval = defaults.Poll.StatusInterval
	}

	// Apply state defaults if not set
	if cfg.State.Backend == "" {
		cfg.State.Backend = defaults.State.Backend
	}
	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	if cfg.State.HistoryCap == 0 {
		cfg.State.HistoryCap = defaults.State.HistoryCap
	}

	if cfg.ActionLogs.Dir == "" {
		cfg.ActionLogs.Dir = defaults.ActionLogs.Dir
	}
	if cfg.ActionLogs.Retention == 0 {
		cfg.ActionLogs.Retention = defaults.ActionLogs.Retention
	}

	// Apply API defaults if not set
	if !cfg.API.Enabled && cfg.API.Listen == "" {
		cfg.API = defaults.API
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// If not found, leave the placeholder (will fail validation if required)
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.CLI.Binary == "" {
		return fmt.Errorf("cli.binary is required")
	}
	if err := checkUnresolved("cli.http_proxy", cfg.CLI.HTTPProxy); err != nil {
		return err
	}
	if err := checkUnresolved("cli.https_proxy", cfg.CLI.HTTPSProxy); err != nil {
		return err
	}
	for k, v := range cfg.CLI.Env {
		if err := checkUnresolved("cli.env."+k, v); err != nil {
			return err
		}
	}

	if cfg.Poll.ListInterval <= 0 {
		return fmt.Errorf("poll.list_interval must be positive")
	}
	if cfg.Poll.StatusInterval <= 0 {
		return fmt.Errorf("poll.status_interval must be positive")
	}

	// State validation
	switch cfg.State.Backend {
	case state.BackendSQLite, state.BackendFile:
		if cfg.State.Path == "" {
			return fmt.Errorf("state.path is required for backend %q", cfg.State.Backend)
		}
	case state.BackendMemory:
	default:
		return fmt.Errorf("state.backend must be one of: sqlite, file, memory (got %q)", cfg.State.Backend)
	}
	if cfg.State.HistoryCap < 0 {
		return fmt.Errorf("state.history_cap must not be negative")
	}

	if cfg.ActionLogs.Retention < 0 {
		return fmt.Errorf("action_logs.retention must not be negative")
	}

	// API auth validation
	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the API is enabled")
		}
		if err := checkUnresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		for i, tok := range cfg.API.Auth.Tokens {
			if tok.Token == "" {
				return fmt.Errorf("api.auth.tokens[%d].token is required", i)
			}
			if err := checkUnresolved(fmt.Sprintf("api.auth.tokens[%d].token", i), tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
			}
			for _, scope := range tok.Scopes {
				if !auth.ValidScope(scope) {
					return fmt.Errorf("api.auth.tokens[%d]: unknown scope %q", i, scope)
				}
			}
		}
	}

	return nil
}

// checkUnresolved rejects values that still carry a ${VAR} placeholder, so
// secrets never reach the CLI or the logs half-expanded.
func checkUnresolved(field, value string) error {
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}
