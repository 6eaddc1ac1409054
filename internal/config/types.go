package config

import "time"

// Config represents the complete workbench configuration.
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	CLI        CLIConfig        `yaml:"cli"`
	Poll       PollConfig       `yaml:"poll"`
	State      StateConfig      `yaml:"state"`
	ActionLogs ActionLogsConfig `yaml:"action_logs"`
	API        APIConfig        `yaml:"api,omitempty"`

	// SourcePath is the file the config was loaded from, empty for defaults.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LockPath  string `yaml:"lock_path"`
}

// CLIConfig controls how the devpod CLI is invoked.
type CLIConfig struct {
	Binary           string            `yaml:"binary"`
	Debug            bool              `yaml:"debug"`
	SkipPro          bool              `yaml:"skip_pro"`
	AdditionalFlags  map[string]string `yaml:"additional_flags,omitempty"`
	DotfilesURL      string            `yaml:"dotfiles_url,omitempty"`
	GitSSHSigningKey string            `yaml:"git_ssh_signing_key,omitempty"`
	Env              map[string]string `yaml:"env,omitempty"`
	HTTPProxy        string            `yaml:"http_proxy,omitempty"`
	HTTPSProxy       string            `yaml:"https_proxy,omitempty"`
	NoProxy          string            `yaml:"no_proxy,omitempty"`
}

// PollConfig sets how often the workspace list and statuses are refreshed.
type PollConfig struct {
	ListInterval   time.Duration `yaml:"list_interval"`
	StatusInterval time.Duration `yaml:"status_interval"`
}

// StateConfig defines where the action history is persisted.
type StateConfig struct {
	Backend    string `yaml:"backend"`
	Path       string `yaml:"path"`
	HistoryCap int    `yaml:"history_cap"`
}

// ActionLogsConfig defines where action output is kept and for how long.
type ActionLogsConfig struct {
	Dir       string        `yaml:"dir"`
	Retention time.Duration `yaml:"retention"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single bearer token with full access.
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// ChecksumManifest is the content of a .checksums file.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// Defaults returns a Config with the built-in defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "workbench",
			LogLevel:  "info",
			LogFormat: "json",
			LockPath:  "./data/workbench.lock",
		},
		CLI: CLIConfig{
			Binary: "devpod",
		},
		Poll: PollConfig{
			ListInterval:   time.Second,
			StatusInterval: time.Second,
		},
		State: StateConfig{
			Backend:    "sqlite",
			Path:       "./data/state.db",
			HistoryCap: 50,
		},
		ActionLogs: ActionLogsConfig{
			Dir:       "./data/action-logs",
			Retention: 7 * 24 * time.Hour,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
	}
}
