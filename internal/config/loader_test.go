package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
service:
  log_level: debug
cli:
  skip_pro: true
  additional_flags:
    --workspace-env: FOO=bar
poll:
  status_interval: 5s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "workbench", cfg.Service.Name)
	assert.Equal(t, "debug", cfg.Service.LogLevel)
	assert.Equal(t, "json", cfg.Service.LogFormat)
	assert.Equal(t, "devpod", cfg.CLI.Binary)
	assert.True(t, cfg.CLI.SkipPro)
	assert.Equal(t, "FOO=bar", cfg.CLI.AdditionalFlags["--workspace-env"])
	assert.Equal(t, time.Second, cfg.Poll.ListInterval)
	assert.Equal(t, 5*time.Second, cfg.Poll.StatusInterval)
	assert.Equal(t, "sqlite", cfg.State.Backend)
	assert.Equal(t, 50, cfg.State.HistoryCap)
	assert.Equal(t, 7*24*time.Hour, cfg.ActionLogs.Retention)
	assert.False(t, cfg.API.Enabled)
	assert.Equal(t, "127.0.0.1:8080", cfg.API.Listen)
	assert.Equal(t, path, cfg.SourcePath)
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "state:\n  backend: memory\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.State.Backend)

	_, err = Load(t.TempDir())
	assert.ErrorContains(t, err, "config.yaml not found")
}

func TestLoadInterpolatesEnv(t *testing.T) {
	t.Setenv("WB_TEST_TOKEN", "s3cret")
	t.Setenv("WB_TEST_PROXY", "http://proxy:3128")
	path := writeConfig(t, t.TempDir(), `
cli:
  http_proxy: ${WB_TEST_PROXY}
api:
  enabled: true
  listen: 127.0.0.1:9090
  auth:
    tokens:
      - token: ${WB_TEST_TOKEN}
        scopes: [workspaces:rw, events:ro]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://proxy:3128", cfg.CLI.HTTPProxy)
	require.Len(t, cfg.API.Auth.Tokens, 1)
	assert.Equal(t, "s3cret", cfg.API.Auth.Tokens[0].Token)
	assert.Equal(t, "127.0.0.1:9090", cfg.API.Listen)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"log level", "service:\n  log_level: loud\n", "service.log_level"},
		{"log format", "service:\n  log_format: xml\n", "service.log_format"},
		{"negative poll", "poll:\n  list_interval: -1s\n", "poll.list_interval"},
		{"backend", "state:\n  backend: etcd\n", "state.backend"},
		{"history cap", "state:\n  history_cap: -3\n", "state.history_cap"},
		{"unset env", "api:\n  enabled: true\n  auth:\n    api_key: ${WB_TEST_DEFINITELY_UNSET}\n", "${WB_TEST_DEFINITELY_UNSET} is not set"},
		{"cli env", "cli:\n  env:\n    TOKEN: ${WB_TEST_DEFINITELY_UNSET}\n", "cli.env.TOKEN"},
		{"empty token", "api:\n  enabled: true\n  auth:\n    tokens:\n      - scopes: [\"*\"]\n", "tokens[0].token is required"},
		{"no scopes", "api:\n  enabled: true\n  auth:\n    tokens:\n      - token: abc\n", "scopes must be non-empty"},
		{"unknown scope", "api:\n  enabled: true\n  auth:\n    tokens:\n      - token: abc\n        scopes: [jobs:rw]\n", "unknown scope"},
		{"bad yaml", "service: [\n", "failed to parse YAML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.body)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "config file not found")
}

func TestDiscoverConfigPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())

	t.Run("nothing found", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "")
		_, err := DiscoverConfigPath()
		assert.ErrorIs(t, err, ErrNoConfig)
	})

	t.Run("current directory", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "")
		require.NoError(t, os.WriteFile("config.yaml", nil, 0o600))
		defer os.Remove("config.yaml")

		got, err := DiscoverConfigPath()
		require.NoError(t, err)
		assert.Equal(t, "./config.yaml", got)
	})

	t.Run("user config wins over current directory", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "")
		require.NoError(t, os.WriteFile("config.yaml", nil, 0o600))
		defer os.Remove("config.yaml")
		userDir := filepath.Join(home, ".config", "workbench")
		require.NoError(t, os.MkdirAll(userDir, 0o755))
		userConfig := writeConfig(t, userDir, "")
		defer os.Remove(userConfig)

		got, err := DiscoverConfigPath()
		require.NoError(t, err)
		assert.Equal(t, userConfig, got)
	})

	t.Run("environment wins", func(t *testing.T) {
		explicit := writeConfig(t, t.TempDir(), "")
		t.Setenv(EnvConfigPath, explicit)

		got, err := DiscoverConfigPath()
		require.NoError(t, err)
		assert.Equal(t, explicit, got)
	})

	t.Run("missing environment path falls through", func(t *testing.T) {
		t.Setenv(EnvConfigPath, filepath.Join(home, "missing.yaml"))
		_, err := DiscoverConfigPath()
		assert.ErrorIs(t, err, ErrNoConfig)
	})
}
