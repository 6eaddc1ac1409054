package doctor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/workbench/internal/config"
	"github.com/mattjoyce/workbench/internal/storage"
)

func validConfig() *config.Config {
	cfg := config.Defaults()
	cfg.State.Path = "/tmp/workbench-test/state.db"
	return cfg
}

func newDoctor(cfg *config.Config) *Doctor {
	d := New(cfg)
	d.lookPath = func(name string) (string, error) { return "/usr/local/bin/" + name, nil }
	d.fsCheck = func(string) error { return nil }
	return d
}

func assertHasError(t *testing.T, r *Result, category, field string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && e.Field == field {
			return
		}
	}
	t.Fatalf("expected error category=%q field=%q, got %+v", category, field, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, field string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && w.Field == field {
			return
		}
	}
	t.Fatalf("expected warning category=%q field=%q, got %+v", category, field, r.Warnings)
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := newDoctor(validConfig()).Validate()
	assert.True(t, r.Valid, "errors: %v", r.Errors)
	assert.Empty(t, r.Warnings)
}

func TestValidate_MissingBinary(t *testing.T) {
	t.Parallel()
	d := newDoctor(validConfig())
	d.lookPath = func(string) (string, error) { return "", errors.New("executable file not found in $PATH") }

	r := d.Validate()
	assert.False(t, r.Valid)
	assertHasError(t, r, "cli", "cli.binary")
}

func TestValidate_RealLookPath(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.CLI.Binary = filepath.Join(t.TempDir(), "devpod")
	d := newDoctor(cfg)
	d.lookPath = New(cfg).lookPath

	assertHasError(t, d.Validate(), "cli", "cli.binary")

	require.NoError(t, os.WriteFile(cfg.CLI.Binary, []byte("#!/bin/sh\n"), 0o755))
	assert.True(t, d.Validate().Valid)
}

func TestValidate_State(t *testing.T) {
	t.Parallel()

	t.Run("network filesystem", func(t *testing.T) {
		d := newDoctor(validConfig())
		d.fsCheck = func(path string) error {
			if path == "/tmp/workbench-test/state.db" {
				return fmt.Errorf("%w: %s is on nfs", storage.ErrNetworkFilesystem, path)
			}
			return nil
		}
		r := d.Validate()
		assert.False(t, r.Valid)
		assertHasError(t, r, "state", "state.path")
	})

	t.Run("check failure only warns", func(t *testing.T) {
		d := newDoctor(validConfig())
		d.fsCheck = func(string) error { return errors.New("statfs: permission denied") }
		r := d.Validate()
		assert.True(t, r.Valid)
		assertHasWarning(t, r, "state", "action_logs.dir")
	})

	t.Run("memory backend", func(t *testing.T) {
		cfg := validConfig()
		cfg.State.Backend = "memory"
		r := newDoctor(cfg).Validate()
		assert.True(t, r.Valid)
		assertHasWarning(t, r, "state", "state.backend")
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := validConfig()
		cfg.State.Backend = "etcd"
		assertHasError(t, newDoctor(cfg).Validate(), "state", "state.backend")
	})

	t.Run("missing path", func(t *testing.T) {
		cfg := validConfig()
		cfg.State.Path = ""
		assertHasError(t, newDoctor(cfg).Validate(), "state", "state.path")
	})
}

func TestValidate_API(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.API.Enabled = true
	r := newDoctor(cfg).Validate()
	assert.True(t, r.Valid)
	assertHasWarning(t, r, "api", "api.auth")

	cfg.API.Listen = ""
	assertHasError(t, newDoctor(cfg).Validate(), "api", "api.listen")
}

func TestValidate_TokenScopes(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Enabled = true
	cfg.API.Auth.Tokens = []config.APIToken{
		{Token: "a", Scopes: []string{"workspaces:rw", "jobs:ro"}},
		{Token: "a", Scopes: []string{"*"}},
	}

	r := newDoctor(cfg).Validate()
	assert.False(t, r.Valid)
	assertHasError(t, r, "token_scopes", "api.auth.tokens[0].scopes[1]")
	assertHasError(t, r, "token_scopes", "api.auth.tokens[1].token")
}

func TestValidate_Service(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Service.LogLevel = "loud"
	cfg.Service.LockPath = ""

	r := newDoctor(cfg).Validate()
	assertHasError(t, r, "service", "service.log_level")
	assertHasError(t, r, "service", "service.lock_path")
}

func TestValidate_SuspiciousPoll(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Poll.ListInterval = 100 * time.Millisecond
	cfg.Poll.StatusInterval = 50 * time.Millisecond

	r := newDoctor(cfg).Validate()
	assert.True(t, r.Valid)
	assertHasWarning(t, r, "poll", "poll.list_interval")
	assertHasWarning(t, r, "poll", "poll.status_interval")
}

func TestValidate_UnlockedConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("service:\n  log_level: info\n"), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	d := newDoctor(cfg)
	assertHasWarning(t, d.Validate(), "integrity", "")

	_, err = config.Lock(path)
	require.NoError(t, err)
	assert.Empty(t, d.Validate().Warnings)
}

func TestFormat(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Configuration valid.\n", FormatHuman(&Result{Valid: true}))

	r := &Result{
		Valid:    false,
		Errors:   []Issue{{Category: "cli", Field: "cli.binary", Message: "not found on PATH"}},
		Warnings: []Issue{{Category: "integrity", Message: "config is not locked"}},
	}
	out := FormatHuman(r)
	assert.Contains(t, out, "Configuration invalid (1 error(s), 1 warning(s))")
	assert.Contains(t, out, "  ERROR [cli] cli.binary: not found on PATH\n")
	assert.Contains(t, out, "  WARN  [integrity] config is not locked\n")

	js, err := FormatJSON(r)
	require.NoError(t, err)
	assert.Contains(t, js, `"valid": false`)
	assert.Contains(t, js, `"field": "cli.binary"`)
}
