// Package doctor validates workbench configuration and its environment.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/workbench/internal/auth"
	"github.com/mattjoyce/workbench/internal/config"
	"github.com/mattjoyce/workbench/internal/state"
	"github.com/mattjoyce/workbench/internal/storage"
)

// minPollInterval is the shortest interval that does not hammer the CLI.
const minPollInterval = 500 * time.Millisecond

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration against the host.
type Doctor struct {
	cfg      *config.Config
	lookPath func(string) (string, error)
	fsCheck  func(string) error
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, lookPath: exec.LookPath, fsCheck: storage.CheckLocalFilesystem}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateServiceConfig(r)
	d.validateCLI(r)
	d.validateState(r)
	d.validateAPIConfig(r)
	d.validateTokenScopes(r)
	d.warnSuspiciousPoll(r)
	d.warnUnlockedConfig(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateServiceConfig(r *Result) {
	switch d.cfg.Service.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		d.addError(r, "service", "service.log_level",
			fmt.Sprintf("log_level must be one of debug, info, warn, error (got %q)", d.cfg.Service.LogLevel))
	}
	if d.cfg.Service.LockPath == "" {
		d.addError(r, "service", "service.lock_path", "lock_path is required")
	}
}

// validateCLI checks that the devpod binary can be found.
func (d *Doctor) validateCLI(r *Result) {
	if d.cfg.CLI.Binary == "" {
		d.addError(r, "cli", "cli.binary", "cli.binary is required")
		return
	}
	if _, err := d.lookPath(d.cfg.CLI.Binary); err != nil {
		d.addError(r, "cli", "cli.binary",
			fmt.Sprintf("devpod CLI %q not found: %v", d.cfg.CLI.Binary, err))
	}
}

// validateState checks the history backend and where it lives.
func (d *Doctor) validateState(r *Result) {
	switch d.cfg.State.Backend {
	case state.BackendMemory:
		d.addWarning(r, "state", "state.backend", "memory backend: action history is lost on restart")
		return
	case state.BackendSQLite, state.BackendFile:
	default:
		d.addError(r, "state", "state.backend",
			fmt.Sprintf("unknown backend %q", d.cfg.State.Backend))
		return
	}

	if d.cfg.State.Path == "" {
		d.addError(r, "state", "state.path", "state.path is required")
		return
	}
	for field, path := range map[string]string{
		"state.path":      d.cfg.State.Path,
		"action_logs.dir": d.cfg.ActionLogs.Dir,
	} {
		if path == "" {
			continue
		}
		if err := d.fsCheck(filepath.Clean(path)); err != nil {
			if errors.Is(err, storage.ErrNetworkFilesystem) {
				d.addError(r, "state", field, err.Error())
			} else {
				d.addWarning(r, "state", field, fmt.Sprintf("could not check filesystem: %v", err))
			}
		}
	}
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if d.cfg.API.Auth.APIKey == "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "api", "api.auth", "API enabled but no authentication configured")
	}
}

func (d *Doctor) validateTokenScopes(r *Result) {
	seen := make(map[string]int)
	for i, token := range d.cfg.API.Auth.Tokens {
		if prev, ok := seen[token.Token]; ok && token.Token != "" {
			d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].token", i),
				fmt.Sprintf("token duplicates api.auth.tokens[%d]", prev))
		}
		seen[token.Token] = i

		for j, scope := range token.Scopes {
			if !auth.ValidScope(scope) {
				d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q (expected *, workspaces:ro, workspaces:rw, actions:ro or events:ro)", scope))
			}
		}
	}
}

func (d *Doctor) warnSuspiciousPoll(r *Result) {
	if d.cfg.Poll.ListInterval > 0 && d.cfg.Poll.ListInterval < minPollInterval {
		d.addWarning(r, "poll", "poll.list_interval",
			fmt.Sprintf("list_interval %s runs the CLI very often", d.cfg.Poll.ListInterval))
	}
	if d.cfg.Poll.StatusInterval > 0 && d.cfg.Poll.StatusInterval < minPollInterval {
		d.addWarning(r, "poll", "poll.status_interval",
			fmt.Sprintf("status_interval %s runs the CLI very often", d.cfg.Poll.StatusInterval))
	}
}

// warnUnlockedConfig flags a config file that is not pinned by a checksum.
func (d *Doctor) warnUnlockedConfig(r *Result) {
	if d.cfg.SourcePath == "" {
		return
	}
	if _, err := config.LoadChecksums(filepath.Dir(d.cfg.SourcePath)); err != nil {
		d.addWarning(r, "integrity", "",
			fmt.Sprintf("config is not locked; run 'workbench config lock' to enable integrity verification (%v)", err))
	}
}

// FormatHuman renders a result for the terminal.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
		return b.String()
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	writeIssues(&b, "ERROR", r.Errors)
	writeIssues(&b, "WARN ", r.Warnings)
	return b.String()
}

func writeIssues(b *strings.Builder, label string, issues []Issue) {
	for _, is := range issues {
		if is.Field != "" {
			fmt.Fprintf(b, "  %s [%s] %s: %s\n", label, is.Category, is.Field, is.Message)
		} else {
			fmt.Fprintf(b, "  %s [%s] %s\n", label, is.Category, is.Message)
		}
	}
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
