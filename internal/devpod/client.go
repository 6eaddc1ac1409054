// Package devpod drives the devpod CLI: it lists workspaces, queries their
// status and runs the long-running lifecycle commands, streaming their JSON
// log output to a sink.
package devpod

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mattjoyce/workbench/internal/workspace"
)

const (
	DefaultBinary = "devpod"

	// uiEnvVar tells the CLI it is driven by a frontend.
	uiEnvVar = "DEVPOD_UI"

	// interruptGrace is how long a cancelled command gets between SIGINT and
	// SIGKILL.
	interruptGrace = 5 * time.Second

	maxStderrBytes = 16 * 1024
)

var (
	// ErrCommandFailed matches every *ExitError.
	ErrCommandFailed = errors.New("devpod command failed")

	// ErrClosed is returned by lifecycle commands issued after Close.
	ErrClosed = errors.New("devpod client closed")
)

// ExitError reports a CLI invocation that exited non-zero.
type ExitError struct {
	Args   []string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("devpod %s: exit code %d", strings.Join(e.Args, " "), e.Code)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ExitError) Is(target error) bool { return target == ErrCommandFailed }

// Config controls how the CLI is invoked.
type Config struct {
	Binary           string
	Debug            bool
	SkipPro          bool
	AdditionalFlags  map[string]string
	DotfilesURL      string
	GitSSHSigningKey string
	Env              map[string]string
	HTTPProxy        string
	HTTPSProxy       string
	NoProxy          string
}

// Client runs devpod commands. Identical lifecycle commands issued while one
// is already running join the running one instead of spawning a second
// process; only the first caller's sink receives the log stream. A call whose
// caller has gone away is never joined.
//
// Lifecycle processes that report done but keep running (port forwarding for
// browser IDEs) outlive their caller and are interrupted by Close.
type Client struct {
	cfg    Config
	logger *slog.Logger
	group  singleflight.Group

	life     context.Context
	shutdown context.CancelFunc

	mu     sync.Mutex
	closed bool
	procs  sync.WaitGroup
}

// New creates a Client.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if logger == nil {
		logger = slog.Default()
	}
	life, shutdown := context.WithCancel(context.Background())
	return &Client{
		cfg:      cfg,
		logger:   logger.With("component", "devpod"),
		life:     life,
		shutdown: shutdown,
	}
}

// Close interrupts every lifecycle process still running and waits for them
// to exit. Later lifecycle calls fail with ErrClosed.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.shutdown()
	c.mu.Unlock()
	c.procs.Wait()
}

// track registers a lifecycle process with the client.
func (c *Client) track() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.procs.Add(1)
	return true
}

// Binary returns the CLI executable the client runs.
func (c *Client) Binary() string { return c.cfg.Binary }

type rawWorkspace struct {
	workspace.Workspace
	ID *string `json:"id"`
}

// ListWorkspaces returns every workspace the CLI knows. Records without an
// ID are dropped.
func (c *Client) ListWorkspaces(ctx context.Context) ([]workspace.Workspace, error) {
	out, err := c.output(ctx, listArgs(c.cfg.SkipPro)...)
	if err != nil {
		return nil, err
	}

	var raw []rawWorkspace
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("decode workspace list: %w", err)
	}
	list := make([]workspace.Workspace, 0, len(raw))
	for _, r := range raw {
		if r.ID == nil || *r.ID == "" {
			continue
		}
		w := r.Workspace
		w.ID = *r.ID
		w.Status = workspace.StatusUnknown
		list = append(list, w)
	}
	return list, nil
}

// WorkspaceStatus returns the current status of workspace id.
func (c *Client) WorkspaceStatus(ctx context.Context, id string) (workspace.Status, error) {
	out, err := c.output(ctx, statusArgs(id)...)
	if err != nil {
		return workspace.StatusUnknown, err
	}
	var res struct {
		State workspace.Status `json:"state"`
	}
	if err := json.Unmarshal(out, &res); err != nil {
		return workspace.StatusUnknown, fmt.Errorf("decode status of %s: %w", id, err)
	}
	return res.State, nil
}

// Start runs `up` for id and returns the status observed afterwards.
func (c *Client) Start(ctx context.Context, id string, sc StartConfig, sink Sink) (workspace.Status, error) {
	return c.lifecycle(ctx, "start", id, c.upArgs(id, sc), sink)
}

// Stop runs `stop` for id and returns the status observed afterwards.
func (c *Client) Stop(ctx context.Context, id string, sink Sink) (workspace.Status, error) {
	return c.lifecycle(ctx, "stop", id, c.stopArgs(id), sink)
}

// Rebuild recreates the workspace container.
func (c *Client) Rebuild(ctx context.Context, id string, sink Sink) (workspace.Status, error) {
	return c.lifecycle(ctx, "rebuild", id, c.rebuildArgs(id), sink)
}

// Reset recreates the workspace and resets its sources.
func (c *Client) Reset(ctx context.Context, id string, sink Sink) (workspace.Status, error) {
	return c.lifecycle(ctx, "reset", id, c.resetArgs(id), sink)
}

// Remove deletes the workspace.
func (c *Client) Remove(ctx context.Context, id string, force bool, sink Sink) error {
	_, _, err := c.do(ctx, "remove:"+id, func() (any, error) {
		return nil, c.stream(ctx, c.deleteArgs(id, force), sink)
	})
	return err
}

// Version returns the CLI version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	out, err := c.output(ctx, "version")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *Client) lifecycle(ctx context.Context, name, id string, args []string, sink Sink) (workspace.Status, error) {
	v, shared, err := c.do(ctx, name+":"+id, func() (any, error) {
		if err := c.stream(ctx, args, sink); err != nil {
			return workspace.StatusUnknown, err
		}
		status, err := c.WorkspaceStatus(ctx, id)
		if err != nil {
			// The command itself succeeded; the next poll fills the status in.
			c.logger.Debug("status re-query failed", "workspace_id", id, "error", err)
			return workspace.StatusUnknown, nil
		}
		return status, nil
	})
	if shared {
		c.logger.Debug("joined running command", "command", name, "workspace_id", id)
	}
	status, _ := v.(workspace.Status)
	return status, err
}

// do runs fn through the single-flight group. The key is forgotten as soon
// as ctx ends so later callers start a fresh command, and a caller that
// joined a call cancelled by someone else retries with its own.
func (c *Client) do(ctx context.Context, key string, fn func() (any, error)) (any, bool, error) {
	for {
		v, err, shared := c.group.Do(key, func() (any, error) {
			stop := context.AfterFunc(ctx, func() { c.group.Forget(key) })
			defer stop()
			return fn()
		})
		if shared && err != nil && ctx.Err() == nil && isContextError(err) {
			c.logger.Debug("joined command was cancelled, retrying", "key", key)
			continue
		}
		return v, shared, err
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.cfg.Binary, args...)
	cmd.Env = c.environ()
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = interruptGrace
	return cmd
}

func (c *Client) environ() []string {
	env := os.Environ()
	for _, k := range sortedKeys(c.cfg.Env) {
		env = append(env, k+"="+c.cfg.Env[k])
	}
	if c.cfg.HTTPProxy != "" {
		env = append(env, "HTTP_PROXY="+c.cfg.HTTPProxy)
	}
	if c.cfg.HTTPSProxy != "" {
		env = append(env, "HTTPS_PROXY="+c.cfg.HTTPSProxy)
	}
	if c.cfg.NoProxy != "" {
		env = append(env, "NO_PROXY="+c.cfg.NoProxy)
	}
	return append(env, uiEnvVar+"=true")
}

// output runs a short command and returns its stdout.
func (c *Client) output(ctx context.Context, args ...string) ([]byte, error) {
	cmd := c.command(ctx, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.logger.Debug("running command", "args", args)
	if err := cmd.Run(); err != nil {
		return nil, c.wrapRunError(ctx, args, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

func (c *Client) wrapRunError(ctx context.Context, args []string, err error, stderr string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("devpod %s: %w", args[0], ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Args: args, Code: exitErr.ExitCode(), Stderr: truncate(strings.TrimSpace(stderr))}
	}
	return fmt.Errorf("devpod %s: %w", args[0], err)
}

func truncate(s string) string {
	if len(s) <= maxStderrBytes {
		return s
	}
	return s[len(s)-maxStderrBytes:]
}
