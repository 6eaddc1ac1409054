package devpod

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/workbench/internal/log"
	"github.com/mattjoyce/workbench/internal/workspace"
)

const fakeCLI = `#!/bin/sh
echo "$*" >> "$ARGS_FILE"
case "$1" in
list)
  echo '[{"id":"ws1","uid":"u1","provider":{"name":"docker"},"ide":{"name":"vscode"},"source":{"gitRepository":"https://github.com/org/repo"}},{"id":null,"provider":{"name":"docker"}}]'
  ;;
status)
  if [ "$2" = "broken" ]; then
    echo "workspace broken not found" >&2
    exit 1
  fi
  echo "{\"state\":\"Running\",\"ui\":\"$DEVPOD_UI\"}"
  ;;
up)
  case "$2" in
  slow)
    exec sleep 30
    ;;
  browser)
    echo '{"level":"info","message":"forwarding ports"}'
    echo '{"done":"true"}'
    sleep 30 >/dev/null 2>&1 &
    trap 'kill $! 2>/dev/null; echo interrupted > "$ARGS_FILE.browser"; exit 130' INT
    wait $!
    exit 0
    ;;
  cleanup)
    if [ ! -e "$ARGS_FILE.busy" ]; then
      : > "$ARGS_FILE.busy"
      sleep 30 >/dev/null 2>&1 &
      trap 'kill $! 2>/dev/null; sleep 1; exit 130' INT
      wait $!
    fi
    ;;
  esac
  echo '{"level":"info","message":"creating container"}'
  echo 'plain text noise'
  echo '{"level":"warn","message":"slow network"}' >&2
  echo '{"level":"info","message":"ready"}'
  ;;
stop)
  echo '{"level":"info","message":"stopping"}'
  ;;
delete)
  echo '{"level":"error","message":"provider unreachable"}' >&2
  exit 3
  ;;
version)
  echo "v0.6.15"
  ;;
esac
`

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) byType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newFakeClient(t *testing.T, mutate func(*Config)) (*Client, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake CLI is a shell script")
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "devpod")
	require.NoError(t, os.WriteFile(bin, []byte(fakeCLI), 0o755))
	argsFile := filepath.Join(dir, "args.log")

	cfg := Config{Binary: bin, Env: map[string]string{"ARGS_FILE": argsFile}}
	if mutate != nil {
		mutate(&cfg)
	}
	c := New(cfg, log.Discard())
	t.Cleanup(c.Close)
	return c, argsFile
}

func readArgs(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(b)), "\n")
}

func TestListWorkspacesDropsRecordsWithoutID(t *testing.T) {
	c, argsFile := newFakeClient(t, func(cfg *Config) { cfg.SkipPro = true })

	list, err := c.ListWorkspaces(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "ws1", list[0].ID)
	assert.Equal(t, "u1", list[0].UID)
	assert.Equal(t, "docker", list[0].Provider.Name)
	assert.Equal(t, "https://github.com/org/repo", list[0].Source.GitRepository)
	assert.Equal(t, workspace.StatusUnknown, list[0].Status)

	assert.Equal(t, []string{"list --output=json --skip-pro"}, readArgs(t, argsFile))
}

func TestWorkspaceStatus(t *testing.T) {
	c, _ := newFakeClient(t, nil)

	status, err := c.WorkspaceStatus(context.Background(), "ws1")
	require.NoError(t, err)
	assert.Equal(t, workspace.StatusRunning, status)

	_, err = c.WorkspaceStatus(context.Background(), "broken")
	require.ErrorIs(t, err, ErrCommandFailed)
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 1, exitErr.Code)
	assert.Contains(t, exitErr.Stderr, "not found")
}

func TestStartStreamsAndRequeriesStatus(t *testing.T) {
	c, argsFile := newFakeClient(t, nil)
	rec := &recorder{}

	status, err := c.Start(context.Background(), "ws1", StartConfig{IDE: "vscode"}, rec)
	require.NoError(t, err)
	assert.Equal(t, workspace.StatusRunning, status)

	data := rec.byType(EventData)
	require.Len(t, data, 2)
	assert.JSONEq(t, `{"level":"info","message":"creating container"}`, string(data[0].Data))
	assert.JSONEq(t, `{"level":"info","message":"ready"}`, string(data[1].Data))

	errs := rec.byType(EventError)
	require.Len(t, errs, 1)
	assert.Contains(t, string(errs[0].Data), "slow network")

	args := readArgs(t, argsFile)
	require.Len(t, args, 2)
	assert.Equal(t, "up ws1 --ide=vscode --log-output=json", args[0])
	assert.Equal(t, "status ws1 --output=json", args[1])
}

func TestStreamDoneMarkerEndsEarly(t *testing.T) {
	c, _ := newFakeClient(t, nil)
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	_, err := c.Start(ctx, "browser", StartConfig{}, rec)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Len(t, rec.byType(EventData), 1)
}

func TestCancelInterruptsProcess(t *testing.T) {
	c, _ := newFakeClient(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Start(ctx, "slow", StartConfig{}, nil)
		errCh <- err
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("cancelled command did not return")
	}
}

func TestDoneMarkerDetachesProcess(t *testing.T) {
	c, argsFile := newFakeClient(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := c.Start(ctx, "browser", StartConfig{}, nil)
	require.NoError(t, err)
	cancel()

	time.Sleep(700 * time.Millisecond)
	_, err = os.Stat(argsFile + ".browser")
	assert.True(t, errors.Is(err, os.ErrNotExist), "process was interrupted after reporting done")

	c.Close()
	_, err = os.Stat(argsFile + ".browser")
	assert.NoError(t, err, "Close interrupts detached processes")

	_, err = c.Start(context.Background(), "ws1", StartConfig{}, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCancelledCallIsNotJoined(t *testing.T) {
	c, argsFile := newFakeClient(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Start(ctx, "cleanup", StartConfig{}, nil)
		firstErr <- err
	}()
	require.Eventually(t, func() bool {
		_, err := os.Stat(argsFile + ".busy")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	time.Sleep(50 * time.Millisecond)

	status, err := c.Start(context.Background(), "cleanup", StartConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, workspace.StatusRunning, status)

	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("cancelled command did not return")
	}
}

func TestRemoveFailureCarriesStderr(t *testing.T) {
	c, argsFile := newFakeClient(t, func(cfg *Config) { cfg.Debug = true })
	rec := &recorder{}

	err := c.Remove(context.Background(), "ws1", true, rec)
	require.ErrorIs(t, err, ErrCommandFailed)
	assert.Contains(t, err.Error(), "exit code 3")
	assert.Contains(t, err.Error(), "provider unreachable")
	assert.Len(t, rec.byType(EventError), 1)

	assert.Equal(t, []string{"delete ws1 --log-output=json --force --debug"}, readArgs(t, argsFile))
}

func TestStopAndVersion(t *testing.T) {
	c, _ := newFakeClient(t, nil)

	status, err := c.Stop(context.Background(), "ws1", SinkFunc(func(Event) {}))
	require.NoError(t, err)
	assert.Equal(t, workspace.StatusRunning, status)

	v, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v0.6.15", v)
}

func TestEnvironmentMarksUI(t *testing.T) {
	c := New(Config{HTTPProxy: "http://proxy:3128", NoProxy: "localhost", Env: map[string]string{"B": "2", "A": "1"}}, nil)
	env := c.environ()

	assert.Contains(t, env, "DEVPOD_UI=true")
	assert.Contains(t, env, "HTTP_PROXY=http://proxy:3128")
	assert.Contains(t, env, "NO_PROXY=localhost")
	assert.Less(t, indexOf(env, "A=1"), indexOf(env, "B=2"))
	assert.Equal(t, DefaultBinary, c.Binary())
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

func TestMissingBinary(t *testing.T) {
	c := New(Config{Binary: filepath.Join(t.TempDir(), "nope")}, log.Discard())
	_, err := c.ListWorkspaces(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCommandFailed)
}
