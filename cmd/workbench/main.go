package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	units "github.com/docker/go-units"

	"github.com/mattjoyce/workbench/internal/action"
	"github.com/mattjoyce/workbench/internal/actionlog"
	"github.com/mattjoyce/workbench/internal/api"
	"github.com/mattjoyce/workbench/internal/auth"
	"github.com/mattjoyce/workbench/internal/config"
	"github.com/mattjoyce/workbench/internal/control"
	"github.com/mattjoyce/workbench/internal/devpod"
	"github.com/mattjoyce/workbench/internal/doctor"
	"github.com/mattjoyce/workbench/internal/events"
	"github.com/mattjoyce/workbench/internal/lock"
	"github.com/mattjoyce/workbench/internal/log"
	"github.com/mattjoyce/workbench/internal/reconciler"
	"github.com/mattjoyce/workbench/internal/state"
	"github.com/mattjoyce/workbench/internal/store"
	"github.com/mattjoyce/workbench/internal/tui/watch"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// cleanupInterval is how often stale action logs are swept.
const cleanupInterval = time.Hour

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage(os.Stderr)
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "serve":
		return runServe(args)
	case "watch":
		return runWatch(args)
	case "history":
		return runHistory(args)
	case "doctor":
		return runDoctor(args)
	case "config":
		return runConfigNoun(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: workbench <command> [flags]

Commands:
  serve      Run the reconciler and the HTTP API
  watch      Live terminal view of a running server
  history    Show finished actions
  doctor     Validate configuration and environment
  config     Configuration tools (lock)
  version    Print version information

Run 'workbench <command> --help' for command flags.
`)
}

// loadConfig resolves the config path and loads it. A missing config falls
// back to the defaults.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		switch {
		case errors.Is(err, config.ErrNoConfig):
			return config.Load("")
		case err != nil:
			return nil, err
		}
		configPath = discovered
	}
	return config.Load(configPath)
}

func devpodConfig(cfg config.CLIConfig) devpod.Config {
	return devpod.Config{
		Binary:           cfg.Binary,
		Debug:            cfg.Debug,
		SkipPro:          cfg.SkipPro,
		AdditionalFlags:  cfg.AdditionalFlags,
		DotfilesURL:      cfg.DotfilesURL,
		GitSSHSigningKey: cfg.GitSSHSigningKey,
		Env:              cfg.Env,
		HTTPProxy:        cfg.HTTPProxy,
		HTTPSProxy:       cfg.HTTPSProxy,
		NoProxy:          cfg.NoProxy,
	}
}

func apiConfig(cfg config.APIConfig) api.Config {
	tokens := make([]auth.TokenConfig, 0, len(cfg.Auth.Tokens))
	for _, t := range cfg.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{
			Token:  t.Token,
			Scopes: t.Scopes,
		})
	}
	return api.Config{
		Listen: cfg.Listen,
		APIKey: cfg.Auth.APIKey,
		Tokens: tokens,
	}
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return flagExitCode(err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("workbench starting", "version", version, "config", cfg.SourcePath)

	pidLock, err := lock.AcquirePIDLock(cfg.Service.LockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", cfg.Service.LockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kv, closer, err := state.Open(ctx, cfg.State.Backend, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open state", "backend", cfg.State.Backend, "path", cfg.State.Path, "error", err)
		return 1
	}
	defer closer.Close()
	logger.Info("state opened", "backend", cfg.State.Backend, "path", cfg.State.Path)

	var logs actionlog.Manager
	if cfg.ActionLogs.Dir != "" {
		fsm, err := actionlog.NewFSManager(cfg.ActionLogs.Dir)
		if err != nil {
			logger.Error("failed to initialize action logs", "dir", cfg.ActionLogs.Dir, "error", err)
			return 1
		}
		logs = fsm
	}

	ledger := action.NewLedger(kv,
		action.WithCapacity(cfg.State.HistoryCap),
		action.WithLogger(log.Get()),
		action.WithEvictHook(evictLogs(logs)),
	)
	hub := events.NewHub(256)
	st := store.New(ledger, hub, log.Get())
	defer st.Close()

	cli := devpod.New(devpodConfig(cfg.CLI), log.Get())
	defer cli.Close()
	if v, err := cli.Version(ctx); err != nil {
		logger.Warn("devpod CLI not usable yet", "binary", cli.Binary(), "error", err)
	} else {
		logger.Info("devpod CLI found", "binary", cli.Binary(), "version", v)
	}

	ctl := control.New(st, cli, logs, log.Get())

	rec := reconciler.New(cli, st, reconciler.Config{
		ListInterval:   cfg.Poll.ListInterval,
		StatusInterval: cfg.Poll.StatusInterval,
	}, log.Get())
	rec.Start(ctx)
	defer rec.Stop()

	if logs != nil && cfg.ActionLogs.Retention > 0 {
		go sweepLogs(ctx, logs, cfg.ActionLogs.Retention, log.WithComponent("actionlog"))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)

	if cfg.API.Enabled {
		var reader api.LogReader
		if logs != nil {
			reader = logs
		}
		apiServer := api.New(apiConfig(cfg.API), st, ctl, reader, hub, log.Get())
		go func() {
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("workbench running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("workbench stopped")
	return 0
}

// evictLogs deletes the log files of records dropped from the history.
func evictLogs(logs actionlog.Manager) func([]action.Record) {
	return func(evicted []action.Record) {
		if logs == nil {
			return
		}
		ids := make([]string, 0, len(evicted))
		for _, r := range evicted {
			ids = append(ids, r.ID)
		}
		if err := logs.Remove(ids...); err != nil {
			log.WithComponent("actionlog").Warn("failed to remove evicted action logs", "count", len(ids), "error", err)
		}
	}
}

// sweepLogs removes action logs older than retention until ctx is done.
func sweepLogs(ctx context.Context, logs actionlog.Manager, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		report, err := logs.Cleanup(ctx, retention)
		if err != nil {
			logger.Warn("action log cleanup failed", "error", err)
		} else if report.DeletedFiles > 0 {
			logger.Info("action log cleanup", "deleted_files", report.DeletedFiles, "retention", retention.String())
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Server API URL")
	apiKey := fs.String("api-key", os.Getenv("WORKBENCH_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		return flagExitCode(err)
	}

	m := watch.New(*apiURL, *apiKey)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func runHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	workspaceID := fs.String("workspace", "", "Only show actions for this workspace")
	limit := fs.Int("limit", 0, "Show at most this many records (newest first)")
	if err := fs.Parse(args); err != nil {
		return flagExitCode(err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.SetupWriter(os.Stderr, cfg.Service.LogLevel, "text")

	kv, closer, err := state.Open(context.Background(), cfg.State.Backend, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open state: %v\n", err)
		return 1
	}
	defer closer.Close()

	ledger := action.NewLedger(kv, action.WithCapacity(cfg.State.HistoryCap), action.WithLogger(log.Get()))
	records := selectHistory(ledger.History(), *workspaceID, *limit)

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(records); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render history JSON: %v\n", err)
			return 1
		}
		return 0
	}

	if len(records) == 0 {
		fmt.Println("No actions found.")
		return 0
	}
	writeHistory(os.Stdout, records, time.Now())
	return 0
}

// selectHistory filters the oldest-first history and returns it newest first.
func selectHistory(history []action.Record, workspaceID string, limit int) []action.Record {
	out := make([]action.Record, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		r := history[i]
		if workspaceID != "" && r.WorkspaceID != workspaceID {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func writeHistory(out io.Writer, records []action.Record, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tACTION\tWORKSPACE\tSTATUS\tCREATED\tDURATION\tERROR")
	for _, r := range records {
		took := "-"
		if r.FinishedAt != nil {
			took = units.HumanDuration(r.FinishedAt.Sub(r.CreatedAt))
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			r.Name,
			r.WorkspaceID,
			r.Status,
			units.HumanDuration(now.Sub(r.CreatedAt))+" ago",
			took,
			firstLine(r.Error),
		)
	}
	w.Flush() //nolint:errcheck
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func runDoctor(args []string) int {
	var configPath string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		return flagExitCode(err)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	if jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		fmt.Fprintln(os.Stderr, "Usage: workbench config lock [--config PATH]")
		if len(args) < 1 {
			return 1
		}
		return 0
	}

	switch args[0] {
	case "lock":
		return runConfigLock(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		return 1
	}
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return flagExitCode(err)
	}

	path := *configPath
	if path == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		path = discovered
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, "config.yaml")
	}

	manifest, err := config.Lock(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}
	fmt.Printf("Wrote %s\n", manifest)
	return 0
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

// flagExitCode maps a flag parse error to an exit code; -h is not a failure.
func flagExitCode(err error) int {
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	return 1
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		return flagExitCode(err)
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: workbench version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("workbench %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return strings.TrimSpace(setting.Value)
		}
	}
	return ""
}
