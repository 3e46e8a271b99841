package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"hotplugd/internal/agent"
	"hotplugd/internal/config"
	"hotplugd/internal/diag"
	"hotplugd/internal/fsutil"
	"hotplugd/internal/logging"
	"hotplugd/internal/statefile"
	"hotplugd/internal/telemetry"
	"hotplugd/internal/tui"
)

const (
	version = "0.1.0-dev"
	addrEnv = "HOTPLUGD_ADDR"
)

func main() {
	if len(os.Args) <= 1 {
		printUsage()
		os.Exit(1)
	}

	command := strings.ToLower(os.Args[1])
	if handler, ok := commandHandlers()[command]; ok {
		handler()
		return
	}

	fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
	printUsage()
	os.Exit(1)
}

func commandHandlers() map[string]func() {
	return map[string]func(){
		"run":      runDaemon,
		"status":   runStatus,
		"counters": runCounters,
		"enable":   func() { runSetEnabled(true) },
		"disable":  func() { runSetEnabled(false) },
		"set":      runSet,
		"get":      runGet,
		"display":  runDisplay,
		"top":      runTop,
		"config":   runConfig,
		"diag":     runDiag,
		"version":  runVersion,
		"help":     printUsage,
		"--help":   printUsage,
		"-h":       printUsage,
	}
}

func runVersion() {
	fmt.Printf("hotplugd version %s\n", version)
}

// flagValue returns the value following name in args, if present
func flagValue(args []string, name string) (string, bool) {
	for i, arg := range args {
		if arg == name && i+1 < len(args) {
			return args[i+1], true
		}
		if value, ok := strings.CutPrefix(arg, name+"="); ok {
			return value, true
		}
	}
	return "", false
}

// positional strips --flag value pairs from args
func positional(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if strings.HasPrefix(arg, "--") {
			if !strings.Contains(arg, "=") {
				i++
			}
			continue
		}
		out = append(out, arg)
	}
	return out
}

func loadConfig(args []string) (config.Config, string, error) {
	if path, ok := flagValue(args, "--config"); ok {
		cfg, err := config.LoadFrom(path)
		return cfg, path, err
	}
	cfg, err := config.Load()
	return cfg, "", err
}

func newLogger(cfg config.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	format := logging.Format(cfg.Logging.Format)
	if cfg.Logging.File != "" {
		return logging.NewFileLogger(level, format, cfg.Logging.File)
	}
	return logging.NewWriterLogger(level, format, os.Stderr), nil
}

func runDaemon() {
	args := os.Args[2:]
	cfg, path, err := loadConfig(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg.StateDir = fsutil.GetStateDir(cfg.StateDir)

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Close() }()

	logger.Info("app.started", "hotplugd starting", map[string]interface{}{
		"version": version,
		"config":  path,
	})

	reload := func() (config.Config, error) {
		next, _, err := loadConfig(args)
		return next, err
	}

	a, err := agent.New(agent.Options{Config: cfg, Reload: reload, Logger: logger})
	if err != nil {
		logger.Error("app.error", "Failed to start", map[string]interface{}{
			"error": err.Error(),
		})
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := a.Run(context.Background()); err != nil {
		logger.Error("app.error", "Agent exited with error", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}
}

// newClient resolves the daemon address: --addr, then $HOTPLUGD_ADDR, then
// the configured listen address
func newClient() *telemetry.Client {
	args := os.Args[2:]
	if addr, ok := flagValue(args, "--addr"); ok {
		return telemetry.NewClient(addr)
	}
	if addr := os.Getenv(addrEnv); addr != "" {
		return telemetry.NewClient(addr)
	}
	if cfg, _, err := loadConfig(args); err == nil {
		return telemetry.NewClient(cfg.Telemetry.Listen)
	}
	return telemetry.NewClient("")
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func exitOnError(err error) {
	if err == nil {
		return
	}
	var apiErr *telemetry.APIError
	if errors.As(err, &apiErr) {
		fmt.Fprintf(os.Stderr, "Error: %s\n", apiErr.Message)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(1)
}

func runStatus() {
	ctx, cancel := requestContext()
	defer cancel()

	snap, err := newClient().Status(ctx)
	exitOnError(err)

	if contains(os.Args[2:], "--json") {
		printJSON(snap)
		return
	}

	fmt.Println("=== hotplugd status ===")
	fmt.Printf("State:        %s\n", snap.State)
	fmt.Printf("Enabled:      %t\n", snap.Enabled)
	fmt.Printf("Load:         %d.%d runnable\n", snap.Load/10, snap.Load%10)
	fmt.Printf("Online:       %d/%d\n", snap.Online, snap.Possible)
	fmt.Printf("Last verdict: %s\n", snap.LastVerdict)
	if !snap.PausedUntil.IsZero() {
		fmt.Printf("Paused until: %s\n", snap.PausedUntil.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Println("CPU  ONLINE  HOTPLUGS  SLEEP")
	for _, core := range snap.Cores {
		sleep := "-"
		if core.Sleeping {
			sleep = "capped"
		}
		fmt.Printf("%-4d %-7t %-9d %s\n", core.CPU, core.ExpectedOnline, core.HotplugCount, sleep)
	}
}

func runCounters() {
	ctx, cancel := requestContext()
	defer cancel()

	counters, err := newClient().Counters(ctx)
	exitOnError(err)

	cpus := make([]int, 0, len(counters))
	for cpu := range counters {
		cpus = append(cpus, cpu)
	}
	sort.Ints(cpus)
	for _, cpu := range cpus {
		fmt.Printf("cpu%d %d\n", cpu, counters[cpu])
	}
}

func runSetEnabled(enabled bool) {
	ctx, cancel := requestContext()
	defer cancel()

	exitOnError(newClient().SetEnabled(ctx, enabled))
	if enabled {
		fmt.Println("✓ Controller enabled")
	} else {
		fmt.Println("✓ Controller disabled")
	}
}

func runSet() {
	args := positional(os.Args[2:])
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "Usage: hotplugd set <knob> <value>")
		os.Exit(1)
	}

	ctx, cancel := requestContext()
	defer cancel()

	value, err := newClient().SetKnob(ctx, args[0], args[1])
	exitOnError(err)
	fmt.Printf("%s = %s\n", args[0], value)
}

func runGet() {
	args := positional(os.Args[2:])
	ctx, cancel := requestContext()
	defer cancel()
	client := newClient()

	if len(args) == 0 {
		knobs, err := client.Knobs(ctx)
		exitOnError(err)
		names := make([]string, 0, len(knobs))
		for name := range knobs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("%s = %s\n", name, knobs[name])
		}
		return
	}

	value, err := client.Knob(ctx, args[0])
	exitOnError(err)
	fmt.Println(value)
}

func runDisplay() {
	args := positional(os.Args[2:])
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		fmt.Fprintln(os.Stderr, "Usage: hotplugd display <on|off>")
		os.Exit(1)
	}

	ctx, cancel := requestContext()
	defer cancel()

	exitOnError(newClient().Display(ctx, args[0] == "on"))
	fmt.Printf("✓ Display %s event sent\n", args[0])
}

func runTop() {
	logger := logging.NewLogger(logging.LevelError)
	refresh := tui.DefaultRefresh
	if value, ok := flagValue(os.Args[2:], "--interval"); ok {
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			fmt.Fprintf(os.Stderr, "Invalid --interval: %s\n", value)
			os.Exit(1)
		}
		refresh = d
	}

	stateDir := ""
	if home, err := os.UserHomeDir(); err == nil {
		stateDir = filepath.Join(home, ".hotplugd")
	}

	p := tea.NewProgram(tui.NewModel(newClient(), logger, stateDir, refresh), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
		os.Exit(1)
	}
}

func runConfig() {
	logger := logging.NewLogger(logging.LevelInfo)

	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "Usage: hotplugd config <subcommand>\n")
		fmt.Fprintf(os.Stderr, "Subcommands:\n")
		fmt.Fprintf(os.Stderr, "  test [path]  Test configuration file for validity\n")
		os.Exit(1)
	}

	subcommand := strings.ToLower(os.Args[2])
	switch subcommand {
	case "test":
		runConfigTest(logger)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config subcommand: %s\n", subcommand)
		fmt.Fprintf(os.Stderr, "Valid subcommands: test\n")
		os.Exit(1)
	}
}

// runConfigTest validates configuration file(s)
func runConfigTest(logger *logging.Logger) {
	var cfg config.Config
	var configErr error

	if len(os.Args) > 3 {
		path := os.Args[3]
		fmt.Printf("Testing configuration file: %s\n", path)
		cfg, configErr = config.LoadFrom(path)
	} else {
		fmt.Println("Testing configuration (system + user merge):")
		fmt.Printf("  System config: %s\n", config.SystemConfigPath())
		if userPath := config.UserConfigPath(); userPath != "" {
			fmt.Printf("  User config:   %s\n", userPath)
		}
		fmt.Println()
		cfg, configErr = config.Load()
	}

	if configErr != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation FAILED:\n")
		fmt.Fprintf(os.Stderr, "   %v\n", configErr)
		logger.Error("config.validation.error", "Configuration validation failed", map[string]interface{}{
			"error": configErr.Error(),
		})
		os.Exit(1)
	}

	fmt.Println("✓ Configuration is VALID")
	fmt.Println()
	fmt.Println("Configuration Summary:")
	fmt.Printf("  Enabled:              %t\n", config.IsSet(cfg.Hotplug.Enabled, true))
	fmt.Printf("  Delay:                %s\n", cfg.Hotplug.Delay)
	fmt.Printf("  CPUs (min/max):       %d/%s\n", cfg.Hotplug.MinCPUs, maxCPUsLabel(cfg.Hotplug.MaxCPUs))
	fmt.Printf("  Threshold overrides:  %d\n", len(cfg.Hotplug.Thresholds))
	fmt.Printf("  Load Source:          %s\n", cfg.Load.Source)
	fmt.Printf("  Sysfs Root:           %s\n", cfg.Sysfs.Root)
	fmt.Printf("  Display Watcher:      %t\n", config.IsSet(cfg.Display.Enabled, true))
	fmt.Printf("  Telemetry:            %s\n", telemetryLabel(cfg))
	fmt.Printf("  Log Level:            %s\n", cfg.Logging.Level)
	fmt.Printf("  State Dir:            %s\n", cfg.StateDir)

	logger.Info("config.validation.ok", "Configuration validation passed", map[string]interface{}{
		"source": cfg.Load.Source,
	})
}

func maxCPUsLabel(n int) string {
	if n == 0 {
		return "all"
	}
	return strconv.Itoa(n)
}

func telemetryLabel(cfg config.Config) string {
	if !config.IsSet(cfg.Telemetry.Enabled, true) {
		return "disabled"
	}
	return cfg.Telemetry.Listen
}

func runDiag() {
	args := os.Args[2:]
	logger := logging.NewLogger(logging.LevelInfo)

	cfg, _, err := loadConfig(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load configuration: %v\n", err)
		cfg = config.DefaultConfig()
	}

	diagCfg := diag.NewConfig(version)
	if output, ok := flagValue(args, "--output"); ok {
		diagCfg.OutputPath = output
	}
	diagCfg.IncludeLogs = !contains(args, "--no-logs")
	diagCfg.IncludeConfig = !contains(args, "--no-config")
	diagCfg.LogFile = cfg.Logging.File
	diagCfg.ConfigPaths = []string{config.SystemConfigPath(), config.UserConfigPath()}
	if path, ok := flagValue(args, "--config"); ok {
		diagCfg.ConfigPaths = append(diagCfg.ConfigPaths, path)
	}
	diagCfg.StateFile = statefile.NewManager(fsutil.GetStateDir(cfg.StateDir), logger).Path()
	diagCfg.SysfsRoot = cfg.Sysfs.Root
	diagCfg.Daemon = newClient()

	out, err := diag.NewPackager(diagCfg, logger).CreatePackage(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Diagnostic package written to %s\n", out)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func contains(args []string, item string) bool {
	for _, a := range args {
		if a == item {
			return true
		}
	}
	return false
}

func printUsage() {
	fmt.Printf(`hotplugd - dynamic CPU core hotplug daemon (version %s)

Usage:
  hotplugd run [--config path]         Run the daemon (foreground)
  hotplugd status [--json]             Show controller state and per-core table
  hotplugd counters                    Show per-CPU hotplug counters
  hotplugd enable                      Enable the control loop
  hotplugd disable                     Disable the control loop (cores handed back online)
  hotplugd set <knob> <value>          Write a tunable
  hotplugd get [knob]                  Read one tunable, or all of them
  hotplugd display <on|off>            Send a screen on/off event
  hotplugd top [--interval 1s]         Live view of the running daemon
  hotplugd config test [path]          Test configuration file for validity
  hotplugd diag [--output path] [--no-logs] [--no-config]  Create diagnostic package (ZIP)
  hotplugd version                     Print version information
  hotplugd help                        Show this help message

Client commands accept --addr host:port (or $%s); default is the
configured telemetry.listen address.

Tunables:
  delay, start_delay, pause            milliseconds
  min_cpus, max_cpus                   core bounds
  load_low.N, load_high.N              load thresholds in tenths of a task for N online cores
  time_low.N, time_high.N              dwell times in milliseconds
  suspend_single_core, sleep_profile   0 or 1
  scroff_freq, idle_freq               kHz
  enabled                              0 or 1
`, version, addrEnv)
}
