// Package agent assembles the daemon: sysfs access, load sampling, the
// hotplug controller, the display watcher and the telemetry API
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"hotplugd/internal/config"
	"hotplugd/internal/display"
	"hotplugd/internal/hotplug"
	"hotplugd/internal/load"
	"hotplugd/internal/logging"
	"hotplugd/internal/statefile"
	"hotplugd/internal/sysfs"
	"hotplugd/internal/telemetry"
)

// Options configures an Agent
type Options struct {
	Config config.Config
	// Reload re-reads configuration on SIGHUP. Nil disables reloading.
	Reload func() (config.Config, error)
	Logger *logging.Logger
}

// Agent represents the background service
type Agent struct {
	cfg       config.Config
	reload    func() (config.Config, error)
	logger    *logging.Logger
	startTime time.Time

	cpu     *sysfs.CPU
	sampler hotplug.LoadSampler
	poller  *load.ProcStatSampler
	ctrl    *hotplug.Controller
	state   *statefile.Manager
	watcher *display.Watcher
	server  *telemetry.Server
}

// New builds every component from configuration. Persisted runtime knobs
// from the state directory override the configured tunables.
func New(opts Options) (*Agent, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLogger(logging.LevelInfo)
	}
	cfg := opts.Config

	cpu, err := sysfs.Open(cfg.Sysfs.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to open cpu sysfs: %w", err)
	}

	a := &Agent{
		cfg:       cfg,
		reload:    opts.Reload,
		logger:    logger,
		startTime: time.Now(),
		cpu:       cpu,
		state:     statefile.NewManager(cfg.StateDir, logger),
	}

	if err := a.buildSampler(); err != nil {
		return nil, err
	}

	tun, err := cfg.Tunables(cpu.Possible())
	if err != nil {
		return nil, err
	}
	enabled := config.IsSet(cfg.Hotplug.Enabled, true)
	tun, enabled = a.restoreState(tun, enabled)

	ctrl, err := hotplug.New(hotplug.Options{
		Sampler:  a.sampler,
		Power:    cpu,
		Perf:     cpu,
		Ceiling:  cpu,
		Logger:   logger,
		Tunables: &tun,
		Enabled:  enabled,
		OnChange: a.persist,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create hotplug controller: %w", err)
	}
	a.ctrl = ctrl

	a.buildWatcher()

	if config.IsSet(cfg.Telemetry.Enabled, true) {
		a.server = telemetry.NewServer(cfg.Telemetry.Listen, ctrl, logger)
	}

	return a, nil
}

func (a *Agent) buildSampler() error {
	switch a.cfg.Load.Source {
	case config.LoadSourceLoadAvg:
		a.sampler = load.NewLoadAvgSampler()
	default:
		poller, err := load.NewProcStatSampler(a.cfg.Load.ProcMount, a.cfg.Load.PollInterval, a.logger)
		if err != nil {
			return err
		}
		a.poller = poller
		a.sampler = poller
	}
	return nil
}

func (a *Agent) buildWatcher() {
	if !config.IsSet(a.cfg.Display.Enabled, true) {
		return
	}
	path := a.cfg.Display.BacklightPath
	if path == "" {
		detected, err := display.Detect(display.DefaultBacklightRoot)
		if err != nil {
			a.logger.Warn("agent.display.unavailable", "No backlight found, display events only via API", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
		path = detected
	}
	a.watcher = display.NewWatcher(path, a.cfg.Display.PollInterval, a.ctrl, a.logger)
}

// restoreState overlays knobs saved by a previous run. A state file that no
// longer validates against this device is ignored.
func (a *Agent) restoreState(tun hotplug.Tunables, enabled bool) (hotplug.Tunables, bool) {
	saved, err := a.state.Load()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			a.logger.Warn("agent.state.load_failed", "Failed to load saved tunables", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return tun, enabled
	}

	next := tun.Clone()
	for name, value := range saved.Knobs {
		if err := next.SetKnob(name, value); err != nil {
			a.logger.Warn("agent.state.knob_skipped", "Skipping saved knob", map[string]interface{}{
				"knob":  name,
				"error": err.Error(),
			})
		}
	}
	if err := next.Validate(a.cpu.Possible()); err != nil {
		a.logger.Warn("agent.state.rejected", "Saved tunables do not fit this device", map[string]interface{}{
			"path":  a.state.Path(),
			"error": err.Error(),
		})
		return tun, enabled
	}

	a.logger.Info("agent.state.restored", "Restored saved tunables", map[string]interface{}{
		"path":     a.state.Path(),
		"enabled":  saved.Enabled,
		"saved_at": saved.SavedAt,
	})
	return next, saved.Enabled
}

func (a *Agent) persist(tun hotplug.Tunables, enabled bool) {
	err := a.state.Save(statefile.State{Enabled: enabled, Knobs: tun.Knobs()})
	if err != nil {
		a.logger.Warn("agent.state.save_failed", "Failed to save tunables", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// Controller exposes the hotplug controller
func (a *Agent) Controller() *hotplug.Controller {
	return a.ctrl
}

// Run starts every component and blocks until ctx is cancelled, SIGINT or
// SIGTERM arrives, or a component fails. SIGHUP reloads configuration.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.logger.Info("agent.started", "Agent service started", map[string]interface{}{
		"pid":       os.Getpid(),
		"possible":  a.cpu.Possible(),
		"sysfs":     a.cpu.Root(),
		"source":    a.cfg.Load.Source,
		"display":   a.watcher != nil,
		"telemetry": a.server != nil,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.ctrl.Run(ctx) })
	if a.poller != nil {
		g.Go(func() error { return a.poller.Run(ctx) })
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(ctx) })
	}
	if a.server != nil {
		g.Go(func() error { return a.server.Serve(ctx) })
	}
	g.Go(func() error {
		a.handleSignals(ctx, cancel)
		return nil
	})

	err := g.Wait()
	a.logger.Info("agent.stopped", "Agent service stopped", map[string]interface{}{
		"uptime_seconds": time.Since(a.startTime).Seconds(),
	})
	return err
}

func (a *Agent) handleSignals(ctx context.Context, cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigChan:
			a.logger.Info("agent.signal_received", "Received signal", map[string]interface{}{
				"signal": sig.String(),
			})
			switch sig {
			case syscall.SIGHUP:
				if err := a.Reload(); err != nil {
					a.logger.Error("agent.reload_failed", "Failed to reload configuration", map[string]interface{}{
						"error": err.Error(),
					})
				}
			case syscall.SIGTERM, syscall.SIGINT:
				a.logger.Info("agent.shutdown", "Initiating graceful shutdown", nil)
				cancel()
				return
			}
		}
	}
}

// Reload re-reads configuration and applies the log level, tunables and
// enabled flag. Component wiring (sysfs root, load source, listen address)
// needs a restart.
func (a *Agent) Reload() error {
	if a.reload == nil {
		return errors.New("configuration reload not available")
	}
	cfg, err := a.reload()
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}

	tun, err := cfg.Tunables(a.cpu.Possible())
	if err != nil {
		return err
	}
	if err := a.ctrl.UpdateTunables(func(t *hotplug.Tunables) error {
		*t = tun
		return nil
	}); err != nil {
		return err
	}

	enabled := config.IsSet(cfg.Hotplug.Enabled, true)
	if err := a.ctrl.SetEnabled(enabled); err != nil && !errors.Is(err, hotplug.ErrAlreadyInState) {
		return err
	}

	a.logger.SetLevel(level)
	a.cfg = cfg
	a.logger.Info("agent.reloaded", "Configuration reloaded", map[string]interface{}{
		"level":   cfg.Logging.Level,
		"enabled": enabled,
	})
	return nil
}

// HealthCheck verifies the cpu tree is still readable
func (a *Agent) HealthCheck() error {
	if _, err := a.cpu.IsOnline(0); err != nil {
		return fmt.Errorf("cpu sysfs unreadable: %w", err)
	}
	return nil
}
