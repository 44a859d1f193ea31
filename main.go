package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/srtrelay/cmd"
	"github.com/smazurov/srtrelay/internal/api"
	"github.com/smazurov/srtrelay/internal/config"
	"github.com/smazurov/srtrelay/internal/events"
	"github.com/smazurov/srtrelay/internal/logging"
	"github.com/smazurov/srtrelay/internal/metrics"
	"github.com/smazurov/srtrelay/internal/metrics/exporters"
	"github.com/smazurov/srtrelay/internal/nats"
	"github.com/smazurov/srtrelay/internal/preview"
	"github.com/smazurov/srtrelay/internal/relay"
	"github.com/smazurov/srtrelay/internal/supervisor"
	"github.com/smazurov/srtrelay/internal/systemd"
	"github.com/smazurov/srtrelay/internal/version"
)

// shutdownTimeout bounds the teardown after SIGINT/SIGTERM.
const shutdownTimeout = 5 * time.Second

func main() {
	var cli humacli.CLI
	var loaded *config.Options

	cli = humacli.New(func(hooks humacli.Hooks, opts *config.Options) {
		if err := config.LoadConfig(opts, cli.Root()); err != nil {
			slog.Error("Failed to load config", "error", err)
			os.Exit(1)
		}
		loaded = opts

		ctx, cancel := context.WithCancelCause(context.Background())
		done := make(chan struct{})

		hooks.OnStart(func() {
			defer close(done)
			if err := run(ctx, opts); err != nil {
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			cancel(errors.New("signal received"))
			select {
			case <-done:
			case <-time.After(shutdownTimeout):
				slog.Warn("Shutdown timed out", "timeout", shutdownTimeout)
			}
		})
	})

	options := func() *config.Options { return loaded }
	cli.Root().AddCommand(cmd.CreateCheckConfigCmd(options))
	cli.Root().AddCommand(cmd.CreateStatsCmd(options))
	cli.Root().Version = version.String()

	cli.Run()
}

// run validates opts, assembles the relay and serves it until ctx is done or
// the relay stops. Fatal errors have been logged when it returns non-nil.
func run(ctx context.Context, opts *config.Options) error {
	settings, err := config.Validate(opts)
	if err != nil {
		var cerr *config.Error
		if errors.As(err, &cerr) {
			slog.Error("Invalid configuration", "key", cerr.Key, "error", err)
		} else {
			slog.Error("Invalid configuration", "error", err)
		}
		return err
	}

	logging.Initialize(settings.Logging)
	logger := logging.GetLogger("main")
	logger.Info("Starting srtrelay", "version", version.String())

	bus := events.New()
	unsubscribeMetrics := metrics.Subscribe(bus)
	defer unsubscribeMetrics()

	var seq atomic.Uint64
	logging.SetLogCallback(func(entry logging.LogEntry) {
		bus.Publish(events.LogEntryEvent{
			Seq:        seq.Add(1),
			Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
			Level:      entry.Level,
			Module:     entry.Module,
			Message:    entry.Message,
			Attributes: entry.Attributes,
		})
	})
	defer logging.SetLogCallback(nil)

	stopNATS := startNATS(settings.Telemetry, bus)
	defer stopNATS()

	notifier := systemd.NewNotifier(logging.GetLogger("systemd"))
	go notifier.RunWatchdog(ctx)

	r, err := relay.Build(settings, relay.Deps{Events: bus, Notifier: notifier})
	if err != nil {
		var gerr *relay.GraphAssemblyError
		if errors.As(err, &gerr) {
			logger.Error("Failed to assemble graph", "element", gerr.Element, "error", gerr.Cause)
		} else {
			logger.Error("Failed to assemble graph", "error", err)
		}
		return err
	}

	previews := preview.NewManager(r, preview.Config{}, logging.GetLogger("preview"))
	defer previews.Stop()

	apiOpts := &api.Options{
		AuthUsername: settings.Telemetry.AuthUsername,
		AuthPassword: settings.Telemetry.AuthPassword,
		Relay:        r,
		Preview:      previews,
		EventBus:     bus,
	}
	if settings.Telemetry.PrometheusEnabled {
		apiOpts.PrometheusHandler = exporters.HTTPHandler()
	}
	if mgr, err := systemd.NewManager(ctx, settings.Telemetry.SystemdUnit); err != nil {
		logger.Debug("systemd D-Bus unavailable, /api/service disabled", "error", err)
	} else {
		defer mgr.Close()
		apiOpts.Service = mgr
	}

	server := api.NewServer(apiOpts)
	go func() {
		if err := server.Start(settings.WebAddress()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Telemetry server failed", "addr", settings.WebAddress(), "error", err)
		}
	}()
	defer func() {
		if err := server.Stop(); err != nil {
			logger.Error("Error stopping telemetry server", "error", err)
		}
	}()

	if path := opts.Config; path != "" {
		watcher := config.NewConfigWatcher(path, config.LoadLoggingConfig, logger)
		watcher.OnReload(func(cfg logging.Config) {
			logging.SetLevels(cfg)
			logger.Info("Log levels reloaded", "level", cfg.Level)
		})
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("Config watcher not started", "path", path, "error", err)
		} else {
			defer func() { _ = watcher.Stop() }()
		}
	}

	if err := r.Run(ctx); err != nil {
		var perr *supervisor.PipelineError
		if errors.As(err, &perr) {
			logger.Error("Relay stopped", "element", perr.Element, "error", perr.Cause)
		} else {
			logger.Error("Relay stopped", "error", err)
		}
		return err
	}
	logger.Info("Relay stopped", "state", r.Supervisor.State())
	return nil
}

// startNATS runs the optional embedded broker and event publisher. NATS is
// best-effort: failures are logged and the relay keeps running.
func startNATS(t config.TelemetrySettings, bus *events.Bus) func() {
	logger := logging.GetLogger("telemetry")
	var stops []func()
	stop := func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}

	url := t.NatsURL
	if t.NatsListen != "" {
		opts, err := nats.ParseListen(t.NatsListen)
		if err != nil {
			logger.Warn("Invalid NATS listen address", "addr", t.NatsListen, "error", err)
			return stop
		}
		opts.Logger = logger
		srv := nats.NewServer(opts)
		if err := srv.Start(); err != nil {
			logger.Warn("Embedded NATS server not started", "error", err)
			return stop
		}
		stops = append(stops, srv.Stop)
		if url == "" {
			url = srv.ClientURL()
		}
	}
	if url == "" {
		return stop
	}

	pub := nats.NewPublisher(url, t.RelayName, logger)
	if err := pub.Connect(); err != nil {
		return stop
	}
	stops = append(stops, pub.Close, pub.Attach(bus))
	return stop
}
