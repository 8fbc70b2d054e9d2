// Command earshot listens to an audio source, detects spoken utterances and
// hands each one to the configured sinks.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/earshot/internal/app"
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/pkg/audio"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (defaults when empty)")
	once := flag.Bool("once", false, "stop after the first utterance")
	watch := flag.Bool("watch", false, "reload the configuration file when it changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "earshot: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		}
		return 1
	}
	if *once {
		cfg.Run.MaxUtterances = 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("earshot starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	// Restore default signal handling once the first signal arrived so a
	// second Ctrl+C terminates immediately.
	context.AfterFunc(ctx, stop)

	// ── Config watcher ────────────────────────────────────────────────────────
	if *watch {
		if *configPath == "" {
			slog.Warn("-watch ignored without -config")
		} else {
			w, err := config.NewWatcher(*configPath)
			if err != nil {
				slog.Error("failed to start config watcher", "err", err)
				return 1
			}
			wctx, stopWatch := context.WithCancel(ctx)
			defer stopWatch()
			go w.Watch(wctx, func(old, cur *config.Config) {
				applyReload(&level, config.Diff(old, cur))
			})
		}
	}

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Registry and components ───────────────────────────────────────────────
	mux := http.NewServeMux()
	reg := config.NewRegistry()
	registerBuiltins(reg, mux)

	application, err := buildApp(cfg, reg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	// ── HTTP server (optional) ────────────────────────────────────────────────
	var srv *http.Server
	if cfg.Server.ListenAddr != "" {
		health.New(application.ReadinessChecks()...).Register(mux)
		mux.Handle("GET /metrics", promhttp.Handler())
		srv = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		defer close(done)
		return application.Run(gctx)
	})
	if srv != nil {
		g.Go(func() error {
			slog.Info("http server listening", "addr", srv.Addr, "tls", cfg.Server.TLS != nil)
			var err error
			if t := cfg.Server.TLS; t != nil {
				err = srv.ListenAndServeTLS(t.CertFile, t.KeyFile)
			} else {
				err = srv.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("http server: %w", err)
		})
		g.Go(func() error {
			// Stop serving once detection has finished or failed.
			select {
			case <-done:
			case <-gctx.Done():
			}
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	slog.Info("listening for utterances; press Ctrl+C to stop")
	runErr := g.Wait()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil {
		slog.Error("run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye", "utterances", application.Emitted())
	return 0
}

// loadConfig reads path, or returns validated defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, config.Validate(cfg)
	}
	return config.Load(path)
}

// buildApp creates the detector engine, source and sinks named in cfg and
// hands them to a new [app.App].
func buildApp(cfg *config.Config, reg *config.Registry) (*app.App, error) {
	engine, err := reg.CreateVAD(cfg.Detector)
	if err != nil {
		return nil, fmt.Errorf("create detector %q: %w", cfg.Detector.Engine, err)
	}

	source, err := reg.CreateSource(cfg.Source, cfg.Detector)
	if err != nil {
		return nil, fmt.Errorf("create source %q: %w", cfg.Source.Name, err)
	}
	slog.Info("source opened", "name", cfg.Source.Name, "path", cfg.Source.Path, "device", cfg.Source.Device)

	created, err := reg.CreateSinks(cfg.Sinks, cfg.Detector)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("create sinks: %w", err), source.Close())
	}
	sinks := make([]app.Sink, len(created))
	for i, s := range created {
		sc := cfg.Sinks[i]
		sinks[i] = app.Sink{Name: sc.Name, Sink: guardSink(s, sc)}
		slog.Info("sink created", "name", sc.Name, "path", sc.Path, "breaker", sc.Breaker != nil)
	}

	return app.New(cfg, engine, source, sinks)
}

// guardSink puts a circuit breaker in front of s when sc configures one.
func guardSink(s audio.Sink, sc config.SinkConfig) audio.Sink {
	if sc.Breaker == nil {
		return s
	}
	return resilience.GuardSink(s, resilience.CircuitBreakerConfig{
		Name:         "sink/" + sc.Name,
		MaxFailures:  sc.Breaker.MaxFailures,
		ResetTimeout: sc.Breaker.ResetTimeout,
	})
}

// applyReload applies the parts of a config change that take effect without
// a restart and reports the rest.
func applyReload(level *slog.LevelVar, d config.ConfigDiff) {
	if d.LogLevelChanged {
		level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes take effect after restart", "sections", d.RestartRequired)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	d := cfg.Detector
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        earshot — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Detector", d.Engine)
	printRow("Format", fmt.Sprintf("%d Hz / %d", d.SampleRate, d.ChunkSize))
	printRow("Pause/phrase", fmt.Sprintf("%s / %s", d.Pause, d.Phrase))
	printRow("Voice band", fmt.Sprintf("%g-%g Hz", d.VoiceBand.LowHz, d.VoiceBand.HighHz))
	printRow("Source", cfg.Source.Name)
	for _, s := range cfg.Sinks {
		printRow("Sink", s.Name+" "+s.Path)
	}
	if cfg.Run.MaxUtterances > 0 {
		printRow("Stop after", fmt.Sprintf("%d utterance(s)", cfg.Run.MaxUtterances))
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}
