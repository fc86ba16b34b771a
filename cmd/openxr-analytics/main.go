// Command openxr-analytics reports one XR runtime initialization outcome
// described by a runtime snapshot file, and optionally serves the
// emitter's health until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	openxr "github.com/AStrangerGravity/com.unity.xr.openxr"
	"github.com/AStrangerGravity/com.unity.xr.openxr/core"
	"github.com/AStrangerGravity/com.unity.xr.openxr/subsystem"
	"github.com/AStrangerGravity/com.unity.xr.openxr/telemetry"
)

func main() {
	configPath := flag.String("config", "", "YAML or JSON configuration file")
	profile := flag.String("profile", "", "deployment profile: development, staging or production")
	snapshotPath := flag.String("snapshot", "", "runtime snapshot YAML file")
	success := flag.Bool("success", true, "initialization outcome to report when no features are driven")
	meshing := flag.Bool("meshing", false, "drive the meshing sample feature and report its outcome")
	serve := flag.Bool("serve", false, "serve the health endpoint until interrupted")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("openxr-analytics %s (commit %s, built %s)\n", openxr.Version, openxr.GitCommit, openxr.BuildDate)
		return
	}

	if err := run(*configPath, *profile, *snapshotPath, *success, *meshing, *serve); err != nil {
		log.Printf("openxr-analytics: %v", err)
		os.Exit(exitCode(err))
	}
}

// Exit codes follow sysexits(3).
const (
	exitFailure  = 1
	exitTempFail = 75
	exitConfig   = 78
)

// exitCode maps a run error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case core.IsConfigurationError(err):
		return exitConfig
	case core.IsRetryable(err):
		return exitTempFail
	default:
		return exitFailure
	}
}

func run(configPath, profile, snapshotPath string, success, meshing, serve bool) error {
	var opts []core.Option
	if profile != "" {
		opts = append(opts, core.WithProfile(core.Profile(profile)))
	}
	if configPath != "" {
		opts = append(opts, core.WithConfigFile(configPath))
	}
	if serve {
		opts = append(opts, func(c *core.Config) error {
			c.Health.Enabled = true
			return nil
		})
	}
	cfg, err := core.NewConfig(opts...)
	if err != nil {
		return err
	}

	logger := telemetry.NewTelemetryLoggerFromConfig(cfg.Name, cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("Telemetry shutdown error", map[string]interface{}{"error": err.Error()})
		}
	}()

	var base telemetry.Runtime = &telemetry.RuntimeSnapshot{}
	if snapshotPath != "" {
		snapshot, err := telemetry.LoadRuntimeSnapshot(snapshotPath)
		if err != nil {
			return err
		}
		base = snapshot
	}

	var manager *subsystem.Manager
	rt := base
	if meshing {
		host := subsystem.NewHost(logger)
		if err := host.RegisterDescriptor(subsystem.TeapotMeshDescriptor()); err != nil {
			return err
		}
		manager = subsystem.NewManager(host, logger)
		if err := manager.Register(subsystem.MeshingTeapotFeature{}, true); err != nil {
			return err
		}
		rt = subsystem.NewRuntimeInfo(base, manager)
	}

	emitter, sink, err := telemetry.NewEmitterFromConfig(ctx, cfg, rt, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = emitter.Close()
		if err := sink.Close(); err != nil {
			logger.Warn("Sink close error", map[string]interface{}{"error": err.Error()})
		}
	}()

	if manager != nil {
		manager.SetReporter(emitter)
		if err := manager.Start(ctx); err != nil {
			logger.Warn("Feature startup reported failures", map[string]interface{}{"error": err.Error()})
		}
		defer func() {
			if err := manager.Stop(context.Background()); err != nil {
				logger.Warn("Feature shutdown error", map[string]interface{}{"error": err.Error()})
			}
		}()
	} else {
		emitter.SendInitializeEventContext(ctx, success)
	}

	health := emitter.Health()
	logger.Info("Initialization reported", map[string]interface{}{
		"mode":        health.Mode,
		"registered":  health.Registered,
		"sent":        health.EventsSent,
		"dropped":     health.EventsDropped,
		"last_result": health.LastResult,
	})

	if !cfg.Health.Enabled {
		return nil
	}
	return serveHealth(ctx, cfg, newHealthHandler(cfg, emitter, sink), logger)
}

// eventsPath serves the journal in editor mode.
const eventsPath = "/events"

// newHealthHandler routes the health endpoint and, when sink is a journal,
// the journaled events. Health checks are polled often and are not traced.
func newHealthHandler(cfg *core.Config, emitter *telemetry.Emitter, sink telemetry.Sink) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(cfg.Health.Path, telemetry.HealthHandler(emitter))
	if journal, ok := sink.(*telemetry.JournalSink); ok {
		mux.Handle(eventsPath, telemetry.JournalHandler(journal))
	}

	return telemetry.TracingMiddlewareWithConfig(cfg.Name, &telemetry.TracingMiddlewareConfig{
		ExcludedPaths: []string{cfg.Health.Path},
		SpanNameFormatter: func(_ string, r *http.Request) string {
			return cfg.Name + " " + r.Method + " " + r.URL.Path
		},
	})(mux)
}

func serveHealth(ctx context.Context, cfg *core.Config, handler http.Handler, logger core.Logger) error {
	server := &http.Server{
		Addr:              cfg.Health.Address,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Health endpoint listening", map[string]interface{}{
			"address": cfg.Health.Address,
			"path":    cfg.Health.Path,
		})
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("Shutting down health endpoint", nil)
	return server.Shutdown(shutdownCtx)
}
