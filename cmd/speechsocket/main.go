// Command speechsocket streams audio files to a WebSocket speech recognition
// service and prints the transcripts.
//
//	speechsocket -config speechsocket.yaml [-env .env] file.wav [more.wav ...]
//
// "-" reads audio from standard input.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/speechsocket/internal/app"
	"github.com/MrWong99/speechsocket/internal/config"
	"github.com/MrWong99/speechsocket/internal/health"
	"github.com/MrWong99/speechsocket/internal/observe"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "speechsocket.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", "", "dotenv file to load before the config (default: .env if present)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] file... (\"-\" reads stdin)\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "speechsocket: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "speechsocket: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "speechsocket: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("speechsocket starting",
		"version", version,
		"config", *configPath,
		"endpoint", cfg.Service.Endpoint,
		"files", flag.NArg(),
		"concurrency", cfg.Batch.Concurrency,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	provider, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Status server (optional) ──────────────────────────────────────────────
	probes := health.New(application.Checkers()...)
	srv, err := serveStatus(cfg.Server.StatusAddr, application, probes, provider)
	if err != nil {
		slog.Error("failed to start status server", "err", err)
		return 1
	}

	// ── Transcribe ────────────────────────────────────────────────────────────
	sources := make([]app.Source, 0, flag.NArg())
	for _, path := range flag.Args() {
		sources = append(sources, app.FileSource(path))
	}
	results, runErr := application.Transcribe(ctx, sources)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	slog.Info("batch finished", "sessions", len(results), "failed", failed)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	probes.SetDraining()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("status server shutdown error", "err", err)
		}
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}

	if runErr != nil {
		if ctx.Err() != nil {
			slog.Warn("interrupted")
			return 130
		}
		return 1
	}
	return 0
}

// serveStatus starts the status server when addr is set. If it cannot start,
// the application is shut down before the error is returned.
func serveStatus(addr string, application *app.App, probes *health.Handler, provider *observe.Provider) (*http.Server, error) {
	if addr == "" {
		return nil, nil
	}
	srv, err := startStatusServer(addr, probes, provider)
	if err != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if shutdownErr := application.Shutdown(ctx); shutdownErr != nil {
			slog.Error("shutdown error", "err", shutdownErr)
		}
		return nil, err
	}
	return srv, nil
}

// statusHandler routes the probes and /metrics through the observe
// middleware.
func statusHandler(probes *health.Handler, provider *observe.Provider) http.Handler {
	mux := http.NewServeMux()
	probes.Register(mux)
	mux.Handle("GET /metrics", provider.MetricsHandler())
	return observe.Middleware(observe.DefaultMetrics())(mux)
}

// startStatusServer serves [statusHandler] on addr in the background.
func startStatusServer(addr string, probes *health.Handler, provider *observe.Provider) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           statusHandler(probes, provider),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("status server error", "err", err)
		}
	}()
	slog.Info("status server listening", "addr", ln.Addr().String())
	return srv, nil
}

// newLogger creates an slog.Logger writing text to stderr at the given level.
func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
