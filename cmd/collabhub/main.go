// collabhub follows the agent collaboration log and serves it to dashboards
// over a WebSocket feed and a read-only JSON API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/flitsinc/collabhub/internal/api"
	"github.com/flitsinc/collabhub/internal/config"
	"github.com/flitsinc/collabhub/internal/engine"
	"github.com/flitsinc/collabhub/internal/liveness"
	"github.com/flitsinc/collabhub/internal/query"
	"github.com/flitsinc/collabhub/internal/web"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var configPath, addr, collabFile, logLevel string

	flagSet := pflag.NewFlagSet("collabhub", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a .toml, .yaml or .json config file")
	flagSet.StringVar(&addr, "addr", "", "HTTP listen address (default :$PORT)")
	flagSet.StringVar(&collabFile, "collab-file", "", "collaboration log to follow")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.HTTPAddr = addr
	}
	if collabFile != "" {
		cfg.CollabFile = collabFile
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	prober, err := liveness.NewProcessProber(cfg.Signatures(), cfg.ProbeTimeout, logger.With("component", "liveness"))
	if err != nil {
		return err
	}
	eng, err := engine.New(engine.Options{
		Path:             cfg.CollabFile,
		Agents:           cfg.AgentIDs(),
		Prober:           prober,
		RecencyWindow:    cfg.RecencyWindow,
		PollInterval:     cfg.PollInterval,
		LivenessInterval: cfg.LivenessInterval,
		SnapshotSize:     cfg.SnapshotSize,
		SubscriberBuffer: cfg.SubscriberBuffer,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Load(ctx); err != nil {
		return fmt.Errorf("load log: %w", err)
	}

	apiServer := &api.Server{
		Engine:    eng,
		Query:     query.New(eng),
		Logger:    logger.With("component", "api"),
		StartedAt: eng.Started(),
		Info: api.DiagnosticsInfo{
			HTTPAddr:   cfg.HTTPAddr,
			CollabFile: cfg.CollabFile,
			WebDir:     cfg.WebDir,
			Agents:     cfg.AgentIDs(),
		},
	}
	webServer := &web.Server{Dir: cfg.WebDir}

	apiHandler := apiServer.Handler()
	mux := http.NewServeMux()
	mux.Handle("/api/", apiHandler)
	mux.Handle("/ws", apiHandler)
	mux.Handle("/", webServer.Handler())

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	serverCtx, serverCancel := context.WithCancel(context.Background())
	defer serverCancel()
	httpServer := &http.Server{
		Handler:           api.Logging(logger.With("component", "http"), mux),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return serverCtx
		},
	}

	engineDone := make(chan error, 1)
	go func() {
		engineDone <- eng.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("collabhub listening", "addr", listener.Addr().String(), "ws", "/ws", "collab_file", cfg.CollabFile)
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	case err := <-engineDone:
		if err != nil {
			runErr = fmt.Errorf("watch log: %w", err)
		}
		engineDone <- nil
	}
	stop()
	serverCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}
	_ = httpServer.Close()
	<-engineDone
	return runErr
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
