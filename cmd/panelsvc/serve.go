package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/loykin/panelsvc"
	"github.com/loykin/panelsvc/internal/detector"
	ilog "github.com/loykin/panelsvc/internal/logger"
	"github.com/loykin/panelsvc/internal/server"
)

const serverShutdownTimeout = 5 * time.Second

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the supervisor daemon with its control API",
		Long: `Run the supervisor daemon. It exposes the control API used by open, close,
status and shutdown, and stops the service when it receives SIGINT/SIGTERM.

Examples:
  panelsvc serve panelsvc.toml
  panelsvc serve --engine echo --listen 127.0.0.1:9000
  panelsvc serve --daemonize --pidfile /run/panelsvc.pid --logfile /var/log/panelsvc.log`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			return runServe(cmd.Context(), path, serveFlags, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&serveFlags.Engine, "engine", "", "HTTP engine: gin or echo (overrides [server].engine)")
	cmd.Flags().StringVar(&serveFlags.Listen, "listen", "", "control API listen address (overrides [server].listen)")
	cmd.Flags().StringVar(&serveFlags.BasePath, "base-path", "", "control API base path (overrides [server].base_path)")
	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write daemon PID to file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "write daemon log to a rotated file")
	cmd.Flags().BoolVar(&serveFlags.NonBlocking, "non-blocking", false, "start and stop immediately (testing)")
	_ = cmd.Flags().MarkHidden("non-blocking")

	return cmd
}

func runServe(ctx context.Context, configPath string, flags *ServeFlags, out io.Writer) error {
	cfg, err := panelsvc.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if flags.Engine != "" {
		cfg.Server.Engine = flags.Engine
	}
	if flags.Listen != "" {
		cfg.Server.Listen = flags.Listen
	}
	if flags.BasePath != "" {
		cfg.Server.BasePath = flags.BasePath
	}
	if flags.LogFile != "" {
		cfg.Log.File.StdoutPath = flags.LogFile
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if flags.Daemonize && !isDaemonChild() {
		pid, err := daemonize(flags.PidFile)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "Daemon started with PID %d\n", pid)
		return nil
	}
	if flags.PidFile != "" {
		if err := detector.WritePIDFile(flags.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer detector.RemovePIDFile(flags.PidFile)
	}

	logger := cfg.Log.NewSlogger()
	slog.SetDefault(logger)
	if cfg.Log.Slog.Level != ilog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	if cfg.Metrics.Enabled {
		if err := panelsvc.RegisterMetricsDefault(); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	p, sink, err := panelsvc.NewFromConfig(cfg, logger)
	if err != nil {
		return fmt.Errorf("history sink: %w", err)
	}
	if sink != nil {
		defer func() { _ = sink.Close() }()
	}

	h := p.Handler(cfg.Server.BasePath, cfg.Metrics.Enabled)
	var srv shutdowner
	var addr string
	switch cfg.Server.Engine {
	case "echo":
		es, err := server.NewEchoServer(cfg.Server.Listen, cfg.Server.BasePath, h, logger)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.Server.Listen, err)
		}
		srv, addr = es, es.Addr
	default:
		hs, err := server.NewServer(cfg.Server.Listen, h, logger)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.Server.Listen, err)
		}
		srv, addr = hs, hs.Addr
	}
	logger.Info("control API listening", "addr", addr, "engine", engineName(cfg.Server.Engine), "base", cfg.Server.BasePath)
	_, _ = fmt.Fprintf(out, "listening on %s\n", addr)

	p.Startup(ctx)

	if !flags.NonBlocking {
		<-ctx.Done()
		logger.Info("shutdown requested")
	}

	// stop the service while OS process APIs are still usable
	p.Shutdown()

	sctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("control API shutdown", "error", err)
	}
	return nil
}

func engineName(e string) string {
	if e == "" {
		return "gin"
	}
	return e
}
