package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dgnsrekt/titlesync/internal/api"
	"github.com/dgnsrekt/titlesync/internal/browser"
	"github.com/dgnsrekt/titlesync/internal/cdptabs"
	"github.com/dgnsrekt/titlesync/internal/config"
	"github.com/dgnsrekt/titlesync/internal/controller"
	"github.com/dgnsrekt/titlesync/internal/marker"
	"github.com/dgnsrekt/titlesync/internal/netutil"
	"github.com/dgnsrekt/titlesync/internal/notify"
	"github.com/dgnsrekt/titlesync/internal/relay"
	"github.com/dgnsrekt/titlesync/internal/tabs"
	"github.com/dgnsrekt/titlesync/internal/telemetry"
	"github.com/dgnsrekt/titlesync/internal/titlesync"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("titlesync config loaded",
		"cdp_url", cfg.CDPURL(),
		"bind_addr", cfg.BindAddr,
		"scan_interval_ms", cfg.ScanIntervalMS,
		"eval_timeout_ms", cfg.EvalTimeoutMS,
		"port_auto_fallback", cfg.PortAutoFallback,
		"port_candidates", cfg.PortCandidates,
		"demo", cfg.Demo,
		"launch_browser", cfg.LaunchBrowser,
		"notify", cfg.NotifyURL != "",
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
		"config_file", cfg.ConfigFile,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := netutil.Listen(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to bind control API", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}
	bindAddr := ln.Addr().String()

	tel, err := telemetry.Setup(ctx, telemetry.Config{ServiceName: "titlesync", EnableTraces: cfg.Traces, TraceWriter: os.Stderr})
	if err != nil {
		slog.Error("failed to set up telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Debug("telemetry shutdown failed", "error", err)
		}
	}()

	provider, closeProvider, err := openProvider(ctx, cfg)
	if err != nil {
		slog.Error("failed to open browser", "cdp_url", cfg.CDPURL(), "error", err)
		os.Exit(1)
	}
	defer closeProvider()

	broker := relay.NewBroker()
	sync := titlesync.New(provider, titlesync.Options{
		RestrictedSchemes: cfg.RestrictedSchemes,
		Interval:          cfg.ScanInterval(),
		CallTimeout:       cfg.EvalTimeout(),
		Broker:            broker,
		Telemetry:         tel,
	})
	markers := marker.New(provider, marker.Options{
		Sync: func(ctx context.Context, window tabs.WindowID) error {
			_, err := sync.SyncWindow(ctx, window)
			return err
		},
		LoadTimeout: cfg.MarkerTimeout(),
		Broker:      broker,
		Telemetry:   tel,
	})
	svc := controller.NewService(provider, sync, markers, controller.Options{
		Telemetry:         tel,
		RestrictedSchemes: cfg.RestrictedSchemes,
		Presets:           cfg.Presets,
	})

	if cfg.NotifyURL != "" {
		go notify.Forward(ctx, broker, &http.Client{Timeout: 10 * time.Second}, cfg.NotifyURL)
	}

	go func() {
		if err := sync.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("titlesync loop failed", "error", err)
		}
	}()

	srv := &http.Server{Handler: api.NewServer(svc, broker), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		slog.Info("titlesync listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("titlesync server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("titlesync shutdown failed", "error", err)
	}
}

// openProvider returns the tab provider selected by cfg and its cleanup.
func openProvider(ctx context.Context, cfg *config.Config) (tabs.Provider, func(), error) {
	if cfg.Demo {
		mem := seedDemo()
		slog.Info("titlesync demo mode, serving in-memory browser")
		return mem, mem.Close, nil
	}

	var launcher *browser.Launcher
	if cfg.LaunchBrowser {
		launcher = browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			BinaryPath: cfg.ChromiumPath,
			ProfileDir: cfg.ProfileDir,
			StartURLs:  cfg.StartURLs,
		})
		if err := launcher.Launch(ctx); err != nil {
			return nil, nil, err
		}
	}

	p := cdptabs.New(cfg.CDPURL(), cfg.EvalTimeout())
	if err := p.Connect(ctx); err != nil {
		if launcher != nil {
			launcher.Stop()
		}
		return nil, nil, err
	}
	cleanup := func() {
		if err := p.Close(); err != nil {
			slog.Debug("CDP provider close failed", "error", err)
		}
		if launcher != nil && launcher.Running() {
			launcher.Stop()
		}
	}
	return p, cleanup, nil
}

func seedDemo() *tabs.Memory {
	mem := tabs.NewMemory()
	mem.Open(1, "[Work]", marker.URL("Work"))
	inbox := mem.Open(1, "Inbox - Mail", "https://mail.example.com/inbox")
	mem.Open(1, "Quarterly Plan - Docs", "https://docs.example.com/plan")
	mem.Open(1, "Settings", "chrome://settings")
	if err := mem.Activate(inbox.ID); err != nil {
		slog.Debug("demo seed activate failed", "tab_id", inbox.ID, "error", err)
	}

	mem.Open(2, "Recipes", "https://food.example.com")
	mem.Open(2, "[Old] Weather", "https://weather.example.com")
	return mem
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
