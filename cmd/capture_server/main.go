package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/adcapture/internal/api"
	"github.com/dgnsrekt/adcapture/internal/app"
	"github.com/dgnsrekt/adcapture/internal/config"
	"github.com/dgnsrekt/adcapture/internal/controller"
	"github.com/dgnsrekt/adcapture/internal/netutil"
	"github.com/dgnsrekt/adcapture/internal/notify"
	"github.com/dgnsrekt/adcapture/internal/relay"
	"github.com/dgnsrekt/adcapture/internal/snapshot"
	"github.com/dgnsrekt/adcapture/internal/storage"
	"github.com/dgnsrekt/adcapture/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevelValue(), cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	policies, err := config.LoadPolicies(cfg.PolicyFile)
	if err != nil {
		slog.Error("failed to load policy file", "path", cfg.PolicyFile, "error", err)
		os.Exit(1)
	}

	slog.Info("capture_server config loaded",
		"bind_addr", cfg.BindAddr,
		"engine", cfg.Engine,
		"cdp_url", cfg.CDPURL,
		"viewport", cfg.LauncherConfig().WindowSize,
		"db_path", cfg.DBPath,
		"snapshot_dir", cfg.SnapshotDir,
		"journal_dir", cfg.JournalDir,
		"policy_file", cfg.PolicyFile,
		"auth", cfg.APIKeyHash != "",
		"log_level", cfg.LogLevel,
	)

	ln, err := netutil.Listen(cfg.BindAddr, cfg.BindCandidates, cfg.AutoFallback)
	if err != nil {
		slog.Error("failed to bind capture server", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}
	bindAddr := ln.Addr().String()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		slog.Error("failed to create database directory", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	captures, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open capture store", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := captures.Close(); err != nil {
			slog.Debug("capture store close failed", "error", err)
		}
	}()

	if n, err := captures.ResetStale(context.Background()); err != nil {
		slog.Warn("stale capture reset failed", "error", err)
	} else if n > 0 {
		slog.Info("stale captures returned to pending", "count", n)
	}

	snapStore, err := snapshot.NewStore(cfg.SnapshotDir)
	if err != nil {
		slog.Error("failed to create snapshot store", "dir", cfg.SnapshotDir, "error", err)
		os.Exit(1)
	}

	journal := storage.NewJournal(cfg.JournalDir, cfg.JournalBuffer, cfg.JournalMaxSizeMB)
	defer func() {
		if err := journal.Close(); err != nil {
			slog.Warn("journal close failed", "error", err)
		}
	}()

	svc := controller.NewService(captures, snapStore, app.NewBatch(cfg, policies), journal, &notify.Notifier{Endpoint: cfg.NotifyURL})
	events := relay.NewBroker()
	svc.SetEvents(events)
	worker := controller.NewWorker(svc, cfg.QueueSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	h := api.NewServer(svc, worker, api.Options{APIKeyHash: cfg.APIKeyHash, Events: events})
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		slog.Info("capture_server listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("capture_server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("capture_server shutdown failed", "error", err)
	}
	// A batch in flight is cancelled; its captures stay processing and are
	// reset to pending on the next start.
	cancel()
	worker.Wait()
}

func setupLogger(level slog.Level, filename string) error {
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

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(h))
	return nil
}
