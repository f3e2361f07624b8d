// Runtrack Auditor — периодическая проверка инвариантов и агрегатов runs.
//
// Auditor:
//   - По AUDIT_CRON проверяет незавершённые и недавно изменённые runs
//   - Логирует нарушения и drift, публикует метрики runtrack_audit_*
//   - Ничего не изменяет в хранилище
//
// При PostgreSQL проход выполняет только лидер (pg_try_advisory_lock).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Runtrack/internal/auditor"
	"github.com/shaiso/Runtrack/internal/config"
	"github.com/shaiso/Runtrack/internal/repo"
	"github.com/shaiso/Runtrack/internal/telemetry"
	"github.com/shaiso/Runtrack/internal/tracker"
)

const auditLockKey int64 = 424243

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting runtrack-auditor", "cron", cfg.Audit.Cron, "lookback", cfg.Audit.Lookback)

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := repo.Open(ctx, cfg.DB.Options())
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	tr := tracker.New(tracker.Config{
		Store:  store,
		Policy: cfg.Policy,
		Logger: logger,
	})

	auditCfg := auditor.Config{
		Source:   tr,
		Logger:   logger,
		Lookback: cfg.Audit.Lookback,
	}

	// Leader election через advisory lock (только PostgreSQL)
	if pg, ok := store.(*repo.PostgresStore); ok {
		lock, err := pg.AdvisoryLock(ctx, auditLockKey)
		if err != nil {
			logger.Error("failed to prepare leader lock", "error", err)
			os.Exit(1)
		}
		defer lock.Release(context.Background())
		auditCfg.Leader = lock.TryLock
	}

	a := auditor.New(auditCfg)

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.AuditorAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	if err := a.Run(ctx, cfg.Audit.Cron); err != nil {
		logger.Error("auditor failed", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	logger.Info("runtrack-auditor stopped")
}
