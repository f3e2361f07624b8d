// Runtrack API — HTTP API трекинга выполнения runs.
//
// Процесс:
//   - Обслуживает /api/v1 (runs, steps, IO, validate)
//   - Потребляет обновления шагов из очереди steps.updates (если RabbitMQ доступен)
//   - Публикует события жизненного цикла в runtrack.runs
//   - Отдаёт /healthz и /metrics
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

	"github.com/shaiso/Runtrack/internal/api"
	"github.com/shaiso/Runtrack/internal/config"
	"github.com/shaiso/Runtrack/internal/mq"
	"github.com/shaiso/Runtrack/internal/repo"
	"github.com/shaiso/Runtrack/internal/telemetry"
	"github.com/shaiso/Runtrack/internal/tracker"
)

var startTime = time.Now()

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	// Инициализируем structured logging
	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting runtrack-api", "driver", cfg.DB.Driver)

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Хранилище
	store, err := repo.Open(ctx, cfg.DB.Options())
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("store opened")

	// RabbitMQ (опционально)
	var mqConn *mq.Connection
	trCfg := tracker.Config{
		Store:  store,
		Policy: cfg.Policy,
		Logger: logger,
	}

	mqConn, err = mq.NewConnection(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running without events and queue consumer", "error", err)
		mqConn = nil
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		trCfg.Publisher = mq.NewPublisher(mqConn, logger)
	}

	tr := tracker.New(trCfg)

	// Consumer обновлений шагов
	var consumer *mq.Consumer
	if mqConn != nil {
		consumer = mq.NewConsumer(mqConn, logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueStepUpdates),
			Handler:  tr.StepUpdateHandler(),
			Prefetch: 16,
		})
		go func() {
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("step updates consumer stopped", "error", err)
			}
		}()
	}

	handler := api.NewHandler(api.Config{
		Tracker: tr,
		Logger:  logger,
	})

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		broker := "disabled"
		if mqConn != nil {
			broker = "up"
			if err := mqConn.Ping(); err != nil {
				broker = "down"
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s broker=%s", time.Since(startTime), broker)
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Регистрируем API маршруты
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.APIAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	if consumer != nil {
		consumer.Stop()
	}

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
