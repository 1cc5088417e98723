package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/civictrack/internal/config"
	"github.com/example/civictrack/internal/logging"
	"github.com/example/civictrack/internal/metrics"
	"github.com/example/civictrack/internal/mq"
	"github.com/example/civictrack/internal/notification"
	"github.com/example/civictrack/internal/worker"
)

// notifier consumes notices published by the API and mails them.
func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("load .env", "error", err)
	}
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With("component", "notifier")
	slog.SetDefault(logger)

	if cfg.MQURL == "" {
		logger.Error("RABBITMQ_URL is required")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	catalog, err := notification.NewCatalog(cfg.DefaultLanguage, cfg.FrontendURL)
	if err != nil {
		logger.Error("load message catalog", "error", err)
		os.Exit(1)
	}
	sender, err := notification.NewSender(cfg.SMTP, logger)
	if err != nil {
		logger.Error("set up smtp", "error", err)
		os.Exit(1)
	}
	mailer := notification.NewMailer(catalog, sender)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// the consumer hands notices to the bounded worker so that slow SMTP
	// servers do not stall the channel
	w := worker.NewNotificationWorker(mailer, cfg.NotifyQueueSize, cfg.NotifyWorkers, cfg.NotifySendTimeout, m, logger)

	consumer, err := mq.NewRabbitConsumer(cfg.MQURL, cfg.MQExchange, cfg.MQQueue, mq.NoticeBindingKey, cfg.MQPrefetch)
	if err != nil {
		logger.Error("connect rabbitmq", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	enqueue := func(ctx context.Context, n notification.Notice) error {
		w.Notify(ctx, n)
		return nil
	}
	if err := consumer.Consume(mq.NoticeHandler(ctx, enqueue, logger)); err != nil {
		logger.Error("start consuming", "queue", cfg.MQQueue, "error", err)
		os.Exit(1)
	}
	logger.Info("waiting for notices", "exchange", cfg.MQExchange, "queue", cfg.MQQueue)

	// a lost broker connection stops the process so the supervisor restarts it
	go func() {
		select {
		case amqpErr := <-consumer.Closed():
			if amqpErr != nil {
				logger.Error("rabbitmq connection lost", "error", amqpErr)
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	metricsSrv := &http.Server{
		Addr:              cfg.NotifierMetricsPort,
		Handler:           metricsHandler(reg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", "addr", cfg.NotifierMetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	w.Run(ctx)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}
	logger.Info("bye")
}

func metricsHandler(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return mux
}
