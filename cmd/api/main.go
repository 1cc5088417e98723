package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/example/civictrack/internal/auth"
	"github.com/example/civictrack/internal/config"
	"github.com/example/civictrack/internal/db"
	httpserver "github.com/example/civictrack/internal/http"
	"github.com/example/civictrack/internal/logging"
	"github.com/example/civictrack/internal/metrics"
	"github.com/example/civictrack/internal/mq"
	"github.com/example/civictrack/internal/notification"
	"github.com/example/civictrack/internal/ratelimit"
	"github.com/example/civictrack/internal/service"
	"github.com/example/civictrack/internal/worker"
	"github.com/example/civictrack/internal/workflow"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("load .env", "error", err)
	}
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := db.NewStore(cfg.StoreDriver, cfg.DatabaseURL, cfg.DBLogLevel)
	if err != nil {
		logger.Error("open store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	limiter, closeLimiter := newLimiter(ctx, cfg, logger)
	defer closeLimiter()

	notifier, runNotifier, closeNotifier, err := newNotifier(cfg, m, logger)
	if err != nil {
		logger.Error("set up notifications", "error", err)
		os.Exit(1)
	}
	defer closeNotifier()

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL)
	users := service.NewUserService(store.Users(), tokens, logger)
	if err := users.EnsureAdmin(ctx, cfg.BootstrapAdminUser, cfg.BootstrapAdminPassword, cfg.BootstrapAdminEmail); err != nil {
		logger.Error("bootstrap admin account", "error", err)
		os.Exit(1)
	}

	applications := service.NewApplicationService(service.Deps{
		Store:           store,
		Estimator:       workflow.NewEstimator(logger),
		Notifier:        notifier,
		Limiter:         limiter,
		Metrics:         m,
		Logger:          logger,
		ReferencePrefix: cfg.ReferencePrefix,
		DefaultLanguage: cfg.DefaultLanguage,
	})
	apiServer, err := httpserver.NewServer(httpserver.Options{
		Applications: applications,
		Users:        users,
		Tokens:       tokens,
		Accounts:     store.Users(),
		Metrics:      m,
		Gatherer:     reg,
		Logger:       logger,
		// client addresses key the applicant lookup limiter
		TrustedProxies: cfg.TrustedProxies,
	})
	if err != nil {
		logger.Error("set up http server", "error", err)
		os.Exit(1)
	}

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		runNotifier(ctx)
	}()

	srv := &http.Server{
		Addr:              cfg.HTTPPort,
		Handler:           apiServer.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Warn("notification worker did not stop in time")
	}
	logger.Info("bye")
}

func newLimiter(ctx context.Context, cfg config.Config, logger *slog.Logger) (ratelimit.Limiter, func()) {
	client, err := ratelimit.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Warn("redis unavailable, using in-process lookup limiter", "error", err)
	}
	if client == nil {
		return ratelimit.NewMemoryLimiter(cfg.LookupMaxFailures, cfg.LookupWindow), func() {}
	}
	return ratelimit.NewRedisLimiter(client, cfg.LookupMaxFailures, cfg.LookupWindow), func() { _ = client.Close() }
}

// newNotifier publishes notices to RabbitMQ when configured and otherwise
// mails them from an in-process worker.
func newNotifier(cfg config.Config, m *metrics.Metrics, logger *slog.Logger) (notification.Notifier, func(context.Context), func(), error) {
	if cfg.MQURL != "" {
		publisher, err := mq.NewRabbitPublisher(cfg.MQURL, cfg.MQExchange)
		if err == nil {
			logger.Info("notifications are published to rabbitmq", "exchange", cfg.MQExchange)
			return mq.NewNoticePublisher(publisher, cfg.NotifySendTimeout, m, logger),
				func(context.Context) {},
				func() { _ = publisher.Close() },
				nil
		}
		logger.Warn("rabbitmq unavailable, delivering notifications in process", "error", err)
	}

	mailer, err := newMailer(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	w := worker.NewNotificationWorker(mailer, cfg.NotifyQueueSize, cfg.NotifyWorkers, cfg.NotifySendTimeout, m, logger)
	return w, w.Run, func() {}, nil
}

func newMailer(cfg config.Config, logger *slog.Logger) (*notification.Mailer, error) {
	catalog, err := notification.NewCatalog(cfg.DefaultLanguage, cfg.FrontendURL)
	if err != nil {
		return nil, err
	}
	sender, err := notification.NewSender(cfg.SMTP, logger)
	if err != nil {
		return nil, err
	}
	return notification.NewMailer(catalog, sender), nil
}

func init() {
	if mode := os.Getenv("GIN_MODE"); mode == "" {
		gin.SetMode(gin.ReleaseMode)
	}
}
