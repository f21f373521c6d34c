package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	_ "github.com/lib/pq"

	"github.com/clinicq/queue-api/config"
	"github.com/clinicq/queue-api/internal/model"
	"github.com/clinicq/queue-api/internal/repository/postgres"
	"github.com/clinicq/queue-api/pkg/logger"
	"github.com/clinicq/queue-api/pkg/messaging/redis"
	"github.com/clinicq/queue-api/pkg/metrics"
	"github.com/clinicq/queue-api/pkg/worker"
)

// workerEnv holds deployment-level switches that override the config file.
type workerEnv struct {
	HealthPort       int           `default:"8081" split_words:"true"`
	OutboxEnabled    bool          `default:"true" split_words:"true"`
	NotifierEnabled  bool          `default:"true" split_words:"true"`
	CleanupInterval  time.Duration `default:"1h" split_words:"true"`
	CleanupRetention time.Duration `default:"168h" split_words:"true"`
}

func setupHealthCheck(port int, appLogger *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
			appLogger.ZL.Error().Err(err).Msg("Health check server failed")
			os.Exit(1)
		}
	}()
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	var env workerEnv
	if err := envconfig.Process("worker", &env); err != nil {
		log.Fatal().Err(err).Msg("Failed to parse worker environment")
	}

	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	appLogger := &logger.Logger{ZL: log.Logger}
	appMetrics := metrics.NewMetrics("clinicq", "worker")

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		appLogger.ZL.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	broker, err := redis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), &log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Redis broker")
	}
	defer broker.Close()

	baseRepo := postgres.NewBaseRepository(db)
	outboxRepo := postgres.NewOutboxRepository(baseRepo)
	notificationRepo := postgres.NewNotificationRepository(db)

	setupHealthCheck(env.HealthPort, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.ZL.Info().Msg("Shutting down...")
		cancel()
	}()

	var wg sync.WaitGroup

	if env.OutboxEnabled {
		processor := worker.NewOutboxProcessor(
			outboxRepo, broker, cfg.Outbox.ToWorkerConfig(), appLogger, appMetrics,
		)

		wg.Add(1)
		go func() {
			defer wg.Done()
			processor.Start(ctx)
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(env.CleanupInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := processor.Cleanup(ctx, env.CleanupRetention); err != nil {
						appLogger.Error(err, "Failed to clean up processed events")
					}
				}
			}
		}()
	}

	if env.NotifierEnabled {
		senders := map[model.NotificationChannel]worker.Sender{
			model.ChannelEmail: worker.NewEmailSender(worker.EmailSenderConfig{
				Host:     cfg.SMTP.Host,
				Port:     cfg.SMTP.Port,
				Username: cfg.SMTP.Username,
				Password: cfg.SMTP.Password,
				From:     cfg.SMTP.From,
			}),
			model.ChannelSMS:      worker.NewLogSender(model.ChannelSMS, appLogger),
			model.ChannelWhatsApp: worker.NewLogSender(model.ChannelWhatsApp, appLogger),
		}

		notifier := worker.NewNotifier(notificationRepo, senders, worker.NotifierConfig{
			BatchSize:    cfg.Notifier.BatchSize,
			PollInterval: cfg.Notifier.PollInterval,
			MaxRetries:   cfg.Notifier.MaxRetries,
			RetryBackoff: cfg.Notifier.RetryBackoff,
		}, appLogger, appMetrics)

		wg.Add(1)
		go func() {
			defer wg.Done()
			notifier.Start(ctx)
		}()
	}

	wg.Wait()
}
