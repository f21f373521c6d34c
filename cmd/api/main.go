package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	_ "github.com/lib/pq"

	"github.com/clinicq/queue-api/config"
	"github.com/clinicq/queue-api/internal/handler"
	bookingHandler "github.com/clinicq/queue-api/internal/handler/booking"
	departmentHandler "github.com/clinicq/queue-api/internal/handler/department"
	doctorHandler "github.com/clinicq/queue-api/internal/handler/doctor"
	queueHandler "github.com/clinicq/queue-api/internal/handler/queue"
	"github.com/clinicq/queue-api/internal/middleware"
	"github.com/clinicq/queue-api/internal/repository/cached"
	"github.com/clinicq/queue-api/internal/repository/postgres"
	"github.com/clinicq/queue-api/internal/router"
	bookingService "github.com/clinicq/queue-api/internal/service/booking"
	"github.com/clinicq/queue-api/internal/service/broadcast"
	"github.com/clinicq/queue-api/internal/service/event"
	notificationService "github.com/clinicq/queue-api/internal/service/notification"
	queueService "github.com/clinicq/queue-api/internal/service/queue"
	"github.com/clinicq/queue-api/pkg/logger"
	"github.com/clinicq/queue-api/pkg/messaging/redis"
	"github.com/clinicq/queue-api/pkg/metrics"
	"github.com/clinicq/queue-api/pkg/validator"
	"github.com/clinicq/queue-api/pkg/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)
	appMetrics := metrics.NewMetrics("clinicq", "api")

	if err := validator.Register(); err != nil {
		log.Fatal().Err(err).Msg("failed to register validators")
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	broker, err := redis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), &appLogger.ZL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer broker.Close()

	// Repositories
	cacheCfg := cached.DefaultConfig()
	deptRepo := cached.NewDepartmentRepository(postgres.NewDepartmentRepository(db), cacheCfg)
	doctorRepo := cached.NewDoctorRepository(postgres.NewDoctorRepository(db), cacheCfg)
	patientRepo := postgres.NewPatientRepository(db)
	queueRepo := postgres.NewQueueRepository(db)
	notificationRepo := postgres.NewNotificationRepository(db)
	outboxRepo := postgres.NewOutboxRepository(postgres.NewBaseRepository(db))

	// Services
	emitter := event.NewEmitter(outboxRepo, appLogger)
	notifier := notificationService.NewService(notificationRepo, emitter, appLogger)
	broadcaster := broadcast.NewService(
		broker, queueRepo, patientRepo, doctorRepo, deptRepo,
		broadcast.Config{AvgConsultationMins: cfg.Queue.AvgConsultationMins},
		appLogger, appMetrics,
	)
	estimator := queueService.NewEstimator(cfg.Queue.AvgConsultationMins)
	queueSvc := queueService.NewService(
		queueRepo, patientRepo, deptRepo, doctorRepo,
		notifier, emitter, broadcaster, estimator,
		appLogger, appMetrics,
	)
	bookingSvc := bookingService.NewService(
		queueRepo, patientRepo, deptRepo, doctorRepo, queueSvc,
		notifier, emitter, broadcaster, estimator,
		bookingService.Config{
			SlotCapacity: cfg.Queue.SlotCapacity,
			TimeSlots:    cfg.Queue.TimeSlots,
		},
		appLogger, appMetrics,
	)

	// Handlers
	h := handler.NewHandler()
	queueH := queueHandler.NewHandler(queueSvc)
	bookingH := bookingHandler.NewHandler(bookingSvc)
	departmentH := departmentHandler.NewHandler(deptRepo, doctorRepo, queueSvc, bookingSvc)
	doctorH := doctorHandler.NewHandler(doctorRepo, queueSvc)

	corsCfg := middleware.DefaultCORSConfig()
	if len(cfg.Security.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.Security.AllowedOrigins
	}

	r := router.NewRouter(queueH, bookingH, departmentH, doctorH, h, router.RouterConfig{
		RateLimitEnabled: cfg.RateLimit.Enabled,
		RateLimit:        rate.Limit(cfg.RateLimit.RequestsPerSecond),
		RateBurst:        cfg.RateLimit.Burst,
		CORSConfig:       corsCfg,
		MetricsPrefix:    "clinicq_api",
		RequestTimeout:   cfg.Server.WriteTimeout,
	})
	r.Setup()

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        r.Engine(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	// Drain the outbox from the API process too, so events flow even when no
	// dedicated worker is deployed.
	outboxProcessor := worker.NewOutboxProcessor(
		outboxRepo, broker, cfg.Outbox.ToWorkerConfig(), appLogger, appMetrics,
	)
	processorCtx, stopProcessor := context.WithCancel(context.Background())
	go outboxProcessor.Start(processorCtx)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	stopProcessor()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}
