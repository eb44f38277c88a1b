package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dkalita/servicebook/libs/auth"
	"github.com/dkalita/servicebook/libs/config"
	"github.com/dkalita/servicebook/libs/db"
	"github.com/dkalita/servicebook/libs/httpx"
	"github.com/dkalita/servicebook/libs/kafkax"
	otelx "github.com/dkalita/servicebook/libs/otel"
	"github.com/dkalita/servicebook/libs/runtime"
	"github.com/dkalita/servicebook/services/scheduling-service/internal/consumer"
	"github.com/dkalita/servicebook/services/scheduling-service/internal/directory"
	"github.com/dkalita/servicebook/services/scheduling-service/internal/handlers"
	"github.com/dkalita/servicebook/services/scheduling-service/internal/outbox"
	"github.com/dkalita/servicebook/services/scheduling-service/internal/scheduling"
	"github.com/dkalita/servicebook/services/scheduling-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	var (
		store storage.Store
		ready []runtime.ReadyCheck
	)
	kafkaBrokers := config.String("KAFKA_BROKERS", "")
	if dbURL := config.String("DATABASE_URL", ""); dbURL != "" {
		pool, err := db.Open(ctx, dbURL, int32(config.Int("DB_MAX_CONNS", 10)))
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()

		pg := storage.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Error("schema setup failed", "err", err)
			panic(err)
		}
		store = pg
		ready = append(ready, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})

		publisher := outbox.NewPublisher(pool, outbox.NewRepository(pool), logger, outbox.PublisherConfig{
			Brokers:   kafkaBrokers,
			PollEvery: 2 * time.Second,
			BatchSize: 50,
		})
		go publisher.Run(ctx)
	} else {
		logger.Warn("no DATABASE_URL, using in-memory store (single replica only)")
		mem := storage.NewMemory()
		mem.SetEventSink(func(_ context.Context, events []outbox.Event) {
			for _, evt := range events {
				logger.Info("scheduling event", "event_type", evt.EventType, "appointment_id", evt.AppointmentID)
			}
		})
		store = mem
	}
	if kafkaBrokers != "" {
		ready = append(ready, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkaBrokers)})
	}

	hoursProvider, err := directory.NewDirectoryProvider(logger, store, config.String("DIRECTORY_GRPC_ADDR", ""))
	if err != nil {
		logger.Error("directory provider init failed, using local replica", "err", err)
		hoursProvider = directory.NewStoreProvider(store)
	}

	eng := scheduling.NewEngine(store, scheduling.Config{
		SlotStep:           config.Minutes("SLOT_STEP_MINUTES", 15*time.Minute),
		BookingHorizon:     time.Duration(config.Int("BOOKING_HORIZON_DAYS", 90)) * 24 * time.Hour,
		WorkdayStartMinute: config.Int("WORKDAY_START", 9*60),
		WorkdayEndMinute:   config.Int("WORKDAY_END", 17*60),
		Hours:              hoursProvider,
	})

	if topic := strings.TrimSpace(config.String("KAFKA_CONSUME_TOPIC", consumer.TopicEmployeeUpdated)); topic != "" && kafkaBrokers != "" {
		employeeConsumer := consumer.New(logger, store, consumer.Config{
			Brokers: kafkaBrokers,
			GroupID: config.String("KAFKA_GROUP_ID", service),
			Topic:   topic,
		}, consumer.EmployeeSyncHandler(logger, store))
		go employeeConsumer.Run(ctx)
	}

	mux := runtime.NewBaseMux(ready...)
	handlers.NewSchedulingHandler(eng, store, logger).Register(mux)

	middlewares := []httpx.Middleware{
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1 << 20),
		httpx.WithTimeout(15 * time.Second),
	}

	if secret := config.String("JWT_SECRET", ""); secret != "" {
		middlewares = append(middlewares, httpx.WithBearerAuth(func(token string) error {
			_, err := auth.ParseAndVerifyHS256(token, secret)
			return err
		}))
	}

	limit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		defer rdb.Close()
		limiter := httpx.NewRedisRateLimiter(rdb, limit, time.Minute, service)
		middlewares = append(middlewares, limiter.Middleware(logger, true))
	} else {
		middlewares = append(middlewares, httpx.NewRateLimiter(limit, time.Minute).Middleware())
	}

	if origins := config.String("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		middlewares = append(middlewares, httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: strings.Split(origins, ","),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowedHeaders: []string{"Content-Type", "Authorization", "Idempotency-Key"},
		}))
	}

	httpHandler := httpx.Chain(mux, middlewares...)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
