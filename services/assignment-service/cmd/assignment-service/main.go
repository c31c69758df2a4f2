package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/fieldassign/libs/auth"
	"github.com/md-rashed-zaman/fieldassign/libs/config"
	"github.com/md-rashed-zaman/fieldassign/libs/httpx"
	"github.com/md-rashed-zaman/fieldassign/libs/kafkax"
	otelx "github.com/md-rashed-zaman/fieldassign/libs/otel"
	"github.com/md-rashed-zaman/fieldassign/libs/runtime"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/assignment"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/availability"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/capacity"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/consumer"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/handlers"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/matching"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/model"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "assignment-service")
	port, err := config.Port("PORT", "8090")
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

	loc, err := config.Location("TIMEZONE", "UTC")
	if err != nil {
		panic(err)
	}
	resetAt, err := model.ParseClock(config.String("DAILY_RESET_AT", "00:00"))
	if err != nil {
		panic(err)
	}
	brokers := config.String("KAFKA_BROKERS", "")

	backend, err := openStore(ctx, logger, brokers)
	if err != nil {
		logger.Error("store init failed", "err", err)
		panic(err)
	}
	defer backend.close()

	evaluator := availability.NewEvaluator(nil)
	planner := availability.Planner{Step: config.Minutes("SLOT_STEP_MINUTES", 0)}
	engine := matching.NewEngine(backend.store, evaluator)
	coord := assignment.NewCoordinator(backend.store, engine, logger, assignment.Options{Location: loc})

	resetter := capacity.NewResetter(backend.store, logger, capacity.Config{
		Location:  loc,
		ResetAt:   resetAt,
		PollEvery: time.Minute,
	})
	go resetter.Run(ctx)

	startConsumer := func(topic string, handler consumer.Handler) {
		if strings.TrimSpace(topic) == "" || strings.TrimSpace(brokers) == "" {
			return
		}
		c := consumer.New(logger, backend.inbox, consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", service),
			Topic:   topic,
		}, handler)
		go c.Run(ctx)
	}
	startConsumer(config.String("KAFKA_ORDER_TOPIC", "orders.order.placed.v1"), consumer.OrderPlaced(coord, logger))
	startConsumer(config.String("KAFKA_REASSIGN_TOPIC", "orders.order.reassign.requested.v1"), consumer.ReassignRequested(coord, logger))

	if err := startGrpcServer(ctx, logger); err != nil {
		logger.Error("grpc server failed to start", "err", err)
	}

	checks := append([]runtime.ReadyCheck(nil), backend.checks...)
	if strings.TrimSpace(brokers) != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	limiter, limiterCheck := rateLimiter(logger)
	if limiterCheck != nil {
		checks = append(checks, *limiterCheck)
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.NewAssignmentHandler(coord, engine, backend.store, planner, loc, logger).Register(mux, writeGuard(logger))

	requestTimeout := time.Duration(config.Int("REQUEST_TIMEOUT_SECONDS", 10, 1)) * time.Second
	bodyLimit := int64(config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20, 1024))
	httpHandler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: httpx.SplitList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods: httpx.SplitList(config.String("CORS_ALLOWED_METHODS", "GET,POST,OPTIONS")),
			AllowedHeaders: httpx.SplitList(config.String("CORS_ALLOWED_HEADERS", "Content-Type,X-Request-Id,X-Caller")),
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		limiter,
		httpx.WithBodyLimit(bodyLimit),
		httpx.WithTimeout(requestTimeout),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "assignment")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "store", backend.kind)
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

// rateLimiter prefers the shared Redis window when REDIS_ADDR is set and falls back to
// a per-process limiter otherwise. A limit of zero disables limiting.
func rateLimiter(logger *slog.Logger) (httpx.Middleware, *runtime.ReadyCheck) {
	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 600, 0)
	if limitPerMinute == 0 {
		return nil, nil
	}
	addr := strings.TrimSpace(config.String("REDIS_ADDR", ""))
	if addr == "" {
		logger.Info("rate limiting enabled (memory)", "per_minute", limitPerMinute)
		return httpx.NewRateLimiter(limitPerMinute, time.Minute).Middleware(), nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       config.Int("REDIS_DB", 0, 0),
	})
	rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "assign-rl"))
	logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
	return rl.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true)),
		&runtime.ReadyCheck{Name: "redis", Check: httpx.RedisReadyCheck(rdb)}
}

// writeGuard requires a service or dispatcher token on write endpoints when a signing
// secret or JWKS url is configured.
func writeGuard(logger *slog.Logger) httpx.Middleware {
	roles := httpx.SplitList(config.String("AUTH_WRITE_ROLES", "service,dispatcher"))
	if url := strings.TrimSpace(config.String("AUTH_JWKS_URL", "")); url != "" {
		logger.Info("write endpoints require RS256 tokens", "jwks_url", url)
		keys := auth.NewJWKSClient(url, config.Minutes("AUTH_JWKS_TTL_MINUTES", 5*time.Minute))
		return auth.RequireRole(auth.RS256Verifier{Keys: keys}, roles...)
	}
	if secret := config.String("AUTH_HS256_SECRET", ""); secret != "" {
		logger.Info("write endpoints require HS256 tokens")
		return auth.RequireRole(auth.HS256Verifier{Secret: secret}, roles...)
	}
	logger.Warn("write endpoints are unauthenticated; set AUTH_JWKS_URL or AUTH_HS256_SECRET")
	return nil
}
