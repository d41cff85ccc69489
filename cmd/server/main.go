package main

import (
	"context"
	"log"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	apiHandler "github.com/riseandspeak/backend/api/handler"
	"github.com/riseandspeak/backend/internal/config"
	"github.com/riseandspeak/backend/internal/infrastructure/buffer"
	"github.com/riseandspeak/backend/internal/infrastructure/monitor"
	pgInfra "github.com/riseandspeak/backend/internal/infrastructure/postgres"
	redisInfra "github.com/riseandspeak/backend/internal/infrastructure/redis"
	"github.com/riseandspeak/backend/internal/middleware"
	"github.com/riseandspeak/backend/internal/router"
	"github.com/riseandspeak/backend/internal/services"
	"github.com/riseandspeak/backend/internal/services/lifecycle"
	"github.com/riseandspeak/backend/pkg/httpcontext"
	"github.com/riseandspeak/backend/pkg/logger"
	"github.com/riseandspeak/backend/repository/postgres"
	redisRepo "github.com/riseandspeak/backend/repository/redis"
	authUC "github.com/riseandspeak/backend/usecase/auth"
	profileUC "github.com/riseandspeak/backend/usecase/profile"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{
		Level:    cfg.Logger.Level,
		Encoding: cfg.Logger.Encoding,
	})
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer zapLogger.Sync()

	if cfg.Auth.JWTSecret == "" {
		zapLogger.Fatal("JWT_SECRET must be set")
	}

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := lifecycle.New(cfg.Context.ShutdownTimeout, zapLogger)
	manager.Listen(cancel)

	if err := pgInfra.RunMigrations(cfg, zapLogger); err != nil {
		zapLogger.Fatal("migrations failed", zap.Error(err))
	}

	pool, err := pgInfra.NewPool(appCtx, cfg.Database, zapLogger)
	if err != nil {
		zapLogger.Fatal("postgres connection failed", zap.Error(err))
	}
	manager.Register("postgres", func(ctx context.Context) error {
		pool.Close()
		return nil
	})

	redisClient, err := redisInfra.NewClient(cfg.Redis)
	if err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	manager.Register("redis", func(ctx context.Context) error {
		return redisClient.Close()
	})

	writeQueue, err := buffer.Open(cfg.Buffer.Path, "profile_writes")
	if err != nil {
		zapLogger.Fatal("failed to open write queue", zap.Error(err))
	}
	manager.Register("write_queue", func(ctx context.Context) error {
		return writeQueue.Close()
	})

	mon := monitor.New(pool, redisClient, writeQueue, 10*time.Second, zapLogger)
	mon.Start()
	manager.Register("monitor", func(ctx context.Context) error {
		mon.Stop()
		return nil
	})

	userRepo := postgres.NewUserRepository(pool)
	sessionRepo := redisRepo.NewSessionRepository(redisClient, cfg.Auth.TokenTTL)
	resetRepo := redisRepo.NewPasswordResetRepository(redisClient)

	bufferProcessor := services.NewBufferProcessor(
		writeQueue,
		mon,
		userRepo,
		zapLogger,
		services.ProcessorConfig{
			Interval:   cfg.Buffer.SyncInterval,
			BatchSize:  50,
			MaxRetries: cfg.Buffer.MaxRetry,
			Retention:  time.Duration(cfg.Buffer.RetentionHours) * time.Hour,
		},
	)
	bufferProcessor.Start()
	manager.Register("buffer_processor", func(ctx context.Context) error {
		bufferProcessor.Stop(ctx)
		return nil
	})

	bufferBridge := services.NewBufferBridge(bufferProcessor)

	authUseCase := authUC.New(userRepo, sessionRepo, resetRepo, authUC.Config{
		JWTSecret:  cfg.Auth.JWTSecret,
		JWTIssuer:  cfg.Auth.JWTIssuer,
		TokenTTL:   cfg.Auth.TokenTTL,
		ResetTTL:   cfg.Auth.ResetTTL,
		BcryptCost: cfg.Auth.BcryptCost,
	}, zapLogger)
	profileUseCase := profileUC.New(userRepo, bufferBridge, zapLogger)

	ctxAdapter := httpcontext.NewAdapter(cfg.Context.RequestTimeout)

	handlers := router.Handlers{
		Auth:    apiHandler.NewAuthHandler(authUseCase, ctxAdapter, zapLogger),
		Profile: apiHandler.NewProfileHandler(profileUseCase, authUseCase, ctxAdapter, zapLogger),
		Health:  apiHandler.NewHealthHandler(mon, ctxAdapter, zapLogger),
	}

	authMiddleware := middleware.JWTAuth(cfg.Auth.JWTSecret, zapLogger)
	r := router.New(handlers, authMiddleware)

	server := &fasthttp.Server{
		Handler:      r.Handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		Name:         cfg.AppName,
	}

	go func() {
		zapLogger.Info("server started", zap.String("address", cfg.Address()))
		if err := server.ListenAndServe(cfg.Address()); err != nil {
			zapLogger.Fatal("server crashed", zap.Error(err))
		}
	}()

	manager.Register("http_server", func(ctx context.Context) error {
		return server.Shutdown()
	})

	<-appCtx.Done()

	if err := manager.Shutdown(context.Background()); err != nil {
		zapLogger.Error("graceful shutdown error", zap.Error(err))
	}
}
