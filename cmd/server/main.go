package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"consulta-go/internal/app"
	"consulta-go/internal/auth"
	"consulta-go/internal/config"
	"consulta-go/internal/handler"
	"consulta-go/internal/middleware"
)

func main() {
	logger, err := config.NewLogger()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting consulta server",
		zap.String("version", config.Version),
		zap.String("go_version", runtime.Version()))

	cfg, err := config.Load(envFile())
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	cfg.Log(logger)

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}

	gin.SetMode(cfg.App.Mode)
	r, err := newRouter(a, logger)
	if err != nil {
		logger.Fatal("Failed to build router", zap.Error(err))
	}

	srv := &http.Server{
		Addr:           cfg.App.Address(),
		Handler:        r,
		ReadTimeout:    cfg.App.ReadTimeout,
		WriteTimeout:   cfg.App.WriteTimeout,
		IdleTimeout:    2 * cfg.App.ReadTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.Info("Consulta server starting",
			zap.String("addr", srv.Addr),
			zap.String("mode", gin.Mode()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	} else {
		logger.Info("Server gracefully stopped")
	}

	a.Close()
	logger.Info("Database connections closed")
	logger.Info("Consulta server exited")
}

// newRouter builds the engine with the middleware chain and every route.
func newRouter(a *app.App, logger *zap.Logger) (*gin.Engine, error) {
	cfg := a.Config

	var jwtService *auth.JWTService
	if cfg.Auth.JWTSecret != "" {
		var err error
		jwtService, err = auth.NewJWTService(cfg.Auth, logger)
		if err != nil {
			return nil, err
		}
	}
	authMiddleware := middleware.NewAuthMiddleware(jwtService, cfg.Auth.AdminKeyHash, logger)
	if !authMiddleware.Enabled() {
		logger.Warn("admin endpoints are not protected; set JWT_SECRET or ADMIN_API_KEY_HASH")
	}

	middlewareConfig := middleware.NewMiddlewareConfig(cfg.App, logger)

	r := gin.New()
	middleware.SetupMiddleware(r, middlewareConfig)
	r.Use(a.Metrics.HTTPMetricsMiddleware())

	handler.SetupRoutes(r, &handler.RouterConfig{
		Consulta:  handler.NewConsultaHandler(a.Consulta, logger),
		Health:    handler.NewHealthHandler(a.Health),
		RateLimit: middleware.RateLimitMiddleware(middleware.NewRateLimiter(middlewareConfig.RateLimit)),
		Admin:     authMiddleware.AdminAuth(),
		Metrics:   a.Metrics.GetMetricsHandler(),
	})
	return r, nil
}

func envFile() string {
	if path := os.Getenv("ENV_FILE"); path != "" {
		return path
	}
	return ".env"
}
