package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thovfx/license-server/internal/config"
	"github.com/thovfx/license-server/internal/domain/license"
	"github.com/thovfx/license-server/internal/handler"
	"github.com/thovfx/license-server/internal/handler/middleware"
	"github.com/thovfx/license-server/internal/ierr"
	"github.com/thovfx/license-server/internal/keycodec"
	"github.com/thovfx/license-server/internal/metrics"
	"github.com/thovfx/license-server/internal/service"
	"github.com/thovfx/license-server/internal/storage/localfile"
	"github.com/thovfx/license-server/internal/storage/sheets"
	"github.com/thovfx/license-server/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "./configs/config.dev.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.NewZapLogger(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	sugarLogger := appLogger.Sugar()

	sugarLogger.Info("Starting application...")
	sugarLogger.Infof("Log level set to: %s", cfg.Log.Level)

	appCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := newStore(appCtx, cfg, appLogger)
	if err != nil {
		sugarLogger.Fatalf("Failed to initialize %s license store: %v", cfg.Store.Backend, err)
	}
	sugarLogger.Infof("License store backend: %s", cfg.Store.Backend)

	codec, err := keycodec.New(cfg.License.SigningSecret)
	if err != nil {
		sugarLogger.Fatalf("Failed to initialize license key codec: %v", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.New(registry)

	licenseService := service.NewLicenseService(store, codec, appMetrics, appLogger)
	authService := service.NewAuthService(&cfg.Auth, appMetrics, appLogger)

	healthHandler := handler.NewHealthHandler(store, cfg.Store.Backend, appLogger)
	licenseHandler := handler.NewLicenseHandler(licenseService, appLogger)
	authHandler := handler.NewAuthHandler(authService, appLogger)
	dashboardHandler := handler.NewDashboardHandler(licenseService, appLogger)

	authMiddleware := middleware.AuthMiddleware(authService, appLogger)
	errorMiddleware := middleware.ErrorHandlerMiddleware(appLogger)

	router := gin.New()
	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.ClientIP,
			param.TimeStamp.Format(time.RFC1123),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	}))
	router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logMsg := "Panic recovered"
		if err, ok := recovered.(string); ok {
			logMsg = fmt.Sprintf("%s: %s", logMsg, err)
		} else if err, ok := recovered.(error); ok {
			logMsg = fmt.Sprintf("%s: %v", logMsg, err)
		}
		appLogger.Error(logMsg, zap.Stack("stack"))

		_ = c.Error(ierr.ErrInternalServer)
		c.Abort()
	}))

	corsConfig := cors.Config{
		AllowOrigins: []string{"http://localhost:3000"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
		},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))
	router.Use(errorMiddleware)

	router.GET("/healthz", healthHandler.Check)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	{
		api.GET("/validate", licenseHandler.Validate)
		api.POST("/login", authHandler.Login)
		api.GET("/check-auth", authMiddleware, authHandler.CheckAuth)

		licenseRoutes := api.Group("/licenses")
		licenseRoutes.Use(authMiddleware)
		{
			licenseRoutes.POST("", licenseHandler.Create)
			licenseRoutes.GET("", licenseHandler.List)
			licenseRoutes.GET("/:device_id", licenseHandler.GetByDeviceID)
			licenseRoutes.PUT("/:device_id", licenseHandler.Update)
			licenseRoutes.DELETE("/:device_id", licenseHandler.Revoke)
		}

		api.POST("/extend/:device_id", authMiddleware, licenseHandler.Extend)

		dashboardRoutes := api.Group("/dashboard")
		dashboardRoutes.Use(authMiddleware)
		{
			dashboardRoutes.GET("/summary", dashboardHandler.GetSummary)
		}
	}

	g, groupCtx := errgroup.WithContext(appCtx)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g.Go(func() error {
		sugarLogger.Infof("HTTP server listening on port %s", cfg.Server.Port)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugarLogger.Errorf("HTTP server ListenAndServe error: %v", err)
			return fmt.Errorf("http server failed: %w", err)
		}
		sugarLogger.Info("HTTP server stopped listening.")
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		sugarLogger.Info("Shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownPeriod)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			sugarLogger.Errorf("HTTP server graceful shutdown failed: %v", err)
			return fmt.Errorf("http server shutdown error: %w", err)
		}
		sugarLogger.Info("HTTP server shutdown complete.")
		return nil
	})

	sugarLogger.Info("Application started. Waiting for interrupt signal (Ctrl+C) or component error...")

	waitErr := g.Wait()

	sugarLogger.Info("Shutdown sequence finished.")

	if waitErr != nil {
		if errors.Is(waitErr, context.Canceled) {
			sugarLogger.Info("Shutdown reason: Context canceled (likely due to OS signal).")
		} else if errors.Is(waitErr, http.ErrServerClosed) {
			sugarLogger.Info("Shutdown reason: HTTP server closed normally.")
		} else {
			sugarLogger.Errorf("Application shutdown finished with unexpected error: %v", waitErr)
		}
	} else {
		sugarLogger.Info("Application shutdown successfully (all components finished without errors).")
	}

	sugarLogger.Info("Application exiting now.")
}

func newStore(ctx context.Context, cfg *config.Config, appLogger *zap.Logger) (license.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendLocal:
		return localfile.NewStore(cfg.Store.Local.Path, appLogger)
	case config.BackendSheets:
		return sheets.NewStore(ctx, &cfg.Store.Sheets, appLogger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
