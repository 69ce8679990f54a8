package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"boardflow/internal/config"
	"boardflow/internal/handlers"
	"boardflow/internal/observability"
	"boardflow/internal/services"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the boardflow HTTP server",
	Run:   run,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func run(cmd *cobra.Command, args []string) {
	cfg := config.Load()

	if err := config.InitLogger(cfg); err != nil {
		logrus.Fatalf("Failed to initialize logger: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracing := cfg.Monitoring.Tracing.Enabled
	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Monitoring.Tracing)
	if err != nil {
		logrus.Warnf("Tracing disabled: %v", err)
		tracing = false
		shutdownTracing = func(context.Context) error { return nil }
	}

	a, err := newApp(ctx, cfg, tracing)
	if err != nil {
		logrus.Fatalf("Failed to initialize: %v", err)
	}
	defer a.close()

	go a.hub.Run(ctx)

	var sweeper *services.DueSweeper
	if cfg.Automation.DueSweep.Enabled {
		sweeper = services.NewDueSweeper(a.store, a.engine, cfg.Automation.DueSweep, logrus.StandardLogger())
		if err := sweeper.Start(ctx); err != nil {
			logrus.Fatalf("Failed to start due-date sweeper: %v", err)
		}
	}

	if cfg.Server.Host != "localhost" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := setupRouter(a, tracing)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logrus.Infof("Starting server on %s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}
	if sweeper != nil {
		sweeper.Stop()
	}
	cancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logrus.Errorf("Failed to flush traces: %v", err)
	}

	logrus.Info("Server exited")
}

func setupRouter(a *app, tracing bool) *gin.Engine {
	hub := a.hub
	router := gin.New()

	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	if tracing {
		service := a.cfg.Monitoring.Tracing.ServiceName
		if service == "" {
			service = "boardflow"
		}
		router.Use(otelgin.Middleware(service))
	}

	healthHandler := handlers.NewHealthHandler(a.db, a.completion, a.intelligence, hub, Version, logrus.StandardLogger())
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	metricsHandler := handlers.NewMetricsHandler(hub, a.breakers)
	if a.cfg.Monitoring.Enabled {
		router.GET("/metrics", metricsHandler.GetMetrics)
	}

	api := router.Group("/api")
	{
		api.GET("/ws", hub.HandleWebSocket)
		api.GET("/automations/metrics", metricsHandler.GetAutomationMetrics)
		handlers.RegisterAutomationRoutes(api, handlers.NewAutomationHandler(a.engine, a.rules, logrus.StandardLogger()))
		api.GET("/boards/:id/notifications", handlers.NewNotificationHandler(a.store).ListBoardNotifications)
	}

	return router
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
