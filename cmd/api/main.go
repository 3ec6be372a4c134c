package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/planlab/planner-orchestrator/internal/auth"
	"github.com/planlab/planner-orchestrator/internal/config"
	"github.com/planlab/planner-orchestrator/internal/gateway"
	"github.com/planlab/planner-orchestrator/internal/llm"
	"github.com/planlab/planner-orchestrator/internal/logging"
	"github.com/planlab/planner-orchestrator/internal/metrics"
	"github.com/planlab/planner-orchestrator/internal/planner"

	_ "github.com/planlab/planner-orchestrator/docs" // swagger docs
)

// @title Planner Orchestrator API
// @version 1.0
// @description Research plan service: per-section editing, toggle-driven visibility, AI feedback, and section chat.
// @description
// @description Plans are stored server-side; feedback rounds and chat turns run against an OpenAI-compatible completion service.

// @contact.name API Support
// @contact.email support@planlab.dev

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the JWT token.

func main() {
	cfg := config.Load()

	logger := logging.New(cfg.App.LogFilePath, cfg.App.Environment == "production")
	defer logger.Sync()

	if err := initTracer(); err != nil {
		logger.Fatal("failed to initialize tracer", zap.Error(err))
	}

	// Connect to PostgreSQL with retry logic
	logger.Info("connecting to PostgreSQL database")
	var pool *pgxpool.Pool
	var err error
	for i := 0; i < 10; i++ {
		pool, err = pgxpool.New(context.Background(), cfg.Database.URL)
		if err == nil {
			err = pool.Ping(context.Background())
			if err == nil {
				break
			}
		}
		logger.Warn("waiting for database", zap.Int("attempt", i+1), zap.Error(err))
		time.Sleep(3 * time.Second)
	}
	if err != nil {
		logger.Fatal("failed to connect to database after retries", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("connected to PostgreSQL database")

	// Completion client and feedback orchestrator
	completionClient := llm.NewClient(cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.Model, cfg.AI.Timeout, logger)
	feedbackMode := planner.ParseFeedbackMode(cfg.AI.FeedbackMode)
	orchestrator := planner.NewFeedbackOrchestrator(completionClient, feedbackMode, logger)

	feedbackMetrics, err := metrics.NewFeedbackMetrics()
	if err != nil {
		logger.Fatal("failed to initialize metrics", zap.Error(err))
	}

	defs := planner.DefaultDefinitions()
	plannerService := planner.NewService(pool, defs, orchestrator, completionClient, feedbackMetrics, logger)

	if err := plannerService.EnsureSchema(context.Background()); err != nil {
		logger.Fatal("failed to ensure database schema", zap.Error(err))
	}

	jwtManager, err := auth.NewJWTManager(cfg.Auth.JWTSecret)
	if err != nil {
		logger.Fatal("failed to initialize JWT manager", zap.Error(err))
	}

	gatewayHandler := gateway.NewHandler(plannerService, jwtManager, pool, cfg.Auth.TokenDuration, logger)
	chatStream := gateway.NewChatStream(plannerService, logger)

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLoggingMiddleware(logger))

	// Health checks at the root for the WebService standard
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	router.GET("/ready", func(c *gin.Context) {
		if err := pool.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"error":  "database connection failed",
			})
			return
		}
		status := gin.H{"status": "ready"}
		if !completionClient.IsHealthy(c.Request.Context()) {
			status["ai"] = "degraded"
		}
		c.JSON(http.StatusOK, status)
	})

	// Swagger documentation (public)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := router.Group("/api")

	// Public routes
	api.POST("/auth/login", gatewayHandler.Login)
	api.GET("/definitions", gatewayHandler.GetDefinitions)

	// Protected routes (require JWT authentication)
	protected := api.Group("")
	protected.Use(auth.RequireAuth(jwtManager, logger))

	// Plan routes
	protected.POST("/plans", gatewayHandler.CreatePlan)
	protected.GET("/plans", gatewayHandler.ListPlans)
	protected.GET("/plans/:id", gatewayHandler.GetPlan)
	protected.DELETE("/plans/:id", gatewayHandler.DeletePlan)
	protected.POST("/plans/:id/reset", gatewayHandler.ResetPlan)
	protected.POST("/plans/:id/import", gatewayHandler.ImportPlan)
	protected.GET("/plans/:id/export", gatewayHandler.ExportPlan)

	// Section routes
	protected.PUT("/plans/:id/sections/:sectionId", gatewayHandler.UpdateSection)
	protected.PUT("/plans/:id/toggles/:group", gatewayHandler.SetToggle)

	// AI routes
	protected.POST("/plans/:id/feedback", gatewayHandler.RequestFeedback)
	protected.POST("/plans/:id/sections/:sectionId/chat", gatewayHandler.Chat)
	protected.GET("/ws/plans/:id/chat", chatStream.Stream)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.App.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // Feedback rounds block on the completion service
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting planner orchestrator API server", zap.String("port", cfg.App.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}

// initTracer initializes OpenTelemetry tracing
func initTracer() error {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(tp)

	return nil
}

// requestLoggingMiddleware logs every request with zap
func requestLoggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Int64("latency_ms", time.Since(start).Milliseconds()),
			zap.String("client_ip", c.ClientIP()),
		}
		if userID, ok := c.Get(auth.ContextUserIDKey); ok {
			fields = append(fields, zap.Any("user_id", userID))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		logger.Info("request", fields...)
	}
}
