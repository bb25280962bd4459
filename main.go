package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gamestore-svc/cache"
	"gamestore-svc/database"
	"gamestore-svc/fulfillment"
	"gamestore-svc/handlers"
	"gamestore-svc/kafka"
	"gamestore-svc/middleware"
	"gamestore-svc/store"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize database
	db, err := database.InitDB(logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Initialize Redis
	redisClient, err := cache.InitRedis(logger)
	if err != nil {
		logger.Fatal("Failed to initialize Redis", zap.Error(err))
	}
	defer redisClient.Close()

	// Initialize Kafka producer
	producer, err := kafka.InitProducer(logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
	}
	defer producer.Close()

	// Initialize OpenTelemetry
	shutdown, err := middleware.InitTracing("gamestore-service")
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer shutdown()

	// Wire the fulfillment engine
	catalog := store.NewCatalogStore(db)
	accounts := store.NewAccountStore(db)
	ledger := store.NewOrderLedger(db)
	events := kafka.NewOrderEventSink(producer, logger)
	engine := fulfillment.NewEngine(catalog, accounts, ledger, fulfillment.NewSimulatedProcessor(), events, logger)
	engine.GrantFailure = middleware.RecordLibraryGrantFailure

	// Setup REST API with Gin
	router := gin.New()
	router.Use(gin.Recovery())
	// OpenTelemetry middleware must be first to extract trace context
	router.Use(otelgin.Middleware("gamestore-service"))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	// Health check endpoint
	router.GET("/health", handlers.HealthCheck)

	// Metrics endpoint
	router.GET("/metrics", middleware.PrometheusHandler())

	authHandler := handlers.NewAuthHandler(db, logger)
	gameHandler := handlers.NewGameHandler(db, logger)
	orderHandler := handlers.NewOrderHandler(engine, ledger, logger)
	reviewHandler := handlers.NewReviewHandler(db, logger)
	userHandler := handlers.NewUserHandler(db, accounts, logger)

	api := router.Group("/api")

	auth := api.Group("/auth")
	auth.Use(middleware.RateLimitMiddleware(redisClient, logger, time.Minute, 20))
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)
	auth.GET("/me", middleware.AuthMiddleware(), authHandler.Me)
	auth.PUT("/password", middleware.AuthMiddleware(), authHandler.ChangePassword)

	games := api.Group("/games")
	games.Use(middleware.OptionalAuthMiddleware())
	games.GET("", gameHandler.ListGames)
	games.GET("/featured", gameHandler.FeaturedGames)
	games.GET("/popular", gameHandler.PopularGames)
	games.GET("/new-releases", gameHandler.NewReleases)
	games.GET("/:id", gameHandler.GetGame)
	games.POST("", middleware.AuthMiddleware(), middleware.AdminMiddleware(), gameHandler.CreateGame)
	games.PUT("/:id", middleware.AuthMiddleware(), middleware.AdminMiddleware(), gameHandler.UpdateGame)
	games.DELETE("/:id", middleware.AuthMiddleware(), middleware.AdminMiddleware(), gameHandler.DeleteGame)

	users := api.Group("/users")
	users.GET("/:id", userHandler.GetProfile)
	users.PUT("/profile", middleware.AuthMiddleware(), userHandler.UpdateProfile)
	users.GET("/library", middleware.AuthMiddleware(), userHandler.GetLibrary)
	users.GET("/wishlist", middleware.AuthMiddleware(), userHandler.GetWishlist)
	users.POST("/wishlist/:gameId", middleware.AuthMiddleware(), userHandler.ToggleWishlist)

	reviews := api.Group("/reviews")
	reviews.GET("/game/:gameId", reviewHandler.ListGameReviews)
	reviews.GET("/user/:userId", reviewHandler.ListUserReviews)
	reviews.POST("", middleware.AuthMiddleware(), reviewHandler.CreateReview)
	reviews.PUT("/:id", middleware.AuthMiddleware(), reviewHandler.UpdateReview)
	reviews.DELETE("/:id", middleware.AuthMiddleware(), reviewHandler.DeleteReview)
	reviews.POST("/:id/vote", middleware.AuthMiddleware(), reviewHandler.VoteReview)
	reviews.POST("/:id/report", middleware.AuthMiddleware(), reviewHandler.ReportReview)

	orders := api.Group("/orders")
	orders.Use(middleware.AuthMiddleware())
	orders.POST("", orderHandler.CreateOrder)
	orders.GET("", orderHandler.ListOrders)
	orders.GET("/:id", orderHandler.GetOrder)
	orders.POST("/:id/refund", orderHandler.RequestRefund)

	admin := api.Group("/admin")
	admin.Use(middleware.AuthMiddleware(), middleware.AdminMiddleware())
	admin.GET("/orders", orderHandler.AdminListOrders)
	admin.PUT("/orders/:id/status", orderHandler.UpdateOrderStatus)
	admin.GET("/orders/stats", orderHandler.OrderStats)
	admin.GET("/users", userHandler.AdminListUsers)
	admin.PUT("/users/:id/role", userHandler.UpdateUserRole)
	admin.PUT("/users/:id/status", userHandler.UpdateUserStatus)
	admin.GET("/reviews/reported", reviewHandler.ReportedReviews)
	admin.PUT("/reviews/:id/moderate", reviewHandler.ModerateReview)

	srv := &http.Server{
		Addr:    ":" + getEnv("PORT", "8080"),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Game store service started", zap.String("addr", srv.Addr))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
