package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"storefront-service/config"
	"storefront-service/consumers"
	"storefront-service/controllers"
	"storefront-service/database"
	"storefront-service/idempotency"
	"storefront-service/middlewares"
	"storefront-service/rabbitmq"
	"storefront-service/services"
	"storefront-service/store"
)

func main() {
	cfg := config.LoadConfig()

	if err := database.InitDB(cfg); err != nil {
		log.Fatalf("Database initialization failed: %v", err)
	}
	defer database.CloseDB()
	st := store.New(database.DB)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Invalid REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	keys := idempotency.NewRedisStore(rdb, cfg.IdempotencyTTL, cfg.IdempotencyTTL)

	rmq, err := rabbitmq.NewRabbitMQ(cfg)
	if err != nil {
		log.Fatalf("RabbitMQ initialization failed: %v", err)
	}
	defer rmq.Close()

	if err := rmq.SetupQueues(); err != nil {
		log.Fatalf("Failed to setup RabbitMQ queues: %v", err)
	}

	orderService := services.NewOrderService(st, rmq)
	controllers.SetPlacementService(services.NewPlacementService(st, rmq, keys, services.PlacementConfig{
		Timeout:           cfg.PlacementTimeout,
		PaymentCheckDelay: cfg.PaymentCheckDelay,
	}))
	controllers.SetOrderService(orderService)
	controllers.SetCartService(services.NewCartService(st))
	controllers.SetCatalogService(services.NewCatalogService(st))

	if err := consumers.NewOrderConsumer(orderService).Start(rmq.Channel, cfg); err != nil {
		log.Fatalf("Failed to register consumer: %v", err)
	}

	r := gin.Default()
	r.Use(middlewares.RequestID())
	r.Use(middlewares.PrometheusMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/api/products", controllers.ListProducts)
	r.GET("/api/products/:id", controllers.GetProduct)

	authGroup := r.Group("/api")
	authGroup.Use(middlewares.AuthMiddleware(cfg.JWTSecret))
	{
		authGroup.GET("/cart", controllers.GetCart)
		authGroup.POST("/cart", controllers.AddToCart)
		authGroup.PUT("/cart/:id", controllers.UpdateCartItem)
		authGroup.DELETE("/cart/:id", controllers.RemoveCartItem)

		authGroup.POST("/orders", controllers.CreateOrder)
		authGroup.GET("/orders", controllers.GetUserOrders)
		authGroup.GET("/orders/:id", controllers.GetOrderDetails)
	}

	adminGroup := authGroup.Group("/admin")
	adminGroup.Use(middlewares.AdminMiddleware())
	{
		adminGroup.GET("/orders", controllers.ListAllOrders)
		adminGroup.PUT("/orders/:id/status", controllers.UpdateOrderStatus)
		adminGroup.PUT("/products/:id/stock", controllers.UpdateProductStock)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Storefront service starting on port %s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Printf("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown failed: %v", err)
	}
}
