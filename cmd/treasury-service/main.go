package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"ms-tokenomy/internal/config"
	"ms-tokenomy/internal/kafka"
	"ms-tokenomy/internal/ledger"
	"ms-tokenomy/internal/logger"
	"ms-tokenomy/internal/mint"
	mintdb "ms-tokenomy/internal/mint/db"
	"ms-tokenomy/internal/mint/storage"
	"ms-tokenomy/internal/settlement"
	settlementapi "ms-tokenomy/internal/settlement/api"
	settlementdb "ms-tokenomy/internal/settlement/db"
	settlementredis "ms-tokenomy/internal/settlement/redis"
	"ms-tokenomy/internal/utils"
)

func connectPostgres(cfg *config.Config, log *logger.Logger) *bun.DB {
	connector := pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN))
	sqldb := sql.OpenDB(connector)
	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	maxRetries := 5
	var err error
	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		if err = sqldb.Ping(); err == nil {
			break
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	log.Info("DATABASE", "✅ PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New())
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting Treasury Service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bunDB := connectPostgres(cfg, log)
	defer bunDB.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}
	defer redisClient.Close()
	log.Info("DATABASE", fmt.Sprintf("✅ Redis connection successful to %s", cfg.Redis.Addr))

	producer := kafka.NewProducer(cfg.Kafka.Brokers, log, cfg.Kafka.MockMode)
	defer producer.Close()

	requiredTopics := []string{
		cfg.Kafka.Topics.OrdersSettled,
		cfg.Kafka.Topics.MintsSucceeded,
		cfg.Kafka.Topics.MintsFailed,
	}
	if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, requiredTopics); err != nil {
		log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
	} else {
		log.Info("KAFKA", "Required topics ensured successfully")
	}

	gateway, err := settlement.NewStripeGateway(
		cfg.Stripe.SecretKey,
		cfg.Stripe.WebhookSecret,
		cfg.Stripe.SuccessURL,
		cfg.Stripe.CancelURL,
		log,
	)
	if err != nil {
		log.Fatal("STRIPE", fmt.Sprintf("Failed to initialize Stripe gateway: %v", err))
	}

	orderStore := &settlementdb.DB{Bun: bunDB}
	ledgerStore := ledger.NewStore(bunDB)
	guard := settlementredis.NewGuard(redisClient, log)

	settleService := settlement.NewService(
		orderStore,
		ledgerStore,
		gateway,
		producer,
		guard,
		cfg.Kafka.Topics.OrdersSettled,
		log,
	)

	reconStore, err := storage.NewPostgreSQLStoreWithDB(bunDB.DB, log)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to initialize reconciliation storage: %v", err))
	}

	chainClient := mint.NewHTTPChainClient(
		cfg.Chain.BaseURL,
		cfg.Chain.ChainID,
		&http.Client{Timeout: cfg.Chain.Timeout},
		log,
	)

	mintService := &mint.Service{
		DB:           &mintdb.DB{Bun: bunDB},
		Orders:       orderStore,
		Ledger:       ledgerStore,
		Chain:        chainClient,
		Recon:        reconStore,
		Producer:     producer,
		ChainID:      cfg.Chain.ChainID,
		Timeout:      cfg.Chain.Timeout,
		SuccessTopic: cfg.Kafka.Topics.MintsSucceeded,
		FailureTopic: cfg.Kafka.Topics.MintsFailed,
		Logger:       log,
	}

	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.OrdersSettled, cfg.Kafka.GroupID, log)
		defer consumer.Close()
		go consumer.Start(ctx, mintService.HandleOrderSettled)
		log.Info("KAFKA", fmt.Sprintf("Mint consumer started on %s", cfg.Kafka.Topics.OrdersSettled))
	} else {
		log.Warn("KAFKA", "Kafka disabled, settled orders will not be minted automatically")
	}

	handler := settlementapi.NewHandler(settleService, gateway, log)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, utils.SuccessResponse("Treasury service healthy", nil))
	})

	api := router.Group("/api/treasury")
	{
		api.POST("/checkout", handler.CreateCheckout)
		api.GET("/orders", handler.ListMyOrders)
		api.GET("/orders/:orderID", handler.GetOrder)
		api.POST("/webhooks/stripe", handler.Webhook)
	}

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Treasury Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	cancel()

	ctxShutdown, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	}

	log.Info("APP", "✅ Server exited gracefully")
}
