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

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"ms-tokenomy/internal/auth"
	"ms-tokenomy/internal/balance"
	"ms-tokenomy/internal/config"
	"ms-tokenomy/internal/kafka"
	"ms-tokenomy/internal/ledger"
	ledgerapi "ms-tokenomy/internal/ledger/api"
	"ms-tokenomy/internal/ledger/report"
	"ms-tokenomy/internal/logger"
	"ms-tokenomy/internal/mint"
	mintapi "ms-tokenomy/internal/mint/api"
	mintdb "ms-tokenomy/internal/mint/db"
	"ms-tokenomy/internal/mint/storage"
	"ms-tokenomy/internal/perks"
	perksapi "ms-tokenomy/internal/perks/api"
	"ms-tokenomy/internal/perks/qr"
	settlementdb "ms-tokenomy/internal/settlement/db"
	"ms-tokenomy/internal/voting"
	votingapi "ms-tokenomy/internal/voting/api"
)

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting Engagement Service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	ctx := context.Background()

	connector := pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN))
	sqldb := sql.OpenDB(connector)
	defer sqldb.Close()

	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
	}
	log.Info("DATABASE", "✅ PostgreSQL connection successful")
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}
	defer redisClient.Close()
	log.Info("DATABASE", fmt.Sprintf("✅ Redis connection successful to %s", cfg.Redis.Addr))

	producer := kafka.NewProducer(cfg.Kafka.Brokers, log, cfg.Kafka.MockMode)
	defer producer.Close()

	// Remint publishes mint outcomes from this process too.
	for _, topic := range []string{cfg.Kafka.Topics.MintsSucceeded, cfg.Kafka.Topics.MintsFailed} {
		if err := kafka.CreateTopicIfNotExists(cfg.Kafka.Brokers, topic); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed for %s: %v", topic, err))
		}
	}

	ledgerStore := ledger.NewStore(bunDB)
	reportService := report.NewService(ledgerStore)
	orderStore := &settlementdb.DB{Bun: bunDB}

	chainClient := mint.NewHTTPChainClient(
		cfg.Chain.BaseURL,
		cfg.Chain.ChainID,
		&http.Client{Timeout: cfg.Chain.Timeout},
		log,
	)
	oracle := balance.NewOracle(chainClient, redisClient, cfg.Perks.BalanceCacheTTL, log)

	if cfg.Perks.QRSecret == "" {
		log.Fatal("CONFIG", "QR_SECRET_KEY not set")
	}
	qrGen := qr.NewQRGenerator(cfg.Perks.QRSecret)

	perkService := perks.NewService(perks.NewDB(bunDB), orderStore, ledgerStore, oracle, qrGen, log)
	voteService := voting.NewService(voting.NewDB(bunDB), log)

	reconStore, err := storage.NewPostgreSQLStoreWithDB(bunDB.DB, log)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to initialize reconciliation storage: %v", err))
	}

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

	ledgerHandler := &ledgerapi.Handler{Ledger: ledgerStore, Reports: reportService, Logger: log}
	perkHandler := &perksapi.Handler{Service: perkService}
	voteHandler := &votingapi.Handler{Service: voteService}
	mintHandler := &mintapi.Handler{Service: mintService, Recon: reconStore}

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Auth.OIDCIssuer))
		log.Info("AUTH", "OIDC middleware applied to protected API routes")

		r.Route("/api", func(r chi.Router) {
			r.Route("/perks", func(r chi.Router) {
				r.Get("/", perkHandler.ListPerks)
				r.Post("/{perkID}/claim", perkHandler.ClaimPerk)

				r.Group(func(r chi.Router) {
					r.Use(auth.RequireRole(auth.RoleAdmin))
					r.Post("/", perkHandler.CreatePerk)
					r.Patch("/{perkID}/active", perkHandler.SetActive)
					r.Delete("/{perkID}", perkHandler.DeletePerk)
				})
			})
			log.Info("ROUTER", "Perk routes registered under /api/perks")

			r.Route("/claims", func(r chi.Router) {
				r.Get("/", perkHandler.MyClaims)
				r.Get("/{claimID}/qr", perkHandler.ClaimQR)

				r.Group(func(r chi.Router) {
					r.Use(auth.RequireRole(auth.RoleStaff))
					r.Post("/redeem", perkHandler.Redeem)
				})
			})
			log.Info("ROUTER", "Claim routes registered under /api/claims")

			r.Route("/votes", func(r chi.Router) {
				r.Get("/", voteHandler.ListVotes)
				r.Get("/{voteID}", voteHandler.GetVote)
				r.Get("/{voteID}/results", voteHandler.Results)
				r.Post("/{voteID}/ballots", voteHandler.CastBallot)

				r.Group(func(r chi.Router) {
					r.Use(auth.RequireRole(auth.RoleAdmin))
					r.Post("/", voteHandler.CreateVote)
					r.Post("/{voteID}/close", voteHandler.CloseVote)
					r.Delete("/{voteID}/options/{optionID}", voteHandler.RemoveOption)
				})
			})
			log.Info("ROUTER", "Voting routes registered under /api/votes")

			r.Route("/ledger", func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin))
				r.Get("/entries", ledgerHandler.ListEntries)
				r.Get("/reference/{referenceID}", ledgerHandler.EntriesByReference)
				r.Get("/summary", ledgerHandler.Summary)
				r.Get("/export", ledgerHandler.ExportCSV)
				r.Post("/adjustments", ledgerHandler.CreateAdjustment)
			})
			log.Info("ROUTER", "Ledger routes registered under /api/ledger")

			r.Route("/mints", func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin))
				r.Get("/{orderID}", mintHandler.GetMint)
				r.Get("/ambiguous", mintHandler.ListAmbiguous)
				r.Post("/{orderID}/remint", mintHandler.Remint)
			})
			log.Info("ROUTER", "Mint admin routes registered under /api/mints")
		})
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Engagement Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	}

	log.Info("APP", "✅ Server exited gracefully")
}
