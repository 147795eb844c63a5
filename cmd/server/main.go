package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ticket-resale/config"
	"ticket-resale/internal/api"
	"ticket-resale/internal/auth"
	"ticket-resale/internal/broker"
	"ticket-resale/internal/redisclient"
	"ticket-resale/internal/service"
	"ticket-resale/internal/store"
	"ticket-resale/internal/store/memstore"
	"ticket-resale/internal/util"
	"ticket-resale/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting ticket resale service")

	tp, err := util.InitTracer("ticket-resale", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	var st store.Transactor
	switch cfg.Database.Driver {
	case "memory":
		st = memstore.New()
		logger.Warn("Using in-memory store, data is lost on restart")
	default:
		db, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		if cfg.Database.AutoMigrate {
			if err := db.Migrate(context.Background()); err != nil {
				log.Fatalf("Failed to migrate database: %v", err)
			}
		}
		st = db
		log.Println("Database connected")
	}

	// Redis backs idempotency, the blacklist gate and the sweep lock. Without it
	// each degrades to its store-only behaviour.
	var (
		idempotency service.IdempotencyStore
		blacklist   service.BlacklistCache
		locker      worker.Locker
	)
	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, continuing without it", zap.Error(err))
	} else {
		defer redisClient.Close()
		idempotency, blacklist, locker = redisClient, redisClient, redisClient
		log.Println("Redis connected")
	}

	var sink broker.Sink = broker.NopSink{}
	if cfg.Kafka.PublishEnabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicMarketplace)
		defer producer.Close()
		sink = producer
		log.Println("Kafka producer initialized")
	}
	eventPublisher := broker.NewEventPublisher(sink)

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenLeewaySec)*time.Second)
	if err != nil {
		log.Fatalf("Failed to initialize token verifier: %v", err)
	}

	limits := service.Limits{
		PaymentWindow:      cfg.Business.PaymentWindow(),
		MaxItemsPerListing: cfg.Business.MaxItemsPerListing,
		MaxItemsPerOrder:   cfg.Business.MaxItemsPerOrder,
	}
	listingService := service.NewListingService(st, nil, eventPublisher, limits)
	orderService := service.NewOrderService(st, idempotency, eventPublisher, limits, cfg.Business.IdempotencyTTL())
	caseService := service.NewCaseService(st, eventPublisher)
	userService := service.NewUserService(st, blacklist, eventPublisher, cfg.Auth.BlacklistTTL)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	expiryWorker := worker.NewExpiryWorker(orderService, listingService, locker, cfg.Business.SweepInterval())
	go func() {
		if err := expiryWorker.Start(workerCtx); err != nil && err != context.Canceled {
			log.Printf("Expiry worker error: %v", err)
		}
	}()

	var identityWorker *worker.IdentityWorker
	if cfg.Kafka.IdentityConsumerOn {
		identityConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicIdentity, cfg.Kafka.IdentityGroup)
		identityWorker = worker.NewIdentityWorker(identityConsumer, userService)
		go func() {
			if err := identityWorker.Start(workerCtx); err != nil && err != context.Canceled {
				log.Printf("Identity worker error: %v", err)
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Deps{
		Listings:     listingService,
		Orders:       orderService,
		Cases:        caseService,
		Users:        userService,
		Verifier:     verifier,
		Store:        st,
		OperatorRole: cfg.Auth.OperatorRole,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	if identityWorker != nil {
		if err := identityWorker.Stop(); err != nil {
			log.Printf("Error stopping identity worker: %v", err)
		}
	}

	log.Println("Server exited")
}
