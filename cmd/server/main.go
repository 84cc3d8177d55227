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

	"pos-ledger/config"
	"pos-ledger/internal/api"
	"pos-ledger/internal/broker"
	"pos-ledger/internal/redisclient"
	"pos-ledger/internal/service"
	"pos-ledger/internal/store"
	"pos-ledger/internal/util"
	"pos-ledger/internal/worker"

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
	logger.Info("Starting POS ledger service")

	tp, err := util.InitTracer(cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	if tp != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				log.Printf("Error shutting down tracer: %v", err)
			}
		}()
	}

	db, err := store.NewStore(cfg.Database.Driver, cfg.Database.URL, cfg.Business.LockTimeout)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	deps := map[string]api.Pinger{"database": db}

	var idempotency service.IdempotencyCache
	if cfg.Redis.Enabled {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		idempotency = redisClient
		deps["redis"] = redisClient
		log.Println("Redis connected")
	}

	var publisher service.EventPublisher = service.NoopPublisher
	var producer *broker.Producer
	if cfg.Kafka.Enabled {
		producer = broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicSales)
		defer producer.Close()
		publisher = broker.NewEventPublisher(producer)
		log.Println("Kafka producer initialized")
	}

	recorder := service.NewLedgerPaymentRecorder(db, cfg.Business.PaymentRetries, cfg.Business.PaymentRetryBackoff)
	saleService := service.NewSaleService(db, db, recorder, publisher, idempotency, cfg.Business.IdempotencyTTL)
	cancellationService := service.NewCancellationService(db, recorder, publisher)
	inventoryService := service.NewInventoryService(db)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var reconciliationWorker *worker.ReconciliationWorker
	if cfg.Kafka.Enabled {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicSales, cfg.Kafka.ConsumerGroup)
		reconciler := service.NewPaymentReconciler(db, recorder)
		reconciliationWorker = worker.NewReconciliationWorker(consumer, reconciler, 5*time.Second)
		go func() {
			if err := reconciliationWorker.Start(workerCtx); err != nil && err != context.Canceled {
				logger.Error("Reconciliation worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(saleService, cancellationService, inventoryService, deps)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           api.WithCORS(router, cfg.Server.CORSAllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
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
	if reconciliationWorker != nil {
		reconciliationWorker.Stop()
	}

	log.Println("Server exited")
}
