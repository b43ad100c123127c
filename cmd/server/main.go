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

	"ticket-service/config"
	"ticket-service/internal/api"
	"ticket-service/internal/app"
	"ticket-service/internal/auth"
	"ticket-service/internal/broker"
	"ticket-service/internal/delivery"
	"ticket-service/internal/redisclient"
	"ticket-service/internal/service"
	"ticket-service/internal/ticketpass"
	"ticket-service/internal/util"
	"ticket-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	shutdown, err := app.InitObservability(cfg, "server")
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer shutdown()

	logger := util.GetLogger()
	logger.Info("Starting ticket service")

	ctx := context.Background()

	repo, err := app.OpenRepository(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer repo.Close()

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicBooking)
	defer producer.Close()
	logger.Info("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	deliveryQueue := delivery.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, logger)
	defer deliveryQueue.Close()

	gateway, err := app.NewGateway(cfg.Payment)
	if err != nil {
		logger.Fatal("Failed to set up payment gateway", zap.Error(err))
	}

	signer := ticketpass.NewSigner(cfg.Payment.QRSecret, cfg.Payment.QRMaxAge)
	couponService := service.NewCouponService(repo)
	bookingService := service.NewBookingService(repo, gateway, couponService, eventPublisher, deliveryQueue,
		service.BookingOptions{
			HoldTTL:  cfg.Booking.HoldTTL,
			Currency: cfg.Payment.Currency,
		})
	checkinService := service.NewCheckinService(repo, signer, redisClient, eventPublisher)

	holdReaper := service.NewHoldReaper(repo, eventPublisher, redisClient, cfg.Booking.HoldSweepBatch, cfg.Booking.HoldSweepInterval)
	reminders := service.NewReminderSweep(repo, deliveryQueue, redisClient, cfg.Booking.ReminderLead, cfg.Booking.HoldSweepBatch)
	refunds := service.NewRefundSweep(repo, eventPublisher, redisClient, cfg.Booking.RefundRetryGrace, cfg.Booking.HoldSweepBatch)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go func() {
		_ = worker.NewTicker("holds", holdReaper, cfg.Booking.HoldSweepInterval).Start(workerCtx)
	}()
	go func() {
		_ = worker.NewTicker("reminders", reminders, cfg.Booking.ReminderInterval).Start(workerCtx)
	}()
	go func() {
		_ = worker.NewTicker("refunds", refunds, cfg.Booking.RefundRetry).Start(workerCtx)
	}()

	if cfg.Server.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(bookingService, couponService, checkinService, auth.NewJWTService(cfg.Auth.JWTSecret),
		api.Options{
			RateLimitRPS:   cfg.Server.RateLimitRPS,
			RateLimitBurst: cfg.Server.RateLimitBurst,
			Logger:         logger,
			Ready: map[string]api.Pinger{
				"store": repo,
				"redis": redisClient,
			},
		})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Server.Port),
		ReadTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		// no write timeout: the check-in stream stays open
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Handler:        h2c.NewHandler(router, &http2.Server{}),
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()

	logger.Info("Server exited")
}
