package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"ticket-service/config"
	"ticket-service/internal/app"
	"ticket-service/internal/broker"
	"ticket-service/internal/delivery"
	"ticket-service/internal/notify"
	"ticket-service/internal/redisclient"
	"ticket-service/internal/service"
	"ticket-service/internal/storage"
	"ticket-service/internal/ticketpass"
	"ticket-service/internal/util"
	"ticket-service/internal/worker"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	shutdown, err := app.InitObservability(cfg, "worker")
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer shutdown()

	logger := util.GetLogger()
	logger.Info("Starting ticket worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	gateway, err := app.NewGateway(cfg.Payment)
	if err != nil {
		logger.Fatal("Failed to set up payment gateway", zap.Error(err))
	}

	var passes service.PassStore
	if cfg.AWS.PassesBucket != "" {
		s3, err := storage.NewS3(ctx, storage.S3Config{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			PassesBucket:    cfg.AWS.PassesBucket,
			PresignExpire:   cfg.AWS.PresignExpire,
		}, logger)
		if err != nil {
			logger.Warn("S3 unavailable, passes are not uploaded", zap.Error(err))
		} else {
			passes = s3
		}
	}

	senders := notify.NewLogSender(logger)
	compensator := service.NewCompensator(repo, gateway, app.NewOpsNotifier(cfg.Telegram))
	deliveries := service.NewDeliveryService(repo,
		ticketpass.NewSigner(cfg.Payment.QRSecret, cfg.Payment.QRMaxAge),
		passes, senders, senders, redisClient)

	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicBooking, cfg.Kafka.ConsumerGroup)
	compensationWorker := worker.NewCompensationWorker(consumer, compensator)
	deliveryWorker := worker.NewDeliveryWorker(delivery.NewConsumer(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, logger), deliveries)

	var wg sync.WaitGroup
	run := func(name string, start func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("Worker stopped", zap.String("worker", name), zap.Error(err))
			}
		}()
	}

	run("compensation", compensationWorker.Start)
	run("delivery", deliveryWorker.Start)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down workers...")
	cancel()

	if err := compensationWorker.Stop(); err != nil {
		logger.Error("Error closing Kafka consumer", zap.Error(err))
	}
	wg.Wait()

	logger.Info("Workers exited")
}
