package worker

import (
	"context"
	"time"

	"ticket-service/internal/broker"
	"ticket-service/internal/delivery"
	"ticket-service/internal/service"
	"ticket-service/internal/util"

	"go.uber.org/zap"
)

// CompensationWorker consumes booking events and settles refunds.
type CompensationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewCompensationWorker creates a new compensation worker
func NewCompensationWorker(consumer *broker.Consumer, compensator *service.Compensator) *CompensationWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnPaymentOrphaned(compensator.HandlePaymentOrphaned)
	eventHandler.OnBookingRefunded(compensator.HandleBookingRefunded)

	return &CompensationWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start starts the worker
func (w *CompensationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting compensation worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *CompensationWorker) Stop() error {
	w.logger.Info("Stopping compensation worker")
	return w.consumer.Close()
}

// DeliveryWorker consumes ticket delivery jobs from RabbitMQ.
type DeliveryWorker struct {
	consumer *delivery.Consumer
	service  *service.DeliveryService
	logger   *zap.Logger
}

// NewDeliveryWorker creates a new delivery worker
func NewDeliveryWorker(consumer *delivery.Consumer, svc *service.DeliveryService) *DeliveryWorker {
	return &DeliveryWorker{
		consumer: consumer,
		service:  svc,
		logger:   util.GetLogger(),
	}
}

// Start runs until ctx is cancelled.
func (w *DeliveryWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting delivery worker")
	return w.consumer.Run(ctx, w.service.Process)
}

// Sweeper is a periodic batch job.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Ticker runs a Sweeper on a fixed interval.
type Ticker struct {
	name     string
	sweeper  Sweeper
	interval time.Duration
	logger   *zap.Logger
}

// NewTicker creates a ticker for sweeper.
func NewTicker(name string, sweeper Sweeper, interval time.Duration) *Ticker {
	return &Ticker{
		name:     name,
		sweeper:  sweeper,
		interval: interval,
		logger:   util.GetLogger(),
	}
}

// Start sweeps once immediately and then every interval until ctx ends.
func (t *Ticker) Start(ctx context.Context) error {
	t.logger.Info("Starting sweeper", zap.String("name", t.name), zap.Duration("interval", t.interval))

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		t.runOnce(ctx)
		select {
		case <-ctx.Done():
			t.logger.Info("Stopping sweeper", zap.String("name", t.name))
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (t *Ticker) runOnce(ctx context.Context) {
	n, err := t.sweeper.Sweep(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		t.logger.Error("Sweep failed", zap.String("name", t.name), zap.Error(err))
		return
	}
	if n > 0 {
		t.logger.Debug("Sweep done", zap.String("name", t.name), zap.Int("count", n))
	}
}
