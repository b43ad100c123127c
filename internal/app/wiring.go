// Package app builds the shared dependencies of the server and worker
// binaries from configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"ticket-service/config"
	"ticket-service/internal/notify"
	"ticket-service/internal/payment"
	"ticket-service/internal/store"
	"ticket-service/internal/store/memstore"
	"ticket-service/internal/util"

	"go.uber.org/zap"
)

// Closer releases a resource on shutdown.
type Closer func()

// InitObservability sets up the logger and, when enabled, the tracer.
func InitObservability(cfg *config.Config, component string) (Closer, error) {
	if err := util.InitLogger(cfg.Server.Env, component); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if !cfg.Observ.TracingEnabled {
		return util.SyncLogger, nil
	}

	tp, err := util.InitTracer(util.TracerConfig{
		ServiceName:    "ticket-" + component,
		Environment:    cfg.Server.Env,
		JaegerEndpoint: cfg.Observ.JaegerEndpoint,
		SampleRatio:    cfg.Observ.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			util.GetLogger().Warn("Error shutting down tracer", zap.Error(err))
		}
		util.SyncLogger()
	}, nil
}

// OpenRepository opens the store selected by STORE_DRIVER.
func OpenRepository(ctx context.Context, cfg config.DatabaseConfig) (store.Repository, error) {
	logger := util.GetLogger()

	switch cfg.Driver {
	case "postgres":
		db, err := store.NewStore(cfg.URL, cfg.MaxConns, cfg.MinConns)
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			if err := db.Migrate(ctx); err != nil {
				db.Close()
				return nil, err
			}
		}
		logger.Info("Database connected")
		return db, nil
	case "memory":
		logger.Warn("Using in-memory store, data is lost on restart")
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.Driver)
	}
}

// NewGateway returns the payment gateway selected by PAYMENT_GATEWAY.
func NewGateway(cfg config.PaymentConfig) (payment.Gateway, error) {
	switch cfg.Gateway {
	case "razorpay":
		if cfg.KeyID == "" {
			return nil, fmt.Errorf("RAZORPAY_KEY_ID is required for the razorpay gateway")
		}
		return payment.NewRazorpayClient(cfg.KeyID, cfg.KeySecret, cfg.BaseURL, util.GetLogger()), nil
	case "mock":
		util.GetLogger().Warn("Using mock payment gateway")
		return payment.NewMockGateway(cfg.KeySecret), nil
	default:
		return nil, fmt.Errorf("unknown PAYMENT_GATEWAY %q", cfg.Gateway)
	}
}

// NewOpsNotifier returns a Telegram notifier, or a log notifier when no bot
// is configured.
func NewOpsNotifier(cfg config.TelegramConfig) notify.OpsNotifier {
	logger := util.GetLogger()
	if cfg.Token == "" {
		return notify.NewLogNotifier(logger)
	}
	n, err := notify.NewTelegramNotifier(cfg.Token, cfg.OpsChatID)
	if err != nil {
		logger.Warn("Telegram unavailable, alerts go to the log", zap.Error(err))
		return notify.NewLogNotifier(logger)
	}
	return n
}
