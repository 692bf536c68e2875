package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/veltapay/payment-orchestrator/internal/conf"
	"github.com/veltapay/payment-orchestrator/internal/gateway"
	"github.com/veltapay/payment-orchestrator/internal/journal"
	"github.com/veltapay/payment-orchestrator/internal/logging"
	"github.com/veltapay/payment-orchestrator/internal/models"
	"github.com/veltapay/payment-orchestrator/internal/retry"
	"github.com/veltapay/payment-orchestrator/internal/services/manager"
)

func main() {
	cfg, err := conf.Load()
	if err != nil {
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel, cfg.LogPretty).With().
		Str("instance", cfg.InstanceName).Logger()

	mgr := manager.New(manager.Options{
		MetricsCapacity:  cfg.MetricsCapacity,
		FailureThreshold: cfg.FailureThreshold,
		RecoveryTimeout:  cfg.RecoveryTimeout,
	}, log)

	for _, gw := range demoGateways() {
		if err := mgr.RegisterGateway(gw); err != nil {
			log.Fatal().Err(err).Msg("gateway registration failed")
		}
		mgr.EnableFailover(gw.ID())
	}
	mgr.Failover.SetFallbackChain("stripe-primary", []string{"square-backup", "paypal-backup"})

	redisClient := journal.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatal().Err(err).Msg("redis unreachable")
	}
	cancel()
	defer redisClient.Close()

	jnl := journal.New(redisClient, log)
	queue := retry.NewQueue(redisClient, cfg.RetryQueueName, log)

	workers := retry.NewWorkers(cfg.RetryWorkers, queue, func(ctx context.Context, task retry.Task) error {
		return reprocess(ctx, mgr, jnl, queue, cfg.RetryDelay, task)
	}, log)

	mgr.Start()
	queue.StartRequeuer()
	workers.Start()
	log.Info().Msg("payment orchestrator running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	workers.Stop()
	queue.StopRequeuer()
	mgr.Shutdown()
}

// reprocess retries one queued payment against the best currently available
// gateway, journaling the outcome and re-parking the task on failure.
func reprocess(ctx context.Context, mgr *manager.Manager, jnl *journal.Journal, queue *retry.Queue, delay time.Duration, task retry.Task) error {
	gw, err := mgr.SelectBestGateway(task.Amount, task.Currency)
	if err != nil {
		return queue.EnqueueDelayed(ctx, task, delay)
	}

	req := models.NewPaymentRequest(task.CorrelationID, task.Amount, task.Currency)
	start := time.Now()
	result, err := gw.ProcessPayment(ctx, req)
	elapsed := time.Since(start)

	success := err == nil && result != nil && result.Success
	mgr.RecordOutcome(gw.ID(), success, elapsed, task.Amount)

	if jerr := jnl.Record(ctx, journal.Entry{
		CorrelationID: task.CorrelationID,
		GatewayID:     gw.ID(),
		Amount:        task.Amount,
		Currency:      task.Currency,
		Success:       success,
		ProcessedAt:   time.Now(),
	}); jerr != nil {
		return jerr
	}

	if !success {
		task.Attempt++
		return queue.EnqueueDelayed(ctx, task, delay)
	}
	return nil
}

// demoGateways builds the simulated adapters the standalone binary runs
// with. Real deployments register provider-specific adapters instead.
func demoGateways() []gateway.Gateway {
	configs := []models.GatewayConfig{
		{
			ID:       "stripe-primary",
			Provider: "stripe",
			Name:     "Stripe Primary",
			Priority: 100,
			Status:   models.GatewayStatusActive,
			Credentials: map[string]string{
				"apiKey": os.Getenv("STRIPE_API_KEY"),
			},
			Settings: models.GatewaySettings{
				SupportedCurrencies:     []string{"USD", "EUR", "GBP"},
				SupportedCountries:      []string{"US", "CA", "GB", "DE", "FR"},
				SupportedPaymentMethods: []string{"card", "wallet"},
				MaxAmount:               decimal.NewFromInt(50000),
				Features:                []string{"refunds", "webhooks"},
				ProcessingFee:           &models.ProcessingFee{Type: models.FeeTypePercentage, Value: decimal.NewFromFloat(2.9)},
			},
		},
		{
			ID:       "square-backup",
			Provider: "square",
			Name:     "Square Backup",
			Priority: 70,
			Status:   models.GatewayStatusActive,
			Credentials: map[string]string{
				"accessToken": os.Getenv("SQUARE_ACCESS_TOKEN"),
			},
			Settings: models.GatewaySettings{
				SupportedCurrencies:     []string{"USD", "CAD"},
				SupportedCountries:      []string{"US", "CA"},
				SupportedPaymentMethods: []string{"card"},
				MaxAmount:               decimal.NewFromInt(25000),
				Features:                []string{"refunds"},
				ProcessingFee:           &models.ProcessingFee{Type: models.FeeTypePercentage, Value: decimal.NewFromFloat(2.6)},
			},
		},
		{
			ID:       "paypal-backup",
			Provider: "paypal",
			Name:     "PayPal Backup",
			Priority: 50,
			Status:   models.GatewayStatusActive,
			Credentials: map[string]string{
				"clientId":     os.Getenv("PAYPAL_CLIENT_ID"),
				"clientSecret": os.Getenv("PAYPAL_CLIENT_SECRET"),
			},
			Settings: models.GatewaySettings{
				SupportedCurrencies:     []string{"USD", "EUR"},
				SupportedCountries:      []string{"US", "GB", "DE"},
				SupportedPaymentMethods: []string{"card", "wallet"},
				Features:                []string{"refunds", "webhooks"},
				ProcessingFee:           &models.ProcessingFee{Type: models.FeeTypePercentage, Value: decimal.NewFromFloat(3.4)},
			},
		},
	}

	out := make([]gateway.Gateway, 0, len(configs))
	for _, cfg := range configs {
		if gw, err := gateway.NewSimulated(&cfg); err == nil {
			out = append(out, gw)
		}
	}
	return out
}
