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

	"github.com/eduvault/backend/internal/capability"
	"github.com/eduvault/backend/internal/config"
	"github.com/eduvault/backend/internal/database"
	"github.com/eduvault/backend/internal/events"
	"github.com/eduvault/backend/internal/handlers"
	"github.com/eduvault/backend/internal/jobs"
	"github.com/eduvault/backend/internal/logger"
	"github.com/eduvault/backend/internal/metrics"
	"github.com/eduvault/backend/internal/routes"
	"github.com/eduvault/backend/internal/services/crypto"
	"github.com/eduvault/backend/internal/services/email"
	"github.com/eduvault/backend/internal/services/exchange"
	"github.com/eduvault/backend/internal/services/ledger"
	"github.com/eduvault/backend/internal/services/notification"
	"github.com/eduvault/backend/internal/services/notification/channels"
	"github.com/eduvault/backend/internal/services/payment"
	"github.com/eduvault/backend/internal/services/payment/providers/razorpay"
	"github.com/eduvault/backend/internal/services/payment/providers/stripe"
	"github.com/eduvault/backend/internal/services/receipt"
	"github.com/eduvault/backend/internal/services/settlement"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	// Initialize configuration
	cfg := config.LoadConfig()

	zlog, err := logger.New(logger.Config{
		ServiceName: "fee-settlement",
		Environment: cfg.Environment,
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize database
	db, err := database.InitDB(cfg.Database, zlog)
	if err != nil {
		zlog.Fatal("failed to initialize database", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		zlog.Fatal("failed to get database handle", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	intentRepo := database.NewIntentRepository(db)
	settlementRepo := database.NewSettlementRepository(db)
	ledgerRepo := database.NewLedgerRepository(db)

	// Exchange rates
	var rateCache exchange.RateCache = exchange.NewMemoryRateCache()
	if cfg.Redis.URL != "" {
		redisClient, err := newRedisClient(cfg.Redis.URL)
		if err != nil {
			zlog.Warn("redis unavailable, caching exchange rates in memory", zap.Error(err))
		} else {
			defer redisClient.Close()
			rateCache = exchange.NewRedisRateCache(redisClient)
		}
	}
	rates := exchange.NewCachedRateSource(exchange.NewHTTPRateSource(cfg.Exchange.BaseURL), rateCache, cfg.Exchange.CacheTTL, zlog, m)
	converter := exchange.NewConverter(rates, cfg.Exchange.FeePercent)

	// Payment gateways
	domestic := capability.When(cfg.Razorpay.Configured(), func() payment.DomesticGateway {
		return razorpay.NewRazorpayProvider(razorpay.RazorpayConfig{
			KeyID:     cfg.Razorpay.KeyID,
			KeySecret: cfg.Razorpay.KeySecret,
			BaseURL:   cfg.Razorpay.BaseURL,
		})
	})
	international := capability.When(cfg.Stripe.Configured(), func() payment.InternationalGateway {
		return stripe.NewStripeProvider(stripe.StripeConfig{
			SecretKey: cfg.Stripe.SecretKey,
			BaseURL:   cfg.Stripe.BaseURL,
		})
	})
	zlog.Info("payment gateways",
		zap.Bool("domestic", domestic.IsConfigured()),
		zap.Bool("international", international.IsConfigured()),
	)

	intentFactory := payment.NewIntentFactory(payment.IntentFactoryConfig{
		Domestic:      domestic,
		International: international,
		Converter:     converter,
		Store:         intentRepo,
		PayeeVPA:      cfg.UPI.PayeeVPA,
		PayeeName:     cfg.UPI.PayeeName,
		CheckoutURL:   cfg.Stripe.CheckoutURL,
		BaseCurrency:  cfg.Exchange.BaseCurrency,
		Logger:        zlog,
		Metrics:       m,
	})

	// Ledger
	ledgerClient := capability.Unconfigured[ledger.Client]()
	if cfg.Ledger.Configured() {
		client, err := crypto.NewChainLedgerClient(crypto.ChainConfig{
			RPCURL:          cfg.Ledger.RPCURL,
			ChainID:         cfg.Ledger.ChainID,
			RegistryAddress: cfg.Ledger.RegistryAddress,
			SignerKey:       cfg.Ledger.SignerKey,
		})
		if err != nil {
			zlog.Error("ledger client unavailable, running in degraded mode", zap.Error(err))
		} else {
			ledgerClient = capability.Configured[ledger.Client](client)
		}
	}
	retry := ledger.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Ledger.MaxAttempts
	retry.InitialInterval = cfg.Ledger.BackoffBase
	recorder := ledger.NewRecorder(ledgerClient, ledgerRepo, retry, zlog, m)

	// Notification channels
	dispatcher := notification.NewDispatcher(zlog, m,
		notification.WhatsApp(capability.When(cfg.WhatsApp.Configured(), func() notification.Channel {
			return channels.NewWhatsAppChannel(cfg.WhatsApp.BaseURL, cfg.WhatsApp.PhoneNumberID, cfg.WhatsApp.AccessToken)
		})),
		notification.SMS(capability.When(cfg.SMS.Configured(), func() notification.Channel {
			return channels.NewSMSChannel(cfg.SMS.BaseURL, cfg.SMS.AccountSID, cfg.SMS.AuthToken, cfg.SMS.FromNumber)
		})),
		notification.Telegram(capability.When(cfg.Telegram.Configured(), func() notification.Channel {
			return channels.NewTelegramChannel(cfg.Telegram.BaseURL, cfg.Telegram.BotToken)
		})),
		notification.Email(capability.When(cfg.SMTP.Configured(), func() notification.Channel {
			return email.NewEmailService(email.Config{
				Host:      cfg.SMTP.Host,
				Port:      cfg.SMTP.Port,
				Username:  cfg.SMTP.Username,
				Password:  cfg.SMTP.Password,
				FromEmail: cfg.SMTP.FromEmail,
			})
		})),
	)

	// Settlement events
	publisher := capability.Unconfigured[settlement.EventPublisher]()
	if cfg.Kafka.Configured() {
		producer := events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer producer.Close()
		publisher = capability.Configured[settlement.EventPublisher](producer)
	}

	receipts := receipt.NewGenerator(cfg.Receipt.PublicURL, cfg.Receipt.ExplorerURL).WithSigningKey(cfg.Receipt.SigningKey)

	settlementService := settlement.NewService(settlement.Config{
		Intents:     intentRepo,
		Settlements: settlementRepo,
		Verifier:    payment.NewVerifier(domestic, international, zlog),
		Ledger:      recorder,
		Notifier:    dispatcher,
		Receipts:    receipts,
		Events:      publisher,
		Logger:      zlog,
		Metrics:     m,
	})

	// Reconciliation of failed ledger writes
	scheduler := jobs.NewScheduler()
	reconcileJob := jobs.NewLedgerReconcileJob(settlementService, settlement.DefaultStaleAfter, zlog)
	if err := jobs.ScheduleRecurringJobs(scheduler, reconcileJob, cfg.Ledger.ReconcileEvery, zlog); err != nil {
		zlog.Fatal("failed to schedule jobs", zap.Error(err))
	}
	scheduler.StartAsync()

	// Initialize handlers
	feeHandler := handlers.NewFeeHandler(intentFactory, settlementService, receipt.NewPDFRenderer(), receipts, cfg.UPI.PayeeName, zlog)

	router, limiter := routes.NewRouter(routes.RouterConfig{
		AllowedOrigins: []string{cfg.FrontendURL},
		RequestsPerSec: cfg.Server.RequestsPerSec,
		RequestBurst:   cfg.Server.RequestBurst,
		Gatherer:       registry,
		Ping:           sqlDB.PingContext,
	}, zlog)
	defer limiter.Stop()
	routes.SetupFeeRoutes(router, feeHandler, limiter, cfg.JWT.Secret)

	// Start server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}
	go func() {
		zlog.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info("shutting down server")

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zlog.Error("server forced to shutdown", zap.Error(err))
	}

	if err := sqlDB.Close(); err != nil {
		zlog.Warn("failed to close database", zap.Error(err))
	}
	zlog.Info("server exited")
}

func newRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
