package cmd

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	pubnub "github.com/pubnub/go"
	"github.com/redis/go-redis/v9"

	"ticket-engine/config"
	"ticket-engine/handlers"
	"ticket-engine/internal/services"
	"ticket-engine/internal/services/provider/stripe"
	"ticket-engine/internal/storage"
	_ "ticket-engine/migrations"
	"ticket-engine/monitoring"
	"ticket-engine/security"
	"ticket-engine/utils"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient, err := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// Initialize the confirmation notifier
	var notifier services.Notifier = services.NoopNotifier{}
	if cfg.PubNubPublishKey != "" {
		pnConfig := pubnub.NewConfig()
		pnConfig.PublishKey = cfg.PubNubPublishKey
		pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
		pnConfig.SecretKey = cfg.PubNubSecretKey

		notifier = services.NewPubNubNotifier(pubnub.NewPubNub(pnConfig), cfg.ConfirmationChannel)
	} else {
		log.Println("PubNub keys not configured, fulfillment notifications disabled")
	}

	// Initialize the payment provider client
	providerClient := stripe.NewClient(&stripe.ClientConfig{
		BaseURL:   cfg.ProviderBaseURL,
		SecretKey: cfg.ProviderSecretKey,
		Timeout:   cfg.ProviderTimeout,
	})
	verifier := stripe.NewWebhookVerifier(cfg.WebhookSecret, cfg.WebhookTolerance)

	// Initialize services
	store := storage.NewAppStore(app)
	inventoryService := services.NewInventoryService(store)
	reservationService := services.NewReservationService(store, inventoryService, redisClient, cfg.ReservationTTL, cfg.SweepBatchSize)
	fulfillmentService := services.NewFulfillmentService(store, notifier)
	webhookService := services.NewWebhookService(store, providerClient, fulfillmentService, redisClient)

	// Initialize handlers
	checkoutHandler := handlers.NewCheckoutHandler(inventoryService, reservationService)
	webhookHandler := handlers.NewWebhookHandler(verifier, webhookService)
	rateLimiter := security.NewRateLimiter(redisClient, cfg.RateLimitPerMinute)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup graceful shutdown for background tasks
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		// Checkout endpoints
		e.Router.POST("/api/v1/checkout/reserve", checkoutHandler.Reserve).
			BindFunc(rateLimiter.CheckoutRateLimit())
		e.Router.POST("/api/v1/checkout/release", checkoutHandler.Release)
		e.Router.GET("/api/v1/checkout/{sessionId}", checkoutHandler.GetReservation)

		// Ticket type endpoints
		e.Router.POST("/api/v1/ticket-types", checkoutHandler.CreateTicketType)
		e.Router.GET("/api/v1/ticket-types/{ticketTypeId}", checkoutHandler.GetTicketType)

		// Provider webhook endpoint
		e.Router.POST("/api/v1/webhooks/payment", webhookHandler.HandleProviderEvent)

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		// Start background tasks once the schema is in place
		go runExpirySweeper(ctx, reservationService, cfg.SweepInterval)

		if cfg.EnableMetrics {
			monitoring.NewMonitor(ctx, redisClient)
			go runOpsServer(ctx, cfg, redisClient, reservationService)
		}

		return e.Next()
	})

	// Start server
	if err := app.Start(); err != nil {
		return err
	}
	return nil
}

// runExpirySweeper releases stale reservations on a fixed interval until the
// context is cancelled.
func runExpirySweeper(ctx context.Context, reservations *services.ReservationService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("Expiry sweeper started, interval %s", interval)

	for {
		select {
		case <-ctx.Done():
			log.Println("Expiry sweeper stopped")
			return

		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, interval)
			if _, err := reservations.ExpireStale(sweepCtx); err != nil {
				slog.Error("expiry sweep failed", "error", err)
			}
			cancel()
		}
	}
}

// runOpsServer serves metrics, health and operator endpoints on the internal
// listener until the context is cancelled.
func runOpsServer(ctx context.Context, cfg *config.Config, redisClient *redis.Client, reservations *services.ReservationService) {
	srv := monitoring.NewOpsServer(cfg.OpsAddr, redisClient, reservations.ExpireStale, cfg.OpsTokenHash)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("ops server shutdown failed", "error", err)
		}
	}()

	log.Printf("Ops server listening on %s", cfg.OpsAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("ops server failed", "error", err)
	}
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
