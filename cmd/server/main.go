package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"event-ticketing-checkout/internal/clock"
	"event-ticketing-checkout/internal/config"
	"event-ticketing-checkout/internal/database"
	"event-ticketing-checkout/internal/handlers"
	"event-ticketing-checkout/internal/inventory"
	"event-ticketing-checkout/internal/messaging"
	"event-ticketing-checkout/internal/middleware"
	"event-ticketing-checkout/internal/models"
	"event-ticketing-checkout/internal/payments"
	"event-ticketing-checkout/internal/repositories"
	"event-ticketing-checkout/internal/services"
	"event-ticketing-checkout/internal/utils"

	"github.com/redis/go-redis/v9"
)

// storage groups the repositories the checkout needs, backed either by
// Postgres or by process memory
type storage struct {
	orders    services.OrderRepository
	tickets   services.TicketRepository
	checkouts services.CheckoutRepository
	attempts  payments.AttemptStore
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	clk := clock.Real{}
	checks := make(map[string]handlers.HealthCheck)

	// Initialize database connection
	store, db := openStorage(cfg)
	if db != nil {
		defer db.Close()
		checks["database"] = db.Health
	}

	// Initialize inventory ledger
	ledger, redisClient := openLedger(cfg)
	if redisClient != nil {
		defer redisClient.Close()
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}

	if cfg.Inventory.CatalogFile != "" {
		catalog, err := inventory.LoadCatalogFile(context.Background(), ledger, cfg.Inventory.CatalogFile)
		if err != nil {
			log.Fatal("Failed to load catalog:", err)
		}
		log.Printf("Catalog loaded: %d ticket types, %d seats", len(catalog.TicketTypes), len(catalog.Seats))
	}

	// Derive per-purpose keys so a leaked hold token key cannot forge ticket codes
	holdKey := utils.MustDeriveKey(cfg.Security.AppSecret, utils.PurposeHoldToken)
	codeKey := utils.MustDeriveKey(cfg.Security.AppSecret, utils.PurposeTicketCode)

	holdManager := services.NewHoldManager(ledger, holdKey, clk,
		services.WithHoldTTL(cfg.Inventory.HoldTTL),
		services.WithHoldMaxLifetime(cfg.Inventory.HoldMaxLifetime),
	)

	// Initialize payment gateways
	adapter := payments.NewAdapter(store.attempts, clk, buildGateways(cfg, clk)...)
	log.Printf("Payment gateways enabled: %v", adapter.Gateways())

	issuer := services.NewIssuanceService(holdManager, store.orders, store.tickets, codeKey, clk)

	// Initialize notifications
	resendConfig := services.ResendConfig{
		APIKey:    cfg.Resend.APIKey,
		FromEmail: cfg.Resend.FromEmail,
		FromName:  cfg.Resend.FromName,
	}
	var emailService services.EmailSender
	if cfg.IsProduction() {
		emailService = services.NewResendEmailService(resendConfig)
	} else {
		emailService = services.NewMockEmailService(&resendConfig)
	}

	publisher, err := messaging.NewPublisher(messaging.Config{
		Backend:      cfg.Messaging.Backend,
		RabbitMQURL:  cfg.Messaging.RabbitMQURL,
		KafkaBrokers: cfg.Messaging.KafkaBrokers,
		KafkaTopic:   cfg.Messaging.KafkaTopic,
	})
	if err != nil {
		log.Fatal("Failed to initialize event publisher:", err)
	}

	dispatcher := services.NewNotificationDispatcher(emailService, publisher, clk, 30*time.Second)

	checkoutService := services.NewCheckoutService(store.checkouts, holdManager, ledger, adapter, issuer, clk,
		services.WithCurrency(cfg.Currency),
		services.WithNotifier(dispatcher),
		services.WithStuckIssuanceAfter(cfg.Inventory.StuckIssuanceAfter),
	)
	orderService := services.NewOrderService(store.orders, store.tickets)

	// Background sweep: expire holds, then the checkouts that relied on them
	sweeper := inventory.NewSweeper(ledger, clk, cfg.Inventory.SweepInterval)
	sweeper.AddTask("expire-checkouts", checkoutService.ExpireStale)
	sweeper.AddTask("recover-issuance", checkoutService.RecoverStuck)
	sweeper.Start()

	// Initialize handlers
	var limiter *middleware.RateLimiter
	if cfg.Server.RateLimitPerMinute > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.RateLimitPerMinute, time.Minute)
	}
	clientIP, err := middleware.NewClientIPResolver(cfg.Server.TrustedProxies)
	if err != nil {
		log.Fatal("Failed to parse TRUSTED_PROXIES:", err)
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		Holds:          handlers.NewHoldHandler(holdManager),
		Checkouts:      handlers.NewCheckoutHandler(checkoutService, orderService),
		Payments:       handlers.NewPaymentHandler(checkoutService, adapter, cfg.Server.SuccessURL, cfg.Server.FailureURL),
		Admin:          handlers.NewAdminHandler(checkoutService, checks),
		AdminAPIKey:    cfg.Server.AdminAPIKey,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimiter:    limiter,
		ClientIP:       clientIP,
	})

	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("Server starting on %s (Environment: %s, inventory: %s)", serverAddr, cfg.Server.Env, cfg.Inventory.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	if err := sweeper.Close(); err != nil {
		log.Printf("Sweeper shutdown error: %v", err)
	}
	if err := dispatcher.Close(); err != nil {
		log.Printf("Notification dispatcher shutdown error: %v", err)
	}
	if err := publisher.Close(); err != nil {
		log.Printf("Event publisher shutdown error: %v", err)
	}
	if limiter != nil {
		limiter.Close()
	}
	log.Println("Server stopped")
}

// openStorage connects to Postgres and runs migrations. Development falls
// back to in-memory repositories when the database is unreachable.
func openStorage(cfg *config.Config) (*storage, *database.DB) {
	db, err := database.NewConnection(database.Config{
		URL:      cfg.Database.URL,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		if cfg.IsProduction() {
			log.Fatal("Failed to connect to database:", err)
		}
		log.Printf("Warning: Failed to connect to database: %v", err)
		log.Println("Continuing with in-memory storage; orders will not survive a restart")
		return &storage{
			orders:    repositories.NewMemoryOrderRepository(),
			tickets:   repositories.NewMemoryTicketRepository(),
			checkouts: repositories.NewMemoryCheckoutRepository(),
			attempts:  repositories.NewMemoryAttemptRepository(),
		}, nil
	}
	log.Println("Database connection established successfully")

	if err := db.RunMigrations(); err != nil {
		db.Close()
		log.Fatal("Failed to run migrations:", err)
	}

	return &storage{
		orders:    repositories.NewOrderRepository(db.DB),
		tickets:   repositories.NewTicketRepository(db.DB),
		checkouts: repositories.NewCheckoutRepository(db.DB),
		attempts:  repositories.NewPaymentAttemptRepository(db.DB),
	}, db
}

// openLedger builds the configured inventory ledger. The Redis client is
// returned so the caller can close it and health check it.
func openLedger(cfg *config.Config) (inventory.Store, *redis.Client) {
	if cfg.Inventory.Backend != config.InventoryBackendRedis {
		log.Println("Inventory ledger: in-memory")
		return inventory.NewMemoryLedger(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis at %s: %v", cfg.Redis.Addr, err)
	}
	log.Printf("Inventory ledger: redis at %s", cfg.Redis.Addr)
	return inventory.NewRedisLedger(client), client
}

// buildGateways registers a real gateway for every configured provider. In
// development the unconfigured ones are replaced by mocks with the same
// flow; in production they are left out and reported as not configured.
func buildGateways(cfg *config.Config, clk clock.Clock) []payments.Gateway {
	var gateways []payments.Gateway

	if cfg.PayPalConfigured() {
		returnURL := cfg.ReturnURL(models.GatewayPayPal)
		gateways = append(gateways, payments.NewPayPalGateway(payments.PayPalConfig{
			ClientID:     cfg.PayPal.ClientID,
			ClientSecret: cfg.PayPal.ClientSecret,
			Environment:  cfg.PayPal.Environment,
			WebhookID:    cfg.PayPal.WebhookID,
			ReturnURL:    returnURL,
			CancelURL:    returnURL + "?status=cancelled",
		}, clk))
		log.Println("Payment gateway: PayPal configured")
	} else if !cfg.IsProduction() {
		gateways = append(gateways, payments.NewMockGateway(models.GatewayPayPal, payments.FlowRedirect))
		log.Println("Payment gateway: PayPal credentials missing, using mock")
	}

	if cfg.SquareConfigured() {
		gateways = append(gateways, payments.NewSquareGateway(payments.SquareConfig{
			AccessToken:         cfg.Square.AccessToken,
			LocationID:          cfg.Square.LocationID,
			Environment:         cfg.Square.Environment,
			WebhookSignatureKey: cfg.Square.WebhookSignatureKey,
			NotificationURL:     cfg.WebhookURL(models.GatewaySquare),
		}))
		log.Println("Payment gateway: Square configured")
	} else if !cfg.IsProduction() {
		gateways = append(gateways, payments.NewMockGateway(models.GatewaySquare, payments.FlowToken))
		log.Println("Payment gateway: Square credentials missing, using mock")
	}

	if cfg.CashAppConfigured() {
		gateways = append(gateways, payments.NewCashAppGateway(payments.CashAppConfig{
			ClientID:            cfg.CashApp.ClientID,
			APIKey:              cfg.CashApp.APIKey,
			MerchantID:          cfg.CashApp.MerchantID,
			Environment:         cfg.CashApp.Environment,
			RedirectURL:         cfg.ReturnURL(models.GatewayCashApp),
			WebhookSignatureKey: cfg.CashApp.WebhookSignatureKey,
		}))
		log.Println("Payment gateway: Cash App configured")
	} else if !cfg.IsProduction() {
		gateways = append(gateways, payments.NewMockGateway(models.GatewayCashApp, payments.FlowRedirect))
		log.Println("Payment gateway: Cash App credentials missing, using mock")
	}

	return gateways
}
