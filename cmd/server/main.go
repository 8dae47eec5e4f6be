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

	"wastelink-backend/internal/config"
	"wastelink-backend/internal/database"
	"wastelink-backend/internal/database/memory"
	"wastelink-backend/internal/database/seed"
	"wastelink-backend/internal/events"
	"wastelink-backend/internal/handlers"
	"wastelink-backend/internal/lock"
	"wastelink-backend/internal/services/collection"
	"wastelink-backend/internal/services/lifecycle"
	"wastelink-backend/internal/services/matching"
	"wastelink-backend/internal/services/notify"
	"wastelink-backend/internal/services/payments"
	"wastelink-backend/internal/services/pricing"
	"wastelink-backend/internal/services/telemetry"
	"wastelink-backend/internal/websocket"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func fatalBanner(title string, err error) {
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Printf("❌ FATAL ERROR: %s", title)
	log.Printf("   Error: %v", err)
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Fatal(err)
}

func main() {
	log.Println("═══════════════════════════════════════════════════════════════════")
	log.Println("🚀 WASTELINK BACKEND SERVER STARTING")
	log.Println("═══════════════════════════════════════════════════════════════════")

	cfg := config.Load()
	if cfg.JWTSecret == "" {
		fatalBanner("APP_JWT_SECRET environment variable is required", errors.New("missing APP_JWT_SECRET"))
	}
	if cfg.PaymentWebhookSecret == "" {
		log.Println("⚠️  PAYMENT_WEBHOOK_SECRET not set, every gateway webhook will be rejected")
	}

	// Money serializes as a JSON number
	decimal.MarshalJSONWithoutQuotes = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	var store database.Store
	switch cfg.StorageDriver {
	case config.StorageMemory:
		log.Println("⚠️  Using in-memory storage, data is lost on restart")
		store = memory.New()
	default:
		log.Println("🔍 Checking DATABASE_URL environment variable...")
		if cfg.DatabaseURL == "" {
			fatalBanner("DATABASE_URL environment variable is required", errors.New("missing DATABASE_URL"))
		}
		log.Println("✅ DATABASE_URL found")

		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			fatalBanner("Database connection failed", err)
		}
		defer db.Close()
		log.Println("✅ Database connection established")

		log.Println("🔄 Running database migrations...")
		if err := database.Migrate(db); err != nil {
			fatalBanner("Database migrations failed", err)
		}
		store = database.NewPostgresStore(db)
	}

	log.Println("🌱 Seeding database with initial data...")
	if err := seed.Run(ctx, store); err != nil {
		fatalBanner("Seeding failed", err)
	}

	// Locks
	var locker lock.Locker
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DialTimeout: cfg.GatewayTimeout})
		pingCtx, cancel := context.WithTimeout(ctx, cfg.GatewayTimeout)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			fatalBanner("Redis connection failed", err)
		}
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb, 0)
		log.Printf("✅ Redis locks enabled (%s)", cfg.RedisAddr)
	} else {
		locker = lock.NewKeyedMutex()
		log.Println("⚠️  REDIS_ADDR not set, using in-process locks (single instance only)")
	}

	// Event bus
	var bus events.Bus
	if cfg.NATSURL != "" {
		natsBus, err := events.NewNATSBus(events.NATSConfig{
			URL:            cfg.NATSURL,
			Name:           "wastelink-backend",
			ReconnectWait:  2 * time.Second,
			MaxReconnects:  -1,
			ConnectTimeout: cfg.GatewayTimeout,
		})
		if err != nil {
			fatalBanner("NATS connection failed", err)
		}
		bus = natsBus
	} else {
		bus = events.NewLocalBus()
		log.Println("⚠️  NATS_URL not set, using in-process event bus")
	}
	defer bus.Close()

	// Push notifications
	// Supports both file path and base64-encoded credentials (for cloud deployments)
	var pusher notify.Pusher = notify.LogPusher{}
	if cfg.FirebaseCredentialsBase64 != "" {
		fcm, err := notify.NewFCMPusherFromBase64(ctx, cfg.FirebaseCredentialsBase64)
		if err != nil {
			log.Printf("⚠️  Failed to initialize FCM from base64: %v (push notifications logged only)", err)
		} else {
			pusher = fcm
			log.Println("✅ Firebase Cloud Messaging initialized from base64 credentials")
		}
	} else {
		fcm, err := notify.NewFCMPusher(ctx, cfg.FirebaseCredentialsFile)
		if err != nil {
			log.Printf("⚠️  Failed to initialize FCM from file: %v (push notifications logged only)", err)
		} else {
			pusher = fcm
			log.Println("✅ Firebase Cloud Messaging initialized from file")
		}
	}

	// WebSocket hub
	wsHub := websocket.NewHub()
	go wsHub.Run(ctx)
	if err := wsHub.RelayStatusEvents(bus); err != nil {
		fatalBanner("WebSocket relay subscription failed", err)
	}
	log.Println("✅ WebSocket hub started")

	// Services
	notifier := notify.NewService(store, store, wsHub)
	catalog := pricing.NewCatalog(store, cfg.PricingCacheTTL)
	coordinator := lifecycle.NewCoordinator(store, locker, notifier, bus)
	bids := lifecycle.NewBidService(store, locker, catalog, notifier)
	paymentService := payments.NewService(store, locker, coordinator, bus, cfg.PaymentWebhookSecret)

	alerts := telemetry.NewAlertGenerator(store, bus, notifier, wsHub)
	policy := collection.NewDispatcher(store, notifier)
	ingestor := telemetry.NewIngestor(store, locker, alerts, policy)
	scanner := telemetry.NewScanner(store, locker, alerts, policy)

	if err := telemetry.SubscribeReadings(bus, ingestor); err != nil {
		fatalBanner("Reading subscription failed", err)
	}
	if err := paymentService.Subscribe(bus); err != nil {
		fatalBanner("Payment webhook subscription failed", err)
	}

	// Background workers
	go scanner.Run(ctx, cfg.ScanInterval)
	go notify.NewDispatcher(store, store, pusher).Run(ctx, cfg.NotifyInterval)
	go paymentService.RunReplay(ctx, cfg.ReplayInterval)
	go bids.RunExpiry(ctx, time.Minute, cfg.BidTTL)
	log.Printf("✅ Background workers started (scan every %s, push every %s, webhook replay every %s, bids expire after %s)",
		cfg.ScanInterval, cfg.NotifyInterval, cfg.ReplayInterval, cfg.BidTTL)

	r := handlers.NewRouter(handlers.Deps{
		Store:       store,
		Catalog:     catalog,
		Pricing:     pricing.NewRequestPricingService(catalog),
		Coordinator: coordinator,
		Bids:        bids,
		Payments:    paymentService,
		Ingestor:    ingestor,
		Alerts:      alerts,
		Matcher:     matching.NewMatcher(store),
		Hub:         wsHub,
		JWTSecret:   cfg.JWTSecret,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Println("🛑 Shutdown signal received, draining connections...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("⚠️  Graceful shutdown failed: %v", err)
		}
	}()

	log.Println("═══════════════════════════════════════════════════════════════════")
	log.Printf("✅ SERVER READY ON PORT %s", cfg.Port)
	log.Println("═══════════════════════════════════════════════════════════════════")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatalBanner("Server failed", err)
	}
	log.Println("👋 Server stopped")
}
