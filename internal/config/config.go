package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process settings loaded from the environment
type Config struct {
	Port          string
	StorageDriver string
	DatabaseURL   string
	RedisAddr     string
	NATSURL       string

	JWTSecret            string
	PaymentWebhookSecret string

	FirebaseCredentialsBase64 string
	FirebaseCredentialsFile   string

	PricingCacheTTL time.Duration
	ScanInterval    time.Duration
	NotifyInterval  time.Duration
	ReplayInterval  time.Duration
	BidTTL          time.Duration
	GatewayTimeout  time.Duration
}

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Load reads .env (if present) and then the process environment
func Load() Config {
	log.Println("📂 Loading environment variables...")
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  Warning: .env file not found, using environment variables from system")
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from any key lookup function
func FromLookup(lookup func(string) (string, bool)) Config {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}
	dur := func(key string, def time.Duration) time.Duration {
		raw := get(key, "")
		if raw == "" {
			return def
		}
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			log.Printf("⚠️  Invalid %s=%q, using default %s", key, raw, def)
			return def
		}
		return d
	}

	return Config{
		Port:                      get("PORT", "8080"),
		StorageDriver:             strings.ToLower(get("STORAGE_DRIVER", StoragePostgres)),
		DatabaseURL:               get("DATABASE_URL", ""),
		RedisAddr:                 get("REDIS_ADDR", ""),
		NATSURL:                   get("NATS_URL", ""),
		JWTSecret:                 get("APP_JWT_SECRET", ""),
		PaymentWebhookSecret:      get("PAYMENT_WEBHOOK_SECRET", ""),
		FirebaseCredentialsBase64: get("FIREBASE_CREDENTIALS_BASE64", ""),
		FirebaseCredentialsFile:   get("FIREBASE_CREDENTIALS_FILE", "./firebase-service-account.json"),
		PricingCacheTTL:           dur("PRICING_CACHE_TTL", 5*time.Minute),
		ScanInterval:              dur("SCAN_INTERVAL", 5*time.Minute),
		NotifyInterval:            dur("NOTIFY_INTERVAL", 15*time.Second),
		ReplayInterval:            dur("WEBHOOK_REPLAY_INTERVAL", 30*time.Second),
		BidTTL:                    dur("BID_TTL", 48*time.Hour),
		GatewayTimeout:            dur("GATEWAY_TIMEOUT", 10*time.Second),
	}
}
