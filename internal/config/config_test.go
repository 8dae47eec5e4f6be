package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestFromLookupDefaults(t *testing.T) {
	cfg := FromLookup(lookupFrom(nil))

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, StoragePostgres, cfg.StorageDriver)
	assert.Equal(t, 5*time.Minute, cfg.PricingCacheTTL)
	assert.Equal(t, 48*time.Hour, cfg.BidTTL)
}

func TestFromLookupOverrides(t *testing.T) {
	cfg := FromLookup(lookupFrom(map[string]string{
		"PORT":           "9000",
		"STORAGE_DRIVER": "Memory",
		"SCAN_INTERVAL":  "30s",
		"BID_TTL":        "not-a-duration",
		"NATS_URL":       " nats://localhost:4222 ",
	}))

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, StorageMemory, cfg.StorageDriver)
	assert.Equal(t, 30*time.Second, cfg.ScanInterval)
	assert.Equal(t, 48*time.Hour, cfg.BidTTL)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
}
