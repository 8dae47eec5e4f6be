package events

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reading struct {
	Seq int `json:"seq"`
}

func TestLocalBusPreservesOrder(t *testing.T) {
	bus := NewLocalBus()

	var (
		mu   sync.Mutex
		seen []int
	)
	require.NoError(t, bus.Subscribe(SubjectBinReadings, "ingest", func(ctx context.Context, data []byte) error {
		var r reading
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		mu.Lock()
		seen = append(seen, r.Seq)
		mu.Unlock()
		return nil
	}))

	for i := 0; i < 50; i++ {
		require.NoError(t, bus.Publish(context.Background(), SubjectBinReadings, reading{Seq: i}))
	}
	require.NoError(t, bus.Close())

	require.Len(t, seen, 50)
	for i, v := range seen {
		assert.Equal(t, i, v)
	}
}

func TestSyncBusRunsInline(t *testing.T) {
	bus := NewSyncBus()
	called := false
	require.NoError(t, bus.Subscribe(SubjectPaymentWebhook, "", func(ctx context.Context, data []byte) error {
		called = true
		return nil
	}))

	require.NoError(t, bus.Publish(context.Background(), SubjectPaymentWebhook, map[string]string{"event": "charge.success"}))
	assert.True(t, called)
}

func TestPublishAfterClose(t *testing.T) {
	bus := NewLocalBus()
	require.NoError(t, bus.Close())
	assert.Error(t, bus.Publish(context.Background(), SubjectBinAlerts, "x"))
}

func TestNATSBus(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set; skipping integration test")
	}

	bus, err := NewNATSBus(NATSConfig{URL: url, Name: "wastelink-test"})
	require.NoError(t, err)
	defer bus.Close()

	got := make(chan []byte, 1)
	subject := "test.events." + time.Now().Format("150405.000000")
	require.NoError(t, bus.Subscribe(subject, "test", func(ctx context.Context, data []byte) error {
		got <- data
		return nil
	}))
	require.NoError(t, bus.Publish(context.Background(), subject, reading{Seq: 7}))

	select {
	case data := <-got:
		assert.JSONEq(t, `{"seq":7}`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}
