package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
)

// Subjects
const (
	SubjectPaymentWebhook = "payments.webhook"
	SubjectBinReadings    = "bins.readings"
	SubjectBinAlerts      = "bins.alerts"
	SubjectRequestStatus  = "requests.status"
)

// Handler receives the raw JSON payload of one message. Returned errors are logged.
type Handler func(ctx context.Context, data []byte) error

// Bus carries domain events between components. Messages on one subject
// are delivered to a subscriber in publish order.
type Bus interface {
	Publish(ctx context.Context, subject string, v interface{}) error
	Subscribe(subject, queue string, h Handler) error
	Close() error
}

// LocalBus is an in-process Bus. Each subscription drains its own queue on one goroutine.
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[string][]*localSub
	sync   bool
	wg     sync.WaitGroup
	closed bool
}

type localSub struct {
	subject string
	handler Handler
	queue   chan []byte
}

// NewLocalBus returns an asynchronous in-process bus
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string][]*localSub)}
}

// NewSyncBus returns an in-process bus whose Publish runs handlers inline
func NewSyncBus() *LocalBus {
	return &LocalBus{subs: make(map[string][]*localSub), sync: true}
}

func (b *LocalBus) Publish(ctx context.Context, subject string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus closed")
	}

	for _, s := range b.subs[subject] {
		if b.sync {
			if err := s.handler(ctx, payload); err != nil {
				log.Printf("❌ [EVENTS] %s handler failed: %v", subject, err)
			}
			continue
		}
		select {
		case s.queue <- payload:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe registers a handler. The queue group name is ignored in-process.
func (b *LocalBus) Subscribe(subject, queue string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("bus closed")
	}

	s := &localSub{subject: subject, handler: h, queue: make(chan []byte, 256)}
	b.subs[subject] = append(b.subs[subject], s)

	if !b.sync {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			for payload := range s.queue {
				if err := s.handler(context.Background(), payload); err != nil {
					log.Printf("❌ [EVENTS] %s handler failed: %v", s.subject, err)
				}
			}
		}()
	}
	return nil
}

// Close stops accepting messages and waits for queued ones to drain
func (b *LocalBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, s := range subs {
			close(s.queue)
		}
	}
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}
