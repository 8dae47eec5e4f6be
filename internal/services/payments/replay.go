package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/services/notify"
)

const (
	// MaxReplayAttempts is the number of times a recorded webhook is applied before it is marked failed
	MaxReplayAttempts = 10

	// a freshly recorded webhook is left to the live path for this long
	replayGrace = time.Minute
	replayBatch = 100
)

// noteFailure records a failed application of a recorded webhook. Input and
// state errors do not heal with time and fail the event at once.
func (s *Service) noteFailure(ctx context.Context, eventID string, prior int, cause error) {
	attempts := prior + 1
	kind := apperr.KindOf(cause)
	final := attempts >= MaxReplayAttempts || kind == apperr.KindInvalidInput || kind == apperr.KindPreconditionFailed
	next := s.now().Add(notify.Backoff(attempts))

	if err := s.store.MarkPaymentEventRetry(ctx, eventID, attempts, next, cause.Error(), final); err != nil {
		log.Printf("❌ [PAYMENTS] Failed to record attempt for webhook %s: %v", eventID, err)
		return
	}
	if final {
		log.Printf("❌ [PAYMENTS] Giving up on webhook %s after %d attempts: %v", eventID, attempts, cause)
	} else {
		log.Printf("⚠️  [PAYMENTS] Webhook %s failed (attempt %d), replaying at %s", eventID, attempts, next.Format(time.RFC3339))
	}
}

// ReplayOnce re-applies every recorded webhook that is due and reports how
// many were applied
func (s *Service) ReplayOnce(ctx context.Context) (int, error) {
	due, err := s.store.ListUnprocessedPaymentEvents(ctx, s.now(), replayBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list unprocessed webhooks: %w", err)
	}

	applied := 0
	for i := range due {
		if ctx.Err() != nil {
			return applied, ctx.Err()
		}
		record := &due[i]

		var ev GatewayEvent
		if err := json.Unmarshal(record.Payload, &ev); err != nil || ev.Ref() == "" {
			s.noteFailure(ctx, record.ID, record.Attempts, apperr.InvalidInput("stored webhook %s is not a gateway event", record.ID))
			continue
		}
		if _, err := s.ApplyGatewayEvent(ctx, record.ID, ev); err != nil {
			s.noteFailure(ctx, record.ID, record.Attempts, err)
			continue
		}
		log.Printf("🔁 [PAYMENTS] Replayed webhook %s (%s for %s)", record.ID, ev.Event, ev.Ref())
		applied++
	}
	return applied, nil
}

// RunReplay calls ReplayOnce every interval until ctx is done
func (s *Service) RunReplay(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.ReplayOnce(ctx); err != nil {
				log.Printf("❌ [PAYMENTS] Webhook replay failed: %v", err)
			} else if n > 0 {
				log.Printf("✅ [PAYMENTS] Replayed %d webhooks", n)
			}
		}
	}
}
