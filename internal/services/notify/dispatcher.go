package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/database"
	"wastelink-backend/internal/models"
)

const (
	// MaxAttempts is the number of delivery attempts before a notification is marked failed
	MaxAttempts = 8

	baseBackoff = 30 * time.Second
	maxBackoff  = time.Hour
	batchSize   = 100
)

var errNoDeviceToken = errors.New("user has no registered device token")

// Backoff returns the delay before the next attempt after attempts failures
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := baseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// Dispatcher drains the notification outbox through a Pusher
type Dispatcher struct {
	store  database.NotificationStore
	users  database.UserStore
	pusher Pusher
	now    func() time.Time
}

func NewDispatcher(store database.NotificationStore, users database.UserStore, pusher Pusher) *Dispatcher {
	return &Dispatcher{store: store, users: users, pusher: pusher, now: time.Now}
}

// RunOnce delivers every due notification and reports how many were sent
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	now := d.now()
	due, err := d.store.ListDueNotifications(ctx, now, batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list due notifications: %w", err)
	}

	sent := 0
	for i := range due {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		n := &due[i]
		pushErr := d.deliver(ctx, n)
		if pushErr == nil {
			if err := d.store.MarkNotificationSent(ctx, n.ID, d.now()); err != nil {
				log.Printf("❌ [NOTIFY] Failed to mark %s sent: %v", n.ID, err)
				continue
			}
			sent++
			continue
		}

		attempts := n.Attempts + 1
		final := attempts >= MaxAttempts || errors.Is(pushErr, errNoDeviceToken)
		next := now.Add(Backoff(attempts))
		if err := d.store.MarkNotificationRetry(ctx, n.ID, attempts, next, pushErr.Error(), final); err != nil {
			log.Printf("❌ [NOTIFY] Failed to record attempt for %s: %v", n.ID, err)
			continue
		}
		if final {
			log.Printf("❌ [NOTIFY] Giving up on %s for user %s after %d attempts: %v", n.Type, n.UserID, attempts, pushErr)
		} else {
			log.Printf("⚠️  [NOTIFY] %s for user %s failed (attempt %d), retrying at %s: %v",
				n.Type, n.UserID, attempts, next.Format(time.RFC3339), pushErr)
		}
	}
	return sent, nil
}

func (d *Dispatcher) deliver(ctx context.Context, n *models.Notification) error {
	user, err := d.users.GetUser(ctx, n.UserID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return errNoDeviceToken
		}
		return err
	}
	if user.FCMToken == nil || *user.FCMToken == "" {
		return errNoDeviceToken
	}

	data := map[string]string{"type": n.Type, "notification_id": n.ID}
	var extra map[string]string
	if len(n.Data) > 0 && json.Unmarshal(n.Data, &extra) == nil {
		for k, v := range extra {
			data[k] = v
		}
	}

	if err := d.pusher.Push(ctx, *user.FCMToken, n.Title, n.Body, data); err != nil {
		return apperr.ExternalUnavailable(err, "push delivery failed")
	}
	return nil
}

// Run calls RunOnce every interval until ctx is done
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sent, err := d.RunOnce(ctx); err != nil {
				log.Printf("❌ [NOTIFY] Dispatch run failed: %v", err)
			} else if sent > 0 {
				log.Printf("✅ [NOTIFY] Delivered %d notifications", sent)
			}
		}
	}
}
