package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wastelink-backend/internal/database/memory"
	"wastelink-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePusher struct {
	mu       sync.Mutex
	failures int
	pushed   []map[string]string
}

func (f *fakePusher) Push(ctx context.Context, token, title, body string, data map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("gateway timeout")
	}
	f.pushed = append(f.pushed, data)
	return nil
}

type recordingHub struct {
	mu    sync.Mutex
	users []string
}

func (h *recordingHub) BroadcastToUser(userID string, data interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.users = append(h.users, userID)
}

func (h *recordingHub) BroadcastToRole(role string, data interface{}) {}

func seedUser(t *testing.T, store *memory.Store, role string, token string) *models.User {
	t.Helper()
	u := &models.User{Email: role + "-" + time.Now().Format("150405.000000") + "@example.com", Name: role, Role: role}
	require.NoError(t, store.CreateUser(context.Background(), u))
	if token != "" {
		require.NoError(t, store.SetFCMToken(context.Background(), u.ID, token))
	}
	return u
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 30*time.Second, Backoff(1))
	assert.Equal(t, time.Minute, Backoff(2))
	assert.Equal(t, 4*time.Minute, Backoff(4))
	assert.Equal(t, 32*time.Minute, Backoff(7))
	assert.Equal(t, time.Hour, Backoff(8))
	assert.Equal(t, time.Hour, Backoff(30))
}

func TestServiceNotifyEnqueuesAndBroadcasts(t *testing.T) {
	store := memory.New()
	hub := &recordingHub{}
	svc := NewService(store, store, hub)
	ctx := context.Background()

	customer := seedUser(t, store, models.RoleCustomer, "")
	admin := seedUser(t, store, models.RoleAdmin, "")

	svc.Notify(ctx, customer.ID, Message{Type: models.NotifyPaymentSuccess, Title: "Paid", Body: "ok", Data: map[string]string{"request_id": "r1"}})
	svc.NotifyRole(ctx, models.RoleAdmin, Message{Type: models.NotifyBinAlert, Title: "Alert", Body: "bin full"})

	rows := store.Notifications()
	require.Len(t, rows, 2)
	byUser := map[string]models.Notification{}
	for _, n := range rows {
		byUser[n.UserID] = n
	}
	assert.JSONEq(t, `{"request_id":"r1"}`, string(byUser[customer.ID].Data))
	assert.Equal(t, models.NotifyBinAlert, byUser[admin.ID].Type)
	assert.JSONEq(t, `{}`, string(byUser[admin.ID].Data))
	assert.ElementsMatch(t, []string{customer.ID, admin.ID}, hub.users)
}

func TestNilServiceIsNoop(t *testing.T) {
	var svc *Service
	assert.NotPanics(t, func() {
		svc.Notify(context.Background(), "u1", Message{Type: "x"})
		svc.NotifyRole(context.Background(), models.RoleAdmin, Message{Type: "x"})
	})
}

func TestDispatcherRetriesWithBackoff(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	user := seedUser(t, store, models.RoleCustomer, "device-token")
	NewService(store, store, nil).Notify(ctx, user.ID, Message{Type: models.NotifyBidAccepted, Title: "Bid", Body: "accepted", Data: map[string]string{"bid_id": "b1"}})

	pusher := &fakePusher{failures: 2}
	d := NewDispatcher(store, store, pusher)
	clock := time.Now().Add(time.Second)
	d.now = func() time.Time { return clock }

	sent, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)

	row := store.Notifications()[0]
	assert.Equal(t, 1, row.Attempts)
	assert.Equal(t, models.NotificationPending, row.Status)
	assert.WithinDuration(t, clock.Add(30*time.Second), row.NextAttemptAt, time.Millisecond)
	require.NotNil(t, row.LastError)

	// not due yet
	sent, err = d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
	assert.Equal(t, 1, store.Notifications()[0].Attempts)

	clock = clock.Add(31 * time.Second)
	_, err = d.RunOnce(ctx)
	require.NoError(t, err)
	row = store.Notifications()[0]
	assert.Equal(t, 2, row.Attempts)
	assert.WithinDuration(t, clock.Add(time.Minute), row.NextAttemptAt, time.Millisecond)

	clock = clock.Add(2 * time.Minute)
	sent, err = d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	row = store.Notifications()[0]
	assert.Equal(t, models.NotificationSent, row.Status)
	require.Len(t, pusher.pushed, 1)
	assert.Equal(t, models.NotifyBidAccepted, pusher.pushed[0]["type"])
	assert.Equal(t, "b1", pusher.pushed[0]["bid_id"])
}

func TestDispatcherGivesUpAfterMaxAttempts(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	user := seedUser(t, store, models.RoleCustomer, "device-token")
	NewService(store, store, nil).Notify(ctx, user.ID, Message{Type: models.NotifyStatusChanged, Title: "Status", Body: "en route"})

	d := NewDispatcher(store, store, &fakePusher{failures: 100})
	clock := time.Now().Add(time.Second)
	d.now = func() time.Time { return clock }

	for i := 0; i < MaxAttempts; i++ {
		_, err := d.RunOnce(ctx)
		require.NoError(t, err)
		clock = clock.Add(2 * time.Hour)
	}

	row := store.Notifications()[0]
	assert.Equal(t, MaxAttempts, row.Attempts)
	assert.Equal(t, models.NotificationFailed, row.Status)

	sent, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
}

func TestDispatcherFailsWithoutDeviceToken(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	user := seedUser(t, store, models.RoleCustomer, "")
	NewService(store, store, nil).Notify(ctx, user.ID, Message{Type: models.NotifyPaymentSuccess, Title: "Paid", Body: "ok"})

	pusher := &fakePusher{}
	d := NewDispatcher(store, store, pusher)
	d.now = func() time.Time { return time.Now().Add(time.Second) }

	_, err := d.RunOnce(ctx)
	require.NoError(t, err)

	row := store.Notifications()[0]
	assert.Equal(t, models.NotificationFailed, row.Status)
	assert.Empty(t, pusher.pushed)
}
