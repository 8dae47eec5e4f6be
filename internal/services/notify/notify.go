package notify

import (
	"context"
	"encoding/json"
	"log"

	"wastelink-backend/internal/database"
	"wastelink-backend/internal/models"
)

// Broadcaster is the realtime side channel, implemented by the websocket hub
type Broadcaster interface {
	BroadcastToUser(userID string, data interface{})
	BroadcastToRole(role string, data interface{})
}

// Message is what websocket clients receive for a notification
type Message struct {
	Type  string            `json:"type"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Service writes notifications to the outbox and mirrors them on the websocket hub.
// Every method is best effort: failures are logged and never returned.
type Service struct {
	store database.NotificationStore
	users database.UserStore
	hub   Broadcaster
}

func NewService(store database.NotificationStore, users database.UserStore, hub Broadcaster) *Service {
	return &Service{store: store, users: users, hub: hub}
}

// Notify enqueues a push notification for one user
func (s *Service) Notify(ctx context.Context, userID string, msg Message) {
	if s == nil || userID == "" {
		return
	}

	data, err := json.Marshal(msg.Data)
	if err != nil || msg.Data == nil {
		data = json.RawMessage(`{}`)
	}

	n := &models.Notification{
		UserID: userID,
		Type:   msg.Type,
		Title:  msg.Title,
		Body:   msg.Body,
		Data:   data,
		Status: models.NotificationPending,
	}
	if err := s.store.EnqueueNotification(ctx, n); err != nil {
		log.Printf("❌ [NOTIFY] Failed to enqueue %s for user %s: %v", msg.Type, userID, err)
	}

	if s.hub != nil {
		s.hub.BroadcastToUser(userID, msg)
	}
}

// NotifyRole enqueues the notification for every user with role
func (s *Service) NotifyRole(ctx context.Context, role string, msg Message) {
	if s == nil {
		return
	}
	ids, err := s.users.ListUserIDsByRole(ctx, role)
	if err != nil {
		log.Printf("❌ [NOTIFY] Failed to list %s users: %v", role, err)
		return
	}
	for _, id := range ids {
		s.Notify(ctx, id, msg)
	}
}
