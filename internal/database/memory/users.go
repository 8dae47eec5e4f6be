package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/models"

	"github.com/google/uuid"
)

func (s *Store) EnqueueNotification(ctx context.Context, n *models.Notification) error {
	return lockedErr(s, func(st *state) error {
		if n.ID == "" {
			n.ID = uuid.New().String()
		}
		if n.Status == "" {
			n.Status = models.NotificationPending
		}
		if n.Data == nil {
			n.Data = json.RawMessage(`{}`)
		}
		n.CreatedAt = st.now()
		if n.NextAttemptAt.IsZero() {
			n.NextAttemptAt = n.CreatedAt
		}
		st.notifications[n.ID] = *n
		return nil
	})
}

func (s *Store) ListDueNotifications(ctx context.Context, now time.Time, limit int) ([]models.Notification, error) {
	return locked(s, func(st *state) ([]models.Notification, error) {
		out := make([]models.Notification, 0)
		for _, n := range st.notifications {
			if n.Status == models.NotificationPending && !n.NextAttemptAt.After(now) {
				out = append(out, n)
			}
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].NextAttemptAt.Equal(out[j].NextAttemptAt) {
				return out[i].ID < out[j].ID
			}
			return out[i].NextAttemptAt.Before(out[j].NextAttemptAt)
		})
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return out, nil
	})
}

func (s *Store) MarkNotificationSent(ctx context.Context, id string, at time.Time) error {
	return lockedErr(s, func(st *state) error {
		n, ok := st.notifications[id]
		if !ok {
			return apperr.NotFound("notification %s not found", id)
		}
		n.Status = models.NotificationSent
		n.Attempts++
		n.SentAt = &at
		st.notifications[id] = n
		return nil
	})
}

func (s *Store) MarkNotificationRetry(ctx context.Context, id string, attempts int, next time.Time, lastErr string, final bool) error {
	return lockedErr(s, func(st *state) error {
		n, ok := st.notifications[id]
		if !ok {
			return apperr.NotFound("notification %s not found", id)
		}
		n.Attempts = attempts
		n.NextAttemptAt = next
		n.LastError = &lastErr
		if final {
			n.Status = models.NotificationFailed
		}
		st.notifications[id] = n
		return nil
	})
}

// Notifications returns every outbox row, oldest first
func (s *Store) Notifications() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Notification, 0, len(s.st.notifications))
	for _, n := range s.st.notifications {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	return lockedErr(s, func(st *state) error {
		for _, existing := range st.users {
			if strings.EqualFold(existing.Email, u.Email) {
				return apperr.Conflict("user with email %s already exists", u.Email)
			}
		}
		if u.ID == "" {
			u.ID = uuid.New().String()
		}
		u.CreatedAt = st.now()
		st.users[u.ID] = *u
		return nil
	})
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	return locked(s, func(st *state) (*models.User, error) {
		u, ok := st.users[id]
		if !ok {
			return nil, apperr.NotFound("user %s not found", id)
		}
		return &u, nil
	})
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return locked(s, func(st *state) (*models.User, error) {
		for _, u := range st.users {
			if strings.EqualFold(u.Email, email) {
				u := u
				return &u, nil
			}
		}
		return nil, apperr.NotFound("user %s not found", email)
	})
}

func (s *Store) SetFCMToken(ctx context.Context, userID, token string) error {
	return lockedErr(s, func(st *state) error {
		u, ok := st.users[userID]
		if !ok {
			return apperr.NotFound("user %s not found", userID)
		}
		u.FCMToken = &token
		st.users[userID] = u
		return nil
	})
}

func (s *Store) ListUserIDsByRole(ctx context.Context, role string) ([]string, error) {
	return locked(s, func(st *state) ([]string, error) {
		ids := make([]string, 0)
		for _, u := range st.users {
			if u.Role == role {
				ids = append(ids, u.ID)
			}
		}
		sort.Strings(ids)
		return ids, nil
	})
}
