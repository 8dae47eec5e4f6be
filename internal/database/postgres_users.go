package database

import (
	"context"
	"fmt"
	"time"

	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/models"

	"github.com/google/uuid"
)

const userColumns = `id, email, password, name, role, fcm_token, created_at`

const notificationColumns = `id, user_id, type, title, body, data, status, attempts, next_attempt_at,
	last_error, created_at, sent_at`

func (s *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO users (id, email, password, name, role, fcm_token)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, u.ID, u.Email, u.Password, u.Name, u.Role, u.FCMToken).Scan(&u.CreatedAt)
	if constraintOf(err) == "idx_users_email" {
		return apperr.Conflict("user with email %s already exists", u.Email)
	}
	return classify(err, "user "+u.ID)
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := s.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = $1`, id); err != nil {
		return nil, classify(err, "user "+id)
	}
	return &u, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email)
	if err != nil {
		return nil, classify(err, "user "+email)
	}
	return &u, nil
}

func (s *PostgresStore) SetFCMToken(ctx context.Context, userID, token string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET fcm_token = $2 WHERE id = $1`, userID, token)
	if err != nil {
		return fmt.Errorf("failed to update FCM token: %w", err)
	}
	return requireRow(res, "user "+userID)
}

func (s *PostgresStore) ListUserIDsByRole(ctx context.Context, role string) ([]string, error) {
	ids := []string{}
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM users WHERE role = $1 ORDER BY id`, role); err != nil {
		return nil, fmt.Errorf("failed to list %s users: %w", role, err)
	}
	return ids, nil
}

// Notification outbox

func (s *PostgresStore) EnqueueNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Status == "" {
		n.Status = models.NotificationPending
	}
	var next *time.Time
	if !n.NextAttemptAt.IsZero() {
		next = &n.NextAttemptAt
	}
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, body, data, status, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, COALESCE($8, NOW()))
		RETURNING data, created_at, next_attempt_at
	`, n.ID, n.UserID, n.Type, n.Title, n.Body, jsonb(n.Data), n.Status, next,
	).Scan(&n.Data, &n.CreatedAt, &n.NextAttemptAt)
	return classify(err, "notification "+n.ID)
}

func (s *PostgresStore) ListDueNotifications(ctx context.Context, now time.Time, limit int) ([]models.Notification, error) {
	query, args := paginate(`SELECT `+notificationColumns+` FROM notifications
		WHERE status = 'pending' AND next_attempt_at <= $1
		ORDER BY next_attempt_at, id`, []interface{}{now}, limit, 0)
	out := []models.Notification{}
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list due notifications: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) MarkNotificationSent(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET status = 'sent', attempts = attempts + 1, sent_at = $2
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark notification %s sent: %w", id, err)
	}
	return requireRow(res, "notification "+id)
}

func (s *PostgresStore) MarkNotificationRetry(ctx context.Context, id string, attempts int, next time.Time, lastErr string, final bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET
			attempts = $2, next_attempt_at = $3, last_error = $4,
			status = CASE WHEN $5 THEN 'failed' ELSE status END
		WHERE id = $1
	`, id, attempts, next, lastErr, final)
	if err != nil {
		return fmt.Errorf("failed to record retry for notification %s: %w", id, err)
	}
	return requireRow(res, "notification "+id)
}
