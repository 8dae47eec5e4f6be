package models

import (
	"encoding/json"
	"time"
)

const (
	RoleCustomer = "customer"
	RoleProvider = "provider"
	RoleDriver   = "driver"
	RoleAdmin    = "admin"
)

type User struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Password  string    `json:"-" db:"password"` // Never return password in JSON
	Name      string    `json:"name" db:"name"`
	Role      string    `json:"role" db:"role"` // customer, provider, driver or admin
	FCMToken  *string   `json:"-" db:"fcm_token"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func (u *User) ToUserResponse() UserResponse {
	return UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}

const (
	NotificationPending = "pending"
	NotificationSent    = "sent"
	NotificationFailed  = "failed"
)

const (
	NotifyPaymentSuccess = "payment_success"
	NotifyStatusChanged  = "request_status_changed"
	NotifyBidAccepted    = "bid_accepted"
	NotifyBinAlert       = "bin_alert"
	NotifyNewRequest     = "new_service_request"
)

// Notification is an outbox row delivered by the push dispatcher
type Notification struct {
	ID            string          `json:"id" db:"id"`
	UserID        string          `json:"user_id" db:"user_id"`
	Type          string          `json:"type" db:"type"`
	Title         string          `json:"title" db:"title"`
	Body          string          `json:"body" db:"body"`
	Data          json.RawMessage `json:"data" db:"data"`
	Status        string          `json:"status" db:"status"`
	Attempts      int             `json:"attempts" db:"attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at" db:"next_attempt_at"`
	LastError     *string         `json:"last_error,omitempty" db:"last_error"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	SentAt        *time.Time      `json:"sent_at,omitempty" db:"sent_at"`
}
