package models

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type Provider struct {
	ID                string         `json:"id" db:"id"`
	UserID            *string        `json:"user_id,omitempty" db:"user_id"`
	Name              string         `json:"name" db:"name"`
	Latitude          float64        `json:"latitude" db:"latitude"`
	Longitude         float64        `json:"longitude" db:"longitude"`
	WasteTypesHandled pq.StringArray `json:"waste_types_handled" db:"waste_types_handled"`
	Rating            float64        `json:"rating" db:"rating"`
	ServiceRadiusKm   float64        `json:"service_radius_km" db:"service_radius_km"`
	IsActive          bool           `json:"is_active" db:"is_active"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
}

func (p *Provider) Handles(wasteType string) bool {
	for _, w := range p.WasteTypesHandled {
		if w == wasteType {
			return true
		}
	}
	return false
}

type BidStatus string

const (
	BidPending  BidStatus = "pending"
	BidAccepted BidStatus = "accepted"
	BidRejected BidStatus = "rejected"
	BidExpired  BidStatus = "expired"
)

type Bid struct {
	ID           string              `json:"id" db:"id"`
	RequestID    string              `json:"request_id" db:"request_id"`
	ProviderID   string              `json:"provider_id" db:"provider_id"`
	Amount       decimal.Decimal     `json:"amount" db:"amount"`
	CounterOffer decimal.NullDecimal `json:"counter_offer" db:"counter_offer"`
	Message      string              `json:"message" db:"message"`
	Status       BidStatus           `json:"status" db:"status"`
	CreatedAt    time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at" db:"updated_at"`
}

// AgreedAmount is the counter offer when one was made, otherwise the bid amount
func (b *Bid) AgreedAmount() decimal.Decimal {
	if b.CounterOffer.Valid {
		return b.CounterOffer.Decimal
	}
	return b.Amount
}

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobCancelled  JobStatus = "cancelled"
)

type Job struct {
	ID          string          `json:"id" db:"id"`
	RequestID   string          `json:"request_id" db:"request_id"`
	ProviderID  *string         `json:"provider_id,omitempty" db:"provider_id"`
	PaymentID   string          `json:"payment_id" db:"payment_id"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Status      JobStatus       `json:"status" db:"status"`
	IsInstant   bool            `json:"is_instant" db:"is_instant"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentProcessing        PaymentStatus = "processing"
	PaymentSuccess           PaymentStatus = "success"
	PaymentFailed            PaymentStatus = "failed"
	PaymentCancelled         PaymentStatus = "cancelled"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

const (
	PaymentTypeDeposit = "deposit"
	PaymentTypeFull    = "full_payment"
	PaymentTypePartial = "partial_payment"
	PaymentTypeFinal   = "final_payment"
)

type Payment struct {
	ID             string          `json:"id" db:"id"`
	RequestID      string          `json:"request_id" db:"request_id"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	RefundedAmount decimal.Decimal `json:"refunded_amount" db:"refunded_amount"`
	Status         PaymentStatus   `json:"status" db:"status"`
	PaymentType    string          `json:"payment_type" db:"payment_type"`
	Reference      string          `json:"reference" db:"reference"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// PaymentEvent is the raw gateway webhook as received
type PaymentEvent struct {
	ID          string          `json:"id" db:"id"`
	Reference   string          `json:"reference" db:"reference"`
	Event       string          `json:"event" db:"event"`
	Payload     json.RawMessage `json:"payload" db:"payload"`
	ReceivedAt  time.Time       `json:"received_at" db:"received_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty" db:"processed_at"`

	// Replay bookkeeping for events whose first application failed
	Attempts      int        `json:"attempts" db:"attempts"`
	NextAttemptAt time.Time  `json:"next_attempt_at" db:"next_attempt_at"`
	LastError     *string    `json:"last_error,omitempty" db:"last_error"`
	FailedAt      *time.Time `json:"failed_at,omitempty" db:"failed_at"`
}
