package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type RequestStatus string

const (
	RequestDraft      RequestStatus = "draft"
	RequestPending    RequestStatus = "pending"
	RequestAccepted   RequestStatus = "accepted"
	RequestEnRoute    RequestStatus = "en_route"
	RequestInProgress RequestStatus = "in_progress"
	RequestCompleted  RequestStatus = "completed"
	RequestCancelled  RequestStatus = "cancelled"
)

func (s RequestStatus) Terminal() bool {
	return s == RequestCompleted || s == RequestCancelled
}

const (
	ServiceWasteCollection         = "waste_collection"
	ServiceRecycling               = "recycling"
	ServiceHazardousWaste          = "hazardous_waste"
	ServiceBinMaintenance          = "bin_maintenance"
	ServiceWasteAudit              = "waste_audit"
	ServiceEnvironmentalConsulting = "environmental_consulting"
	ServiceMoving                  = "moving"
	ServiceDelivery                = "delivery"
)

const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
)

type ServiceRequest struct {
	ID                      string          `json:"id" db:"id"`
	CustomerID              string          `json:"customer_id" db:"customer_id"`
	AssignedProviderID      *string         `json:"assigned_provider_id,omitempty" db:"assigned_provider_id"`
	SmartBinID              *string         `json:"smart_bin_id,omitempty" db:"smart_bin_id"`
	ServiceType             string          `json:"service_type" db:"service_type"`
	WasteType               *string         `json:"waste_type,omitempty" db:"waste_type"`
	Priority                string          `json:"priority" db:"priority"`
	Status                  RequestStatus   `json:"status" db:"status"`
	PaymentStatus           string          `json:"payment_status" db:"payment_status"`
	IsInstant               bool            `json:"is_instant" db:"is_instant"`
	IsRecurring             bool            `json:"is_recurring" db:"is_recurring"`
	RecurrencePattern       *string         `json:"recurrence_pattern,omitempty" db:"recurrence_pattern"`
	RequiresSpecialHandling bool            `json:"requires_special_handling" db:"requires_special_handling"`
	EstimatedDistanceKm     float64         `json:"estimated_distance_km" db:"estimated_distance_km"`
	EstimatedWeightKg       float64         `json:"estimated_weight_kg" db:"estimated_weight_kg"`
	StaffRequired           int             `json:"staff_required" db:"staff_required"`
	InsuranceRequired       bool            `json:"insurance_required" db:"insurance_required"`
	InsuranceValue          decimal.Decimal `json:"insurance_value" db:"insurance_value"`
	BasePrice               decimal.Decimal `json:"base_price" db:"base_price"`
	FinalPrice              decimal.Decimal `json:"final_price" db:"final_price"`
	CollectionPriority      *float64        `json:"collection_priority,omitempty" db:"collection_priority"`
	ScheduledAt             *time.Time      `json:"scheduled_at,omitempty" db:"scheduled_at"`
	CreatedAt               time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at" db:"updated_at"`

	Stops []JourneyStop `json:"stops" db:"-"`
}

// Pickup returns the first pickup stop, or the first stop when none is typed pickup
func (r *ServiceRequest) Pickup() (JourneyStop, bool) {
	for _, s := range r.Stops {
		if s.StopType == StopPickup {
			return s, true
		}
	}
	if len(r.Stops) > 0 {
		return r.Stops[0], true
	}
	return JourneyStop{}, false
}

const (
	StopPickup       = "pickup"
	StopDropoff      = "dropoff"
	StopIntermediate = "intermediate"
)

type JourneyStop struct {
	ID        string  `json:"id" db:"id"`
	RequestID string  `json:"request_id" db:"request_id"`
	Sequence  int     `json:"sequence" db:"sequence"`
	StopType  string  `json:"stop_type" db:"stop_type"`
	Latitude  float64 `json:"latitude" db:"latitude"`
	Longitude float64 `json:"longitude" db:"longitude"`
	Address   string  `json:"address" db:"address"`
}

const (
	TimelineCreated          = "created"
	TimelineStatusChanged    = "status_changed"
	TimelineBidAccepted      = "bid_accepted"
	TimelinePaymentProcessed = "payment_processed"
)

// TimelineEvent is an append-only audit record on a service request
type TimelineEvent struct {
	ID        string          `json:"id" db:"id"`
	RequestID string          `json:"request_id" db:"request_id"`
	EventType string          `json:"event_type" db:"event_type"`
	ActorID   *string         `json:"actor_id,omitempty" db:"actor_id"`
	Data      json.RawMessage `json:"data" db:"data"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
