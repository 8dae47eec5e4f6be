package database

import (
	"context"
	"time"

	"wastelink-backend/internal/models"

	"github.com/shopspring/decimal"
)

type PricingStore interface {
	// GetActiveConfiguration returns apperr NotFound when no row is active
	GetActiveConfiguration(ctx context.Context) (*models.PricingConfiguration, error)
	GetConfiguration(ctx context.Context, id string) (*models.PricingConfiguration, error)
	ListConfigurations(ctx context.Context) ([]models.PricingConfiguration, error)
	CreateConfiguration(ctx context.Context, cfg *models.PricingConfiguration) error
	UpdateConfiguration(ctx context.Context, cfg *models.PricingConfiguration) error
	// ActivateConfiguration sets is_active on id and clears it everywhere else in one statement
	ActivateConfiguration(ctx context.Context, id string) error
	ListFactors(ctx context.Context, configurationID string, kind models.FactorKind) ([]models.PricingFactor, error)
	CreateFactor(ctx context.Context, f *models.PricingFactor) error
}

type RequestFilter struct {
	Status      string
	ServiceType string
	CustomerID  string
	Limit       int
	Offset      int
}

type ServiceRequestStore interface {
	// CreateServiceRequest inserts the request, its stops and a created timeline event.
	// A second active request for the same smart bin fails with apperr Conflict.
	CreateServiceRequest(ctx context.Context, req *models.ServiceRequest) error
	GetServiceRequest(ctx context.Context, id string) (*models.ServiceRequest, error)
	ListServiceRequests(ctx context.Context, f RequestFilter) ([]models.ServiceRequest, error)
	ListTimeline(ctx context.Context, requestID string) ([]models.TimelineEvent, error)
	HasActiveRequestForBin(ctx context.Context, binID string) (bool, error)
}

type BinFilter struct {
	FillStatus string
	OwnerID    string
	Limit      int
	Offset     int
}

type BinStore interface {
	CreateBin(ctx context.Context, bin *models.SmartBin) error
	GetBin(ctx context.Context, id string) (*models.SmartBin, error)
	ListBins(ctx context.Context, f BinFilter) ([]models.SmartBin, error)
	// ApplyReading appends the reading and, when updated is non-nil, writes the
	// derived bin state guarded by expectedUpdatedAt. Both happen in one
	// transaction; a stale guard fails with apperr Conflict and nothing is written.
	ApplyReading(ctx context.Context, reading *models.SensorReading, updated *models.SmartBin, expectedUpdatedAt time.Time) error
	ListReadings(ctx context.Context, binID string, limit int) ([]models.SensorReading, error)
	MarkCollected(ctx context.Context, binID string, at time.Time) error
	MarkMaintained(ctx context.Context, binID string, at time.Time) error
}

type AlertFilter struct {
	BinID     string
	AlertType string
	// OwnerID limits alerts to bins with this owner
	OwnerID string
	// Status is "active", "resolved" or empty for both
	Status string
	Limit  int
	Offset int
}

type AlertStore interface {
	// CreateAlertIfAbsent inserts the alert unless an unresolved one of the same
	// (bin, type) exists. It reports whether a row was inserted.
	CreateAlertIfAbsent(ctx context.Context, alert *models.BinAlert) (bool, error)
	GetAlert(ctx context.Context, id string) (*models.BinAlert, error)
	GetActiveAlert(ctx context.Context, binID, alertType string) (*models.BinAlert, error)
	EscalateAlert(ctx context.Context, id, priority, message string) error
	ResolveAlert(ctx context.Context, id string, at time.Time, resolvedBy *string) error
	ListAlerts(ctx context.Context, f AlertFilter) ([]models.BinAlert, error)
}

type ProviderStore interface {
	CreateProvider(ctx context.Context, p *models.Provider) error
	GetProvider(ctx context.Context, id string) (*models.Provider, error)
	GetProviderByUser(ctx context.Context, userID string) (*models.Provider, error)
	// ListProvidersNear returns providers whose base location is within radiusKm of the point
	ListProvidersNear(ctx context.Context, lat, lng, radiusKm float64) ([]models.Provider, error)
	// MaxServiceRadiusKm is the largest service radius of any provider, 0 with none
	MaxServiceRadiusKm(ctx context.Context) (float64, error)
}

type BidStore interface {
	// CreateBid fails with apperr Conflict when the provider already has a pending bid on the request
	CreateBid(ctx context.Context, bid *models.Bid) error
	GetBid(ctx context.Context, id string) (*models.Bid, error)
	ListBidsByRequest(ctx context.Context, requestID string) ([]models.Bid, error)
	ListPendingBidsBefore(ctx context.Context, cutoff time.Time) ([]models.Bid, error)
	// UpdateBidStatus moves a bid from one status to another; apperr Conflict if it is no longer in from
	UpdateBidStatus(ctx context.Context, id string, from, to models.BidStatus) error
	SetCounterOffer(ctx context.Context, id string, amount decimal.Decimal) error
}

type JobStore interface {
	GetJobByRequest(ctx context.Context, requestID string) (*models.Job, error)
}

type PaymentStore interface {
	// CreatePayment is idempotent by (request, reference) and returns the stored row
	CreatePayment(ctx context.Context, p *models.Payment) (*models.Payment, error)
	GetPayment(ctx context.Context, id string) (*models.Payment, error)
	GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error)
	// TransitionPayment compare-and-sets status; apperr Conflict if the row is no longer in from
	TransitionPayment(ctx context.Context, id string, from, to models.PaymentStatus, completedAt *time.Time, refunded decimal.Decimal) error
	// RecordPaymentEvent stores a raw webhook; it becomes eligible for replay at ev.NextAttemptAt
	RecordPaymentEvent(ctx context.Context, ev *models.PaymentEvent) error
	MarkPaymentEventProcessed(ctx context.Context, id string, at time.Time) error
	// ListUnprocessedPaymentEvents returns events neither processed nor failed whose next attempt is due by before
	ListUnprocessedPaymentEvents(ctx context.Context, before time.Time, limit int) ([]models.PaymentEvent, error)
	// MarkPaymentEventRetry records a failed replay and the next attempt time, or failure when final
	MarkPaymentEventRetry(ctx context.Context, id string, attempts int, next time.Time, lastErr string, final bool) error
}

type NotificationStore interface {
	EnqueueNotification(ctx context.Context, n *models.Notification) error
	ListDueNotifications(ctx context.Context, now time.Time, limit int) ([]models.Notification, error)
	MarkNotificationSent(ctx context.Context, id string, at time.Time) error
	// MarkNotificationRetry records a failed attempt and the next attempt time, or failure when final
	MarkNotificationRetry(ctx context.Context, id string, attempts int, next time.Time, lastErr string, final bool) error
}

type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	SetFCMToken(ctx context.Context, userID, token string) error
	ListUserIDsByRole(ctx context.Context, role string) ([]string, error)
}

// Tx is the set of operations that must commit together for bid acceptance,
// payment processing and request transitions.
type Tx interface {
	GetServiceRequest(ctx context.Context, id string) (*models.ServiceRequest, error)
	UpdateServiceRequest(ctx context.Context, req *models.ServiceRequest) error
	AppendTimelineEvent(ctx context.Context, ev *models.TimelineEvent) error
	GetJobByRequest(ctx context.Context, requestID string) (*models.Job, error)
	CreateJob(ctx context.Context, job *models.Job) error
	UpdateJob(ctx context.Context, job *models.Job) error
	GetBid(ctx context.Context, id string) (*models.Bid, error)
	ListBidsByRequest(ctx context.Context, requestID string) ([]models.Bid, error)
	UpdateBidStatus(ctx context.Context, id string, from, to models.BidStatus) error
	MarkCollected(ctx context.Context, binID string, at time.Time) error
}

type TxRunner interface {
	// WithTx runs fn in one transaction, rolling back when fn returns an error
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Store is every repository the server needs
type Store interface {
	PricingStore
	ServiceRequestStore
	BinStore
	AlertStore
	ProviderStore
	BidStore
	JobStore
	PaymentStore
	NotificationStore
	UserStore
	TxRunner
}
