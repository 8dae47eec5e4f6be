package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/database"
	"wastelink-backend/internal/events"
	"wastelink-backend/internal/lock"
	"wastelink-backend/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const webhookQueue = "payments-apply"

var paymentTransitions = map[models.PaymentStatus][]models.PaymentStatus{
	models.PaymentPending:           {models.PaymentProcessing, models.PaymentCancelled},
	models.PaymentProcessing:        {models.PaymentSuccess, models.PaymentFailed, models.PaymentCancelled},
	models.PaymentSuccess:           {models.PaymentRefunded, models.PaymentPartiallyRefunded},
	models.PaymentPartiallyRefunded: {models.PaymentRefunded, models.PaymentPartiallyRefunded},
}

// CanTransition reports whether a payment may move from one status to another
func CanTransition(from, to models.PaymentStatus) bool {
	for _, s := range paymentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SuccessHandler is invoked after a payment reaches success
type SuccessHandler interface {
	HandlePaymentSucceeded(ctx context.Context, payment *models.Payment) (*models.Job, bool, error)
}

// Service records gateway webhooks and applies them to payments
type Service struct {
	store     database.PaymentStore
	locker    lock.Locker
	onSuccess SuccessHandler
	bus       events.Bus
	secret    string
	now       func() time.Time
}

func NewService(store database.PaymentStore, locker lock.Locker, onSuccess SuccessHandler, bus events.Bus, secret string) *Service {
	return &Service{store: store, locker: locker, onSuccess: onSuccess, bus: bus, secret: secret, now: time.Now}
}

var knownPaymentTypes = map[string]bool{
	models.PaymentTypeDeposit: true,
	models.PaymentTypeFull:    true,
	models.PaymentTypePartial: true,
	models.PaymentTypeFinal:   true,
}

// CreatePayment stores a pending payment. Creating the same (request,
// reference) twice returns the stored row.
func (s *Service) CreatePayment(ctx context.Context, p *models.Payment) (*models.Payment, error) {
	if p.RequestID == "" {
		return nil, apperr.InvalidInput("request_id is required")
	}
	if !p.Amount.IsPositive() {
		return nil, apperr.InvalidInput("amount must be positive")
	}
	if p.PaymentType == "" {
		p.PaymentType = models.PaymentTypeFull
	}
	if !knownPaymentTypes[p.PaymentType] {
		return nil, apperr.InvalidInput("unknown payment_type %q", p.PaymentType)
	}
	if p.Reference == "" {
		p.Reference = "WL-" + uuid.New().String()
	}
	p.Amount = p.Amount.Round(2)
	p.Status = models.PaymentPending
	p.RefundedAmount = decimal.Zero
	p.CompletedAt = nil

	stored, err := s.store.CreatePayment(ctx, p)
	if err != nil {
		return nil, err
	}
	log.Printf("💳 [PAYMENTS] Payment %s (%s) for request %s: %s", stored.ID, stored.Reference, stored.RequestID, stored.Amount.StringFixed(2))
	return stored, nil
}

// ReceiveWebhook verifies and records a raw gateway event, then queues it.
// Without a bus the event is applied before returning.
func (s *Service) ReceiveWebhook(ctx context.Context, body []byte, signature string) (*models.PaymentEvent, error) {
	if err := VerifySignature(s.secret, body, signature); err != nil {
		return nil, err
	}

	var ev GatewayEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, apperr.InvalidInput("malformed webhook payload: %v", err)
	}
	if ev.Event == "" || ev.Ref() == "" {
		return nil, apperr.InvalidInput("webhook payload needs event and reference")
	}

	record := &models.PaymentEvent{
		Reference:     ev.Ref(),
		Event:         ev.Event,
		Payload:       body,
		NextAttemptAt: s.now().Add(replayGrace),
	}
	if err := s.store.RecordPaymentEvent(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to record webhook %s for %s: %w", ev.Event, ev.Ref(), err)
	}
	log.Printf("📥 [PAYMENTS] Webhook %s for %s recorded as %s", ev.Event, ev.Ref(), record.ID)

	if s.bus == nil {
		if _, err := s.ApplyGatewayEvent(ctx, record.ID, ev); err != nil {
			log.Printf("❌ [PAYMENTS] Webhook %s: %v", record.ID, err)
			s.noteFailure(ctx, record.ID, 0, err)
		}
		return record, nil
	}
	if err := s.bus.Publish(ctx, events.SubjectPaymentWebhook, queued{EventID: record.ID, Event: ev}); err != nil {
		// recorded but not queued; the replay worker picks it up after replayGrace
		log.Printf("⚠️  [PAYMENTS] Failed to queue webhook %s: %v", record.ID, err)
	}
	return record, nil
}

// Subscribe consumes queued webhooks from the bus
func (s *Service) Subscribe(bus events.Bus) error {
	return bus.Subscribe(events.SubjectPaymentWebhook, webhookQueue, func(ctx context.Context, data []byte) error {
		var msg queued
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("malformed queued webhook: %w", err)
		}
		if _, err := s.ApplyGatewayEvent(ctx, msg.EventID, msg.Event); err != nil {
			if msg.EventID != "" {
				s.noteFailure(ctx, msg.EventID, 0, err)
			}
			return err
		}
		return nil
	})
}

// ApplyGatewayEvent moves the referenced payment to the event's target status.
// Events for a payment already in that status change nothing, so redelivery is
// harmless. Reaching success hands the payment to the success handler, which
// is itself idempotent.
func (s *Service) ApplyGatewayEvent(ctx context.Context, eventID string, ev GatewayEvent) (*models.Payment, error) {
	ref := ev.Ref()
	unlock, err := s.locker.Lock(ctx, lock.PaymentKey(ref))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindExternalUnavailable, err, "failed to lock payment %s", ref)
	}
	defer unlock()

	p, err := s.store.GetPaymentByReference(ctx, ref)
	if err != nil {
		return nil, err
	}

	switch ev.Event {
	case EventChargeSuccess:
		at := s.now()
		if ev.Data.PaidAt != nil {
			at = *ev.Data.PaidAt
		}
		if err := s.walk(ctx, p, models.PaymentSuccess, &at, decimal.Zero); err != nil {
			return nil, err
		}
	case EventChargeFailed:
		if err := s.walk(ctx, p, models.PaymentFailed, nil, decimal.Zero); err != nil {
			return nil, err
		}
	case EventChargeCancelled:
		if err := s.walk(ctx, p, models.PaymentCancelled, nil, decimal.Zero); err != nil {
			return nil, err
		}
	case EventRefundProcessed:
		if err := s.refund(ctx, p, ev.Data.RefundedAmount); err != nil {
			return nil, err
		}
	default:
		log.Printf("ℹ️  [PAYMENTS] Ignoring %s for %s", ev.Event, ref)
	}

	if p.Status == models.PaymentSuccess && s.onSuccess != nil {
		if _, _, err := s.onSuccess.HandlePaymentSucceeded(ctx, p); err != nil {
			return p, fmt.Errorf("payment %s succeeded but job processing failed: %w", p.ID, err)
		}
	}

	if eventID != "" {
		if err := s.store.MarkPaymentEventProcessed(ctx, eventID, s.now()); err != nil {
			log.Printf("⚠️  [PAYMENTS] Failed to mark webhook %s processed: %v", eventID, err)
		}
	}
	return p, nil
}

// walk advances p to target through processing when needed, updating p in place
func (s *Service) walk(ctx context.Context, p *models.Payment, target models.PaymentStatus, completedAt *time.Time, refunded decimal.Decimal) error {
	if p.Status == target {
		return nil
	}
	if target == models.PaymentSuccess && (p.Status == models.PaymentRefunded || p.Status == models.PaymentPartiallyRefunded) {
		// a late success redelivery after a refund
		return nil
	}
	if p.Status == models.PaymentPending && target != models.PaymentCancelled {
		if err := s.step(ctx, p, models.PaymentProcessing, nil, decimal.Zero); err != nil {
			return err
		}
	}
	if !CanTransition(p.Status, target) {
		return apperr.PreconditionFailed("payment %s cannot move from %s to %s", p.ID, p.Status, target)
	}
	return s.step(ctx, p, target, completedAt, refunded)
}

func (s *Service) step(ctx context.Context, p *models.Payment, to models.PaymentStatus, completedAt *time.Time, refunded decimal.Decimal) error {
	if err := s.store.TransitionPayment(ctx, p.ID, p.Status, to, completedAt, refunded); err != nil {
		return fmt.Errorf("failed to move payment %s to %s: %w", p.ID, to, err)
	}
	log.Printf("💳 [PAYMENTS] Payment %s: %s → %s", p.Reference, p.Status, to)
	p.Status = to
	if completedAt != nil {
		p.CompletedAt = completedAt
	}
	if !refunded.IsZero() {
		p.RefundedAmount = refunded
	}
	return nil
}

// refund applies a cumulative refunded total. Totals at or above the amount are full refunds.
func (s *Service) refund(ctx context.Context, p *models.Payment, total decimal.NullDecimal) error {
	refunded := p.Amount
	if total.Valid {
		refunded = decimal.Min(total.Decimal.Round(2), p.Amount)
	}
	if !refunded.IsPositive() {
		return apperr.InvalidInput("refunded amount must be positive")
	}
	if refunded.Equal(p.RefundedAmount) {
		return nil
	}
	if refunded.LessThan(p.RefundedAmount) {
		return apperr.PreconditionFailed("payment %s already refunded %s", p.ID, p.RefundedAmount.StringFixed(2))
	}

	target := models.PaymentRefunded
	if refunded.LessThan(p.Amount) {
		target = models.PaymentPartiallyRefunded
	}
	if !CanTransition(p.Status, target) {
		return apperr.PreconditionFailed("payment %s cannot be refunded from %s", p.ID, p.Status)
	}
	return s.step(ctx, p, target, nil, refunded)
}

// IsInvalidSignature reports whether err is a signature failure
func IsInvalidSignature(err error) bool {
	return errors.Is(err, ErrInvalidSignature)
}
