package lifecycle

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
	"wastelink-backend/internal/services/notify"

	"github.com/shopspring/decimal"
)

// MinJobPricer supplies the minimum price a job may be created or bid at
type MinJobPricer interface {
	MinJobPrice(ctx context.Context) (decimal.Decimal, error)
}

// StatusEvent is published on requests.status after a committed transition
type StatusEvent struct {
	Type      string               `json:"type"`
	RequestID string               `json:"request_id"`
	From      models.RequestStatus `json:"from"`
	To        models.RequestStatus `json:"to"`
	ActorID   *string              `json:"actor_id,omitempty"`
	At        time.Time            `json:"at"`
}

// Coordinator owns the request and job state machines. It is the only path
// that moves a request to accepted, and it creates at most one job per request.
type Coordinator struct {
	store    database.Store
	locker   lock.Locker
	notifier *notify.Service
	bus      events.Bus
	now      func() time.Time
}

func NewCoordinator(store database.Store, locker lock.Locker, notifier *notify.Service, bus events.Bus) *Coordinator {
	return &Coordinator{store: store, locker: locker, notifier: notifier, bus: bus, now: time.Now}
}

// HandlePaymentSucceeded creates the job for a successful payment, priced at
// the payment amount, and advances the request. A request that already has a
// job keeps it and created is false; a full or final payment still accepts a
// request that a deposit left pending.
func (c *Coordinator) HandlePaymentSucceeded(ctx context.Context, payment *models.Payment) (*models.Job, bool, error) {
	if payment.Status != models.PaymentSuccess || payment.CompletedAt == nil {
		return nil, false, apperr.PreconditionFailed("payment %s has not completed successfully", payment.ID)
	}

	unlock, err := c.locker.Lock(ctx, lock.RequestKey(payment.RequestID))
	if err != nil {
		return nil, false, apperr.Wrap(apperr.KindExternalUnavailable, err, "failed to lock request %s", payment.RequestID)
	}
	defer unlock()

	var (
		job     *models.Job
		created bool
		req     *models.ServiceRequest
		from    models.RequestStatus
	)
	err = c.store.WithTx(ctx, func(tx database.Tx) error {
		var err error
		req, err = tx.GetServiceRequest(ctx, payment.RequestID)
		if err != nil {
			return err
		}
		from = req.Status

		existing, err := tx.GetJobByRequest(ctx, payment.RequestID)
		switch {
		case err == nil:
			job = existing
			if payment.PaymentType == models.PaymentTypeDeposit || !awaitingPayment(req.Status) {
				return nil
			}
		case errors.Is(err, apperr.ErrNotFound):
			job = &models.Job{
				RequestID:  req.ID,
				ProviderID: req.AssignedProviderID,
				PaymentID:  payment.ID,
				Price:      payment.Amount,
				Status:     models.JobPending,
				IsInstant:  req.IsInstant,
			}
			if err := tx.CreateJob(ctx, job); err != nil {
				return err
			}
			created = true
		default:
			return err
		}

		req.PaymentStatus = models.PaymentStatusCompleted
		if req.FinalPrice.IsZero() {
			req.FinalPrice = payment.Amount
		}
		switch {
		case payment.PaymentType == models.PaymentTypeDeposit:
			if req.Status == models.RequestDraft {
				req.Status = models.RequestPending
			}
		case awaitingPayment(req.Status):
			req.Status = models.RequestAccepted
		}
		if err := tx.UpdateServiceRequest(ctx, req); err != nil {
			return err
		}

		data, _ := json.Marshal(map[string]interface{}{
			"payment_id":   payment.ID,
			"amount":       payment.Amount.StringFixed(2),
			"payment_type": payment.PaymentType,
			"job_id":       job.ID,
			"from_status":  from,
			"to_status":    req.Status,
		})
		return tx.AppendTimelineEvent(ctx, &models.TimelineEvent{
			RequestID: req.ID,
			EventType: models.TimelinePaymentProcessed,
			Data:      data,
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to process payment %s for request %s: %w", payment.ID, payment.RequestID, err)
	}

	advanced := from != req.Status
	switch {
	case created:
		log.Printf("✅ [LIFECYCLE] Job %s created for request %s (payment %s, %s)", job.ID, req.ID, payment.ID, job.Price.StringFixed(2))
	case advanced:
		log.Printf("✅ [LIFECYCLE] Payment %s moved request %s to %s (job %s)", payment.ID, req.ID, req.Status, job.ID)
	default:
		log.Printf("ℹ️  [LIFECYCLE] Request %s already has job %s, payment %s ignored", payment.RequestID, job.ID, payment.ID)
		return job, false, nil
	}

	c.notifier.Notify(ctx, req.CustomerID, notify.Message{
		Type:  models.NotifyPaymentSuccess,
		Title: "Payment received",
		Body:  fmt.Sprintf("Your payment of %s was received.", payment.Amount.StringFixed(2)),
		Data:  map[string]string{"request_id": req.ID, "payment_id": payment.ID, "job_id": job.ID},
	})
	if advanced {
		c.announce(ctx, req, from, nil)
	}
	return job, created, nil
}

// awaitingPayment reports whether a payment may still accept the request
func awaitingPayment(s models.RequestStatus) bool {
	return s == models.RequestDraft || s == models.RequestPending
}

// TransitionRequest moves a request along its state machine and mirrors the
// job. Acceptance is reserved for payment processing.
func (c *Coordinator) TransitionRequest(ctx context.Context, requestID string, to models.RequestStatus, actorID *string) (*models.ServiceRequest, error) {
	if to == models.RequestAccepted {
		return nil, apperr.PreconditionFailed("requests are accepted when their payment completes")
	}

	unlock, err := c.locker.Lock(ctx, lock.RequestKey(requestID))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindExternalUnavailable, err, "failed to lock request %s", requestID)
	}
	defer unlock()

	var (
		req  *models.ServiceRequest
		from models.RequestStatus
	)
	err = c.store.WithTx(ctx, func(tx database.Tx) error {
		var err error
		req, err = tx.GetServiceRequest(ctx, requestID)
		if err != nil {
			return err
		}
		from = req.Status
		if !CanTransitionRequest(from, to) {
			return apperr.PreconditionFailed("request %s cannot move from %s to %s", requestID, from, to)
		}
		return c.applyTransition(ctx, tx, req, to, actorID)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("🔄 [LIFECYCLE] Request %s: %s → %s", requestID, from, to)
	c.announce(ctx, req, from, actorID)
	return req, nil
}

// applyTransition writes the new status with its timeline event, mirrors the
// job and resets the bin on completion. The caller holds the request lock.
func (c *Coordinator) applyTransition(ctx context.Context, tx database.Tx, req *models.ServiceRequest, to models.RequestStatus, actorID *string) error {
	from := req.Status
	now := c.now()

	req.Status = to
	if err := tx.UpdateServiceRequest(ctx, req); err != nil {
		return err
	}

	data, _ := json.Marshal(map[string]interface{}{"from": from, "to": to})
	if err := tx.AppendTimelineEvent(ctx, &models.TimelineEvent{
		RequestID: req.ID,
		EventType: models.TimelineStatusChanged,
		ActorID:   actorID,
		Data:      data,
	}); err != nil {
		return err
	}

	if jobStatus, ok := jobStatusFor(to); ok {
		job, err := tx.GetJobByRequest(ctx, req.ID)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
		case err != nil:
			return err
		case CanTransitionJob(job.Status, jobStatus):
			job.Status = jobStatus
			switch jobStatus {
			case models.JobInProgress:
				job.StartedAt = &now
			case models.JobCompleted:
				job.CompletedAt = &now
			}
			if err := tx.UpdateJob(ctx, job); err != nil {
				return err
			}
		default:
			log.Printf("⚠️  [LIFECYCLE] Job %s stays %s while request %s moves to %s", job.ID, job.Status, req.ID, to)
		}
	}

	if to == models.RequestCompleted && req.SmartBinID != nil {
		if err := tx.MarkCollected(ctx, *req.SmartBinID, now); err != nil {
			return fmt.Errorf("failed to reset collection time for bin %s: %w", *req.SmartBinID, err)
		}
	}
	return nil
}

// announce publishes a committed status change and notifies both parties
func (c *Coordinator) announce(ctx context.Context, req *models.ServiceRequest, from models.RequestStatus, actorID *string) {
	ev := StatusEvent{Type: "request_status", RequestID: req.ID, From: from, To: req.Status, ActorID: actorID, At: c.now()}
	if c.bus != nil {
		if err := c.bus.Publish(ctx, events.SubjectRequestStatus, ev); err != nil {
			log.Printf("⚠️  [LIFECYCLE] Failed to publish status of request %s: %v", req.ID, err)
		}
	}

	msg := notify.Message{
		Type:  models.NotifyStatusChanged,
		Title: "Request update",
		Body:  fmt.Sprintf("Your %s request is now %s.", humanize(req.ServiceType), humanize(string(req.Status))),
		Data:  map[string]string{"request_id": req.ID, "from": string(from), "to": string(req.Status)},
	}
	c.notifier.Notify(ctx, req.CustomerID, msg)
	if userID := providerUserID(ctx, c.store, req.AssignedProviderID); userID != "" {
		c.notifier.Notify(ctx, userID, msg)
	}
}

// providerUserID resolves the user account behind a provider, or "" when unknown
func providerUserID(ctx context.Context, providers database.ProviderStore, providerID *string) string {
	if providerID == nil {
		return ""
	}
	p, err := providers.GetProvider(ctx, *providerID)
	if err != nil || p.UserID == nil {
		return ""
	}
	return *p.UserID
}

func humanize(s string) string {
	out := []byte(s)
	for i, ch := range out {
		if ch == '_' {
			out[i] = ' '
		}
	}
	return string(out)
}
