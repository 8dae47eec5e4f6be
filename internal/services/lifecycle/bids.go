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
	"wastelink-backend/internal/lock"
	"wastelink-backend/internal/models"
	"wastelink-backend/internal/services/notify"

	"github.com/shopspring/decimal"
)

// BidService runs the bid state machine. Acceptance is serialized per request.
type BidService struct {
	store    database.Store
	locker   lock.Locker
	pricer   MinJobPricer
	notifier *notify.Service
	now      func() time.Time
}

func NewBidService(store database.Store, locker lock.Locker, pricer MinJobPricer, notifier *notify.Service) *BidService {
	return &BidService{store: store, locker: locker, pricer: pricer, notifier: notifier, now: time.Now}
}

func (s *BidService) checkMinimum(ctx context.Context, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperr.InvalidInput("amount must be positive")
	}
	if s.pricer == nil {
		return nil
	}
	floor, err := s.pricer.MinJobPrice(ctx)
	if err != nil {
		return fmt.Errorf("failed to load minimum job price: %w", err)
	}
	if amount.LessThan(floor) {
		return apperr.InvalidInput("amount %s is below the minimum job price %s", amount.StringFixed(2), floor.StringFixed(2))
	}
	return nil
}

// SubmitBid places a provider's bid on an open request. A provider holds at
// most one pending bid per request.
func (s *BidService) SubmitBid(ctx context.Context, providerID, requestID string, amount decimal.Decimal, message string) (*models.Bid, error) {
	if err := s.checkMinimum(ctx, amount); err != nil {
		return nil, err
	}

	provider, err := s.store.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if !provider.IsActive {
		return nil, apperr.PreconditionFailed("provider %s is not active", providerID)
	}

	req, err := s.store.GetServiceRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != models.RequestDraft && req.Status != models.RequestPending {
		return nil, apperr.PreconditionFailed("request %s is %s and no longer takes bids", requestID, req.Status)
	}

	bid := &models.Bid{
		RequestID:  requestID,
		ProviderID: providerID,
		Amount:     amount.Round(2),
		Message:    message,
		Status:     models.BidPending,
	}
	if err := s.store.CreateBid(ctx, bid); err != nil {
		return nil, err
	}

	log.Printf("💬 [BIDS] Provider %s bid %s on request %s", provider.Name, bid.Amount.StringFixed(2), requestID)
	s.notifier.Notify(ctx, req.CustomerID, notify.Message{
		Type:  models.NotifyNewRequest,
		Title: "New bid",
		Body:  fmt.Sprintf("%s offered %s for your request.", provider.Name, bid.Amount.StringFixed(2)),
		Data:  map[string]string{"request_id": requestID, "bid_id": bid.ID},
	})
	return bid, nil
}

// MakeCounterOffer records the customer's counter amount on a pending bid.
// Accepting the bid afterwards uses the counter amount.
func (s *BidService) MakeCounterOffer(ctx context.Context, bidID, customerID string, amount decimal.Decimal) (*models.Bid, error) {
	if err := s.checkMinimum(ctx, amount); err != nil {
		return nil, err
	}

	bid, err := s.store.GetBid(ctx, bidID)
	if err != nil {
		return nil, err
	}
	req, err := s.store.GetServiceRequest(ctx, bid.RequestID)
	if err != nil {
		return nil, err
	}
	if customerID != "" && req.CustomerID != customerID {
		return nil, apperr.PreconditionFailed("only the customer of request %s can counter its bids", req.ID)
	}
	if bid.Status != models.BidPending {
		return nil, apperr.PreconditionFailed("bid %s is %s", bidID, bid.Status)
	}

	if err := s.store.SetCounterOffer(ctx, bidID, amount.Round(2)); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return nil, apperr.PreconditionFailed("bid %s is no longer pending", bidID)
		}
		return nil, err
	}

	updated, err := s.store.GetBid(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if userID := providerUserID(ctx, s.store, &bid.ProviderID); userID != "" {
		s.notifier.Notify(ctx, userID, notify.Message{
			Type:  models.NotifyNewRequest,
			Title: "Counter offer",
			Body:  fmt.Sprintf("The customer countered your bid with %s.", updated.CounterOffer.Decimal.StringFixed(2)),
			Data:  map[string]string{"request_id": req.ID, "bid_id": bidID},
		})
	}
	return updated, nil
}

// RejectBid moves a pending bid to rejected
func (s *BidService) RejectBid(ctx context.Context, bidID string) (*models.Bid, error) {
	if err := s.store.UpdateBidStatus(ctx, bidID, models.BidPending, models.BidRejected); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return nil, apperr.PreconditionFailed("bid %s is not pending", bidID)
		}
		return nil, err
	}
	return s.store.GetBid(ctx, bidID)
}

// AcceptBid accepts one pending bid, rejects the request's other pending bids,
// assigns the provider and prices the request at the agreed amount, all in one
// transaction under the request lock. A draft request moves to pending; it is
// accepted once paid.
func (s *BidService) AcceptBid(ctx context.Context, bidID string, actorID *string) (*models.Bid, *models.ServiceRequest, error) {
	bid, err := s.store.GetBid(ctx, bidID)
	if err != nil {
		return nil, nil, err
	}

	unlock, err := s.locker.Lock(ctx, lock.RequestKey(bid.RequestID))
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindExternalUnavailable, err, "failed to lock request %s", bid.RequestID)
	}
	defer unlock()

	var (
		req      *models.ServiceRequest
		rejected []models.Bid
	)
	err = s.store.WithTx(ctx, func(tx database.Tx) error {
		var err error
		bid, err = tx.GetBid(ctx, bidID)
		if err != nil {
			return err
		}
		if bid.Status != models.BidPending {
			return apperr.PreconditionFailed("bid %s is %s", bidID, bid.Status)
		}

		req, err = tx.GetServiceRequest(ctx, bid.RequestID)
		if err != nil {
			return err
		}
		if req.Status.Terminal() {
			return apperr.PreconditionFailed("request %s is %s", req.ID, req.Status)
		}

		others, err := tx.ListBidsByRequest(ctx, req.ID)
		if err != nil {
			return err
		}
		for _, other := range others {
			if other.Status == models.BidAccepted {
				return apperr.Conflict("request %s already has accepted bid %s", req.ID, other.ID)
			}
		}

		if err := tx.UpdateBidStatus(ctx, bid.ID, models.BidPending, models.BidAccepted); err != nil {
			return err
		}
		bid.Status = models.BidAccepted
		for _, other := range others {
			if other.ID == bid.ID || other.Status != models.BidPending {
				continue
			}
			if err := tx.UpdateBidStatus(ctx, other.ID, models.BidPending, models.BidRejected); err != nil {
				return err
			}
			other.Status = models.BidRejected
			rejected = append(rejected, other)
		}

		providerID := bid.ProviderID
		req.AssignedProviderID = &providerID
		req.FinalPrice = bid.AgreedAmount()
		if req.Status == models.RequestDraft {
			req.Status = models.RequestPending
		}
		if err := tx.UpdateServiceRequest(ctx, req); err != nil {
			return err
		}

		data, _ := json.Marshal(map[string]interface{}{
			"bid_id":      bid.ID,
			"provider_id": bid.ProviderID,
			"amount":      req.FinalPrice.StringFixed(2),
			"rejected":    len(rejected),
		})
		return tx.AppendTimelineEvent(ctx, &models.TimelineEvent{
			RequestID: req.ID,
			EventType: models.TimelineBidAccepted,
			ActorID:   actorID,
			Data:      data,
		})
	})
	if err != nil {
		return nil, nil, err
	}

	log.Printf("🤝 [BIDS] Bid %s accepted for request %s at %s, %d other bids rejected",
		bid.ID, req.ID, req.FinalPrice.StringFixed(2), len(rejected))

	if userID := providerUserID(ctx, s.store, &bid.ProviderID); userID != "" {
		s.notifier.Notify(ctx, userID, notify.Message{
			Type:  models.NotifyBidAccepted,
			Title: "Bid accepted",
			Body:  fmt.Sprintf("Your bid of %s was accepted.", req.FinalPrice.StringFixed(2)),
			Data:  map[string]string{"request_id": req.ID, "bid_id": bid.ID},
		})
	}
	return bid, req, nil
}

// ExpireStaleBids expires pending bids created before now-ttl
func (s *BidService) ExpireStaleBids(ctx context.Context, now time.Time, ttl time.Duration) (int, error) {
	stale, err := s.store.ListPendingBidsBefore(ctx, now.Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("failed to list stale bids: %w", err)
	}

	expired := 0
	for _, b := range stale {
		err := s.store.UpdateBidStatus(ctx, b.ID, models.BidPending, models.BidExpired)
		if errors.Is(err, apperr.ErrConflict) {
			continue
		}
		if err != nil {
			return expired, fmt.Errorf("failed to expire bid %s: %w", b.ID, err)
		}
		expired++
	}
	return expired, nil
}

// RunExpiry expires stale bids every interval until ctx is done
func (s *BidService) RunExpiry(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := s.ExpireStaleBids(ctx, now, ttl)
			if err != nil {
				log.Printf("❌ [BIDS] Expiry failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("⏰ [BIDS] Expired %d stale bids", n)
			}
		}
	}
}
