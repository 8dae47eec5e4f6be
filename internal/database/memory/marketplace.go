package memory

import (
	"context"
	"sort"
	"time"

	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/geo"
	"wastelink-backend/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func (s *Store) CreateProvider(ctx context.Context, p *models.Provider) error {
	return lockedErr(s, func(st *state) error {
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		p.CreatedAt = st.now()
		st.providers[p.ID] = *p
		return nil
	})
}

func (s *Store) GetProvider(ctx context.Context, id string) (*models.Provider, error) {
	return locked(s, func(st *state) (*models.Provider, error) {
		p, ok := st.providers[id]
		if !ok {
			return nil, apperr.NotFound("provider %s not found", id)
		}
		return &p, nil
	})
}

func (s *Store) GetProviderByUser(ctx context.Context, userID string) (*models.Provider, error) {
	return locked(s, func(st *state) (*models.Provider, error) {
		for _, p := range st.providers {
			if p.UserID != nil && *p.UserID == userID {
				p := p
				return &p, nil
			}
		}
		return nil, apperr.NotFound("no provider for user %s", userID)
	})
}

func (s *Store) ListProvidersNear(ctx context.Context, lat, lng, radiusKm float64) ([]models.Provider, error) {
	return locked(s, func(st *state) ([]models.Provider, error) {
		origin := geo.Point{Latitude: lat, Longitude: lng}
		out := make([]models.Provider, 0)
		for _, p := range st.providers {
			if geo.DistanceKm(origin, geo.Point{Latitude: p.Latitude, Longitude: p.Longitude}) <= radiusKm {
				out = append(out, p)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out, nil
	})
}

func (s *Store) MaxServiceRadiusKm(ctx context.Context) (float64, error) {
	return locked(s, func(st *state) (float64, error) {
		radius := 0.0
		for _, p := range st.providers {
			if p.ServiceRadiusKm > radius {
				radius = p.ServiceRadiusKm
			}
		}
		return radius, nil
	})
}

func (s *Store) CreateBid(ctx context.Context, bid *models.Bid) error {
	return lockedErr(s, func(st *state) error {
		if _, ok := st.requests[bid.RequestID]; !ok {
			return apperr.NotFound("service request %s not found", bid.RequestID)
		}
		for _, b := range st.bids {
			if b.RequestID == bid.RequestID && b.ProviderID == bid.ProviderID && b.Status == models.BidPending {
				return apperr.Conflict("provider already has a pending bid on request %s", bid.RequestID)
			}
		}
		if bid.ID == "" {
			bid.ID = uuid.New().String()
		}
		now := st.now()
		bid.CreatedAt, bid.UpdatedAt = now, now
		st.bids[bid.ID] = *bid
		return nil
	})
}

func (s *Store) GetBid(ctx context.Context, id string) (*models.Bid, error) {
	return locked(s, func(st *state) (*models.Bid, error) { return st.GetBid(ctx, id) })
}

func (st *state) GetBid(ctx context.Context, id string) (*models.Bid, error) {
	b, ok := st.bids[id]
	if !ok {
		return nil, apperr.NotFound("bid %s not found", id)
	}
	return &b, nil
}

func (s *Store) ListBidsByRequest(ctx context.Context, requestID string) ([]models.Bid, error) {
	return locked(s, func(st *state) ([]models.Bid, error) { return st.ListBidsByRequest(ctx, requestID) })
}

func (st *state) ListBidsByRequest(ctx context.Context, requestID string) ([]models.Bid, error) {
	out := make([]models.Bid, 0)
	for _, b := range st.bids {
		if b.RequestID == requestID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) ListPendingBidsBefore(ctx context.Context, cutoff time.Time) ([]models.Bid, error) {
	return locked(s, func(st *state) ([]models.Bid, error) {
		out := make([]models.Bid, 0)
		for _, b := range st.bids {
			if b.Status == models.BidPending && b.CreatedAt.Before(cutoff) {
				out = append(out, b)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out, nil
	})
}

func (s *Store) UpdateBidStatus(ctx context.Context, id string, from, to models.BidStatus) error {
	return lockedErr(s, func(st *state) error { return st.UpdateBidStatus(ctx, id, from, to) })
}

func (st *state) UpdateBidStatus(ctx context.Context, id string, from, to models.BidStatus) error {
	b, ok := st.bids[id]
	if !ok {
		return apperr.NotFound("bid %s not found", id)
	}
	if b.Status != from {
		return apperr.Conflict("bid %s is %s, not %s", id, b.Status, from)
	}
	b.Status = to
	b.UpdatedAt = st.now()
	st.bids[id] = b
	return nil
}

func (s *Store) SetCounterOffer(ctx context.Context, id string, amount decimal.Decimal) error {
	return lockedErr(s, func(st *state) error {
		b, ok := st.bids[id]
		if !ok {
			return apperr.NotFound("bid %s not found", id)
		}
		if b.Status != models.BidPending {
			return apperr.Conflict("bid %s is %s", id, b.Status)
		}
		b.CounterOffer = decimal.NewNullDecimal(amount)
		b.UpdatedAt = st.now()
		st.bids[id] = b
		return nil
	})
}

func (s *Store) GetJobByRequest(ctx context.Context, requestID string) (*models.Job, error) {
	return locked(s, func(st *state) (*models.Job, error) { return st.GetJobByRequest(ctx, requestID) })
}

func (st *state) GetJobByRequest(ctx context.Context, requestID string) (*models.Job, error) {
	for _, j := range st.jobs {
		if j.RequestID == requestID {
			j := j
			return &j, nil
		}
	}
	return nil, apperr.NotFound("no job for request %s", requestID)
}

func (st *state) CreateJob(ctx context.Context, job *models.Job) error {
	for _, j := range st.jobs {
		if j.RequestID == job.RequestID {
			return apperr.Conflict("job already exists for request %s", job.RequestID)
		}
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.CreatedAt = st.now()
	st.jobs[job.ID] = *job
	return nil
}

func (st *state) UpdateJob(ctx context.Context, job *models.Job) error {
	existing, ok := st.jobs[job.ID]
	if !ok {
		return apperr.NotFound("job %s not found", job.ID)
	}
	job.CreatedAt = existing.CreatedAt
	st.jobs[job.ID] = *job
	return nil
}

func (s *Store) CreatePayment(ctx context.Context, p *models.Payment) (*models.Payment, error) {
	return locked(s, func(st *state) (*models.Payment, error) {
		for _, existing := range st.payments {
			if existing.Reference == p.Reference {
				if existing.RequestID != p.RequestID {
					return nil, apperr.Conflict("payment reference %s belongs to another request", p.Reference)
				}
				existing := existing
				return &existing, nil
			}
		}
		if _, ok := st.requests[p.RequestID]; !ok {
			return nil, apperr.NotFound("service request %s not found", p.RequestID)
		}
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		now := st.now()
		p.CreatedAt, p.UpdatedAt = now, now
		st.payments[p.ID] = *p
		created := *p
		return &created, nil
	})
}

func (s *Store) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	return locked(s, func(st *state) (*models.Payment, error) {
		p, ok := st.payments[id]
		if !ok {
			return nil, apperr.NotFound("payment %s not found", id)
		}
		return &p, nil
	})
}

func (s *Store) GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error) {
	return locked(s, func(st *state) (*models.Payment, error) {
		for _, p := range st.payments {
			if p.Reference == reference {
				p := p
				return &p, nil
			}
		}
		return nil, apperr.NotFound("payment with reference %s not found", reference)
	})
}

func (s *Store) TransitionPayment(ctx context.Context, id string, from, to models.PaymentStatus, completedAt *time.Time, refunded decimal.Decimal) error {
	return lockedErr(s, func(st *state) error {
		p, ok := st.payments[id]
		if !ok {
			return apperr.NotFound("payment %s not found", id)
		}
		if p.Status != from {
			return apperr.Conflict("payment %s is %s, not %s", id, p.Status, from)
		}
		p.Status = to
		if completedAt != nil {
			p.CompletedAt = completedAt
		}
		if !refunded.IsZero() {
			p.RefundedAmount = refunded
		}
		p.UpdatedAt = st.now()
		st.payments[id] = p
		return nil
	})
}

func (s *Store) RecordPaymentEvent(ctx context.Context, ev *models.PaymentEvent) error {
	return lockedErr(s, func(st *state) error {
		if ev.ID == "" {
			ev.ID = uuid.New().String()
		}
		ev.ReceivedAt = st.now()
		if ev.NextAttemptAt.IsZero() {
			ev.NextAttemptAt = ev.ReceivedAt
		}
		st.paymentEvents = append(st.paymentEvents, *ev)
		return nil
	})
}

func (s *Store) MarkPaymentEventProcessed(ctx context.Context, id string, at time.Time) error {
	return lockedErr(s, func(st *state) error {
		for i := range st.paymentEvents {
			if st.paymentEvents[i].ID == id {
				st.paymentEvents[i].ProcessedAt = &at
				return nil
			}
		}
		return apperr.NotFound("payment event %s not found", id)
	})
}

func (s *Store) ListUnprocessedPaymentEvents(ctx context.Context, before time.Time, limit int) ([]models.PaymentEvent, error) {
	return locked(s, func(st *state) ([]models.PaymentEvent, error) {
		out := make([]models.PaymentEvent, 0)
		for _, ev := range st.paymentEvents {
			if ev.ProcessedAt == nil && ev.FailedAt == nil && !ev.NextAttemptAt.After(before) {
				out = append(out, ev)
			}
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].NextAttemptAt.Before(out[j].NextAttemptAt) })
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return out, nil
	})
}

func (s *Store) MarkPaymentEventRetry(ctx context.Context, id string, attempts int, next time.Time, lastErr string, final bool) error {
	return lockedErr(s, func(st *state) error {
		for i := range st.paymentEvents {
			ev := &st.paymentEvents[i]
			if ev.ID != id {
				continue
			}
			ev.Attempts = attempts
			ev.NextAttemptAt = next
			ev.LastError = &lastErr
			if final {
				at := st.now()
				ev.FailedAt = &at
			}
			return nil
		}
		return apperr.NotFound("payment event %s not found", id)
	})
}

// PaymentEvents returns every recorded gateway event
func (s *Store) PaymentEvents() []models.PaymentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PaymentEvent(nil), s.st.paymentEvents...)
}
