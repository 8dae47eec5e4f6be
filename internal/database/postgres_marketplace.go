package database

import (
	"context"
	"fmt"
	"time"

	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const providerColumns = `id, user_id, name, latitude, longitude, waste_types_handled, rating,
	service_radius_km, is_active, created_at`

const bidColumns = `id, request_id, provider_id, amount, counter_offer, message, status, created_at, updated_at`

const jobColumns = `id, request_id, provider_id, payment_id, price, status, is_instant, created_at,
	started_at, completed_at`

const paymentColumns = `id, request_id, amount, refunded_amount, status, payment_type, reference,
	completed_at, created_at, updated_at`

// Providers

func (s *PostgresStore) CreateProvider(ctx context.Context, p *models.Provider) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.WasteTypesHandled == nil {
		p.WasteTypesHandled = []string{}
	}
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO providers (id, user_id, name, latitude, longitude, waste_types_handled, rating,
			service_radius_km, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, p.ID, p.UserID, p.Name, p.Latitude, p.Longitude, p.WasteTypesHandled, p.Rating,
		p.ServiceRadiusKm, p.IsActive,
	).Scan(&p.CreatedAt)
	return classify(err, "provider "+p.ID)
}

func (s *PostgresStore) GetProvider(ctx context.Context, id string) (*models.Provider, error) {
	var p models.Provider
	if err := s.db.GetContext(ctx, &p, `SELECT `+providerColumns+` FROM providers WHERE id = $1`, id); err != nil {
		return nil, classify(err, "provider "+id)
	}
	return &p, nil
}

func (s *PostgresStore) GetProviderByUser(ctx context.Context, userID string) (*models.Provider, error) {
	var p models.Provider
	if err := s.db.GetContext(ctx, &p, `SELECT `+providerColumns+` FROM providers WHERE user_id = $1`, userID); err != nil {
		return nil, classify(err, "provider for user "+userID)
	}
	return &p, nil
}

// ListProvidersNear uses the GIST index on the geography column
func (s *PostgresStore) ListProvidersNear(ctx context.Context, lat, lng, radiusKm float64) ([]models.Provider, error) {
	providers := []models.Provider{}
	err := s.db.SelectContext(ctx, &providers, `
		SELECT `+providerColumns+`
		FROM providers
		WHERE ST_DWithin(location, ST_SetSRID(ST_MakePoint($2, $1), 4326)::geography, $3 * 1000)
		ORDER BY id
	`, lat, lng, radiusKm)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers near (%.5f, %.5f): %w", lat, lng, err)
	}
	return providers, nil
}

func (s *PostgresStore) MaxServiceRadiusKm(ctx context.Context) (float64, error) {
	var radius float64
	if err := s.db.GetContext(ctx, &radius, `SELECT COALESCE(MAX(service_radius_km), 0) FROM providers`); err != nil {
		return 0, fmt.Errorf("failed to load largest service radius: %w", err)
	}
	return radius, nil
}

// Bids

func (s *PostgresStore) CreateBid(ctx context.Context, bid *models.Bid) error {
	if bid.ID == "" {
		bid.ID = uuid.New().String()
	}
	if bid.Status == "" {
		bid.Status = models.BidPending
	}
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO bids (id, request_id, provider_id, amount, counter_offer, message, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, bid.ID, bid.RequestID, bid.ProviderID, bid.Amount, bid.CounterOffer, bid.Message, bid.Status,
	).Scan(&bid.CreatedAt, &bid.UpdatedAt)
	switch constraintOf(err) {
	case "idx_bids_one_pending":
		return apperr.Conflict("provider already has a pending bid on request %s", bid.RequestID)
	case "bids_request_id_fkey":
		return apperr.NotFound("service request %s not found", bid.RequestID)
	case "bids_provider_id_fkey":
		return apperr.NotFound("provider %s not found", bid.ProviderID)
	}
	return classify(err, "bid "+bid.ID)
}

func (s *PostgresStore) GetBid(ctx context.Context, id string) (*models.Bid, error) {
	return getBid(ctx, s.db, id)
}

func getBid(ctx context.Context, q sqlx.QueryerContext, id string) (*models.Bid, error) {
	var bid models.Bid
	if err := sqlx.GetContext(ctx, q, &bid, `SELECT `+bidColumns+` FROM bids WHERE id = $1`, id); err != nil {
		return nil, classify(err, "bid "+id)
	}
	return &bid, nil
}

func (s *PostgresStore) ListBidsByRequest(ctx context.Context, requestID string) ([]models.Bid, error) {
	return listBidsByRequest(ctx, s.db, requestID)
}

func listBidsByRequest(ctx context.Context, q sqlx.QueryerContext, requestID string) ([]models.Bid, error) {
	bids := []models.Bid{}
	err := sqlx.SelectContext(ctx, q, &bids,
		`SELECT `+bidColumns+` FROM bids WHERE request_id = $1 ORDER BY created_at, id`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bids for %s: %w", requestID, err)
	}
	return bids, nil
}

func (s *PostgresStore) ListPendingBidsBefore(ctx context.Context, cutoff time.Time) ([]models.Bid, error) {
	bids := []models.Bid{}
	err := s.db.SelectContext(ctx, &bids,
		`SELECT `+bidColumns+` FROM bids WHERE status = 'pending' AND created_at < $1 ORDER BY id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale bids: %w", err)
	}
	return bids, nil
}

func (s *PostgresStore) UpdateBidStatus(ctx context.Context, id string, from, to models.BidStatus) error {
	return updateBidStatus(ctx, s.db, id, from, to)
}

func updateBidStatus(ctx context.Context, q sqlx.ExtContext, id string, from, to models.BidStatus) error {
	res, err := q.ExecContext(ctx,
		`UPDATE bids SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return classify(err, "bid "+id)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	current, err := getBid(ctx, q, id)
	if err != nil {
		return err
	}
	return apperr.Conflict("bid %s is %s, not %s", id, current.Status, from)
}

func (s *PostgresStore) SetCounterOffer(ctx context.Context, id string, amount decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bids SET counter_offer = $2, updated_at = NOW() WHERE id = $1 AND status = 'pending'`, id, amount)
	if err != nil {
		return classify(err, "bid "+id)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	current, err := s.GetBid(ctx, id)
	if err != nil {
		return err
	}
	return apperr.Conflict("bid %s is %s", id, current.Status)
}

// Jobs

func (s *PostgresStore) GetJobByRequest(ctx context.Context, requestID string) (*models.Job, error) {
	return getJobByRequest(ctx, s.db, requestID)
}

func getJobByRequest(ctx context.Context, q sqlx.QueryerContext, requestID string) (*models.Job, error) {
	var job models.Job
	if err := sqlx.GetContext(ctx, q, &job, `SELECT `+jobColumns+` FROM jobs WHERE request_id = $1`, requestID); err != nil {
		return nil, classify(err, "job for request "+requestID)
	}
	return &job, nil
}

func createJob(ctx context.Context, q sqlx.ExtContext, job *models.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	err := q.QueryRowxContext(ctx, `
		INSERT INTO jobs (id, request_id, provider_id, payment_id, price, status, is_instant, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, job.ID, job.RequestID, job.ProviderID, job.PaymentID, job.Price, job.Status, job.IsInstant,
		job.StartedAt, job.CompletedAt,
	).Scan(&job.CreatedAt)
	if constraintOf(err) == "jobs_request_id_key" {
		return apperr.Conflict("job already exists for request %s", job.RequestID)
	}
	return classify(err, "job "+job.ID)
}

func updateJob(ctx context.Context, q sqlx.ExtContext, job *models.Job) error {
	err := q.QueryRowxContext(ctx, `
		UPDATE jobs SET provider_id = $2, payment_id = $3, price = $4, status = $5, is_instant = $6,
			started_at = $7, completed_at = $8
		WHERE id = $1
		RETURNING created_at
	`, job.ID, job.ProviderID, job.PaymentID, job.Price, job.Status, job.IsInstant,
		job.StartedAt, job.CompletedAt,
	).Scan(&job.CreatedAt)
	return classify(err, "job "+job.ID)
}

// Payments

func (s *PostgresStore) CreatePayment(ctx context.Context, p *models.Payment) (*models.Payment, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	// a repeated reference returns the stored row instead of inserting
	rows, err := s.db.QueryxContext(ctx, `
		INSERT INTO payments (id, request_id, amount, refunded_amount, status, payment_type, reference, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (reference) DO NOTHING
		RETURNING `+paymentColumns,
		p.ID, p.RequestID, p.Amount, p.RefundedAmount, p.Status, p.PaymentType, p.Reference, p.CompletedAt)
	if err != nil {
		if constraintOf(err) == "payments_request_id_fkey" {
			return nil, apperr.NotFound("service request %s not found", p.RequestID)
		}
		return nil, classify(err, "payment "+p.Reference)
	}
	defer rows.Close()

	if rows.Next() {
		var created models.Payment
		if err := rows.StructScan(&created); err != nil {
			return nil, fmt.Errorf("failed to read payment %s: %w", p.Reference, err)
		}
		return &created, nil
	}
	if err := rows.Err(); err != nil {
		if constraintOf(err) == "payments_request_id_fkey" {
			return nil, apperr.NotFound("service request %s not found", p.RequestID)
		}
		return nil, classify(err, "payment "+p.Reference)
	}

	existing, err := s.GetPaymentByReference(ctx, p.Reference)
	if err != nil {
		return nil, err
	}
	if existing.RequestID != p.RequestID {
		return nil, apperr.Conflict("payment reference %s belongs to another request", p.Reference)
	}
	return existing, nil
}

func (s *PostgresStore) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	var p models.Payment
	if err := s.db.GetContext(ctx, &p, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id); err != nil {
		return nil, classify(err, "payment "+id)
	}
	return &p, nil
}

func (s *PostgresStore) GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error) {
	var p models.Payment
	if err := s.db.GetContext(ctx, &p, `SELECT `+paymentColumns+` FROM payments WHERE reference = $1`, reference); err != nil {
		return nil, classify(err, "payment with reference "+reference)
	}
	return &p, nil
}

func (s *PostgresStore) TransitionPayment(ctx context.Context, id string, from, to models.PaymentStatus, completedAt *time.Time, refunded decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payments SET
			status = $3,
			completed_at = COALESCE($4, completed_at),
			refunded_amount = CASE WHEN $5::numeric = 0 THEN refunded_amount ELSE $5::numeric END,
			updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to, completedAt, refunded)
	if err != nil {
		return classify(err, "payment "+id)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	current, err := s.GetPayment(ctx, id)
	if err != nil {
		return err
	}
	return apperr.Conflict("payment %s is %s, not %s", id, current.Status, from)
}

const paymentEventColumns = `id, reference, event, payload, received_at, processed_at,
	attempts, next_attempt_at, last_error, failed_at`

func (s *PostgresStore) RecordPaymentEvent(ctx context.Context, ev *models.PaymentEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	var next *time.Time
	if !ev.NextAttemptAt.IsZero() {
		next = &ev.NextAttemptAt
	}
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO payment_events (id, reference, event, payload, next_attempt_at)
		VALUES ($1, $2, $3, $4::jsonb, COALESCE($5, NOW()))
		RETURNING received_at, next_attempt_at
	`, ev.ID, ev.Reference, ev.Event, jsonb(ev.Payload), next).Scan(&ev.ReceivedAt, &ev.NextAttemptAt)
	return classify(err, "payment event "+ev.ID)
}

func (s *PostgresStore) MarkPaymentEventProcessed(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE payment_events SET processed_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark payment event %s processed: %w", id, err)
	}
	return requireRow(res, "payment event "+id)
}

func (s *PostgresStore) ListUnprocessedPaymentEvents(ctx context.Context, before time.Time, limit int) ([]models.PaymentEvent, error) {
	query, args := paginate(`SELECT `+paymentEventColumns+` FROM payment_events
		WHERE processed_at IS NULL AND failed_at IS NULL AND next_attempt_at <= $1
		ORDER BY next_attempt_at, id`, []interface{}{before}, limit, 0)
	out := []models.PaymentEvent{}
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list unprocessed payment events: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) MarkPaymentEventRetry(ctx context.Context, id string, attempts int, next time.Time, lastErr string, final bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_events SET
			attempts = $2, next_attempt_at = $3, last_error = $4,
			failed_at = CASE WHEN $5 THEN NOW() ELSE failed_at END
		WHERE id = $1
	`, id, attempts, next, lastErr, final)
	if err != nil {
		return fmt.Errorf("failed to record retry for payment event %s: %w", id, err)
	}
	return requireRow(res, "payment event "+id)
}
