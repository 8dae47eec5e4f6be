package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const serviceRequestColumns = `id, customer_id, assigned_provider_id, smart_bin_id, service_type, waste_type,
	priority, status, payment_status, is_instant, is_recurring, recurrence_pattern,
	requires_special_handling, estimated_distance_km, estimated_weight_kg, staff_required,
	insurance_required, insurance_value, base_price, final_price, collection_priority,
	scheduled_at, created_at, updated_at`

const journeyStopColumns = `id, request_id, sequence, stop_type, latitude, longitude, address`

func (s *PostgresStore) CreateServiceRequest(ctx context.Context, req *models.ServiceRequest) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx, `
			INSERT INTO service_requests (
				id, customer_id, assigned_provider_id, smart_bin_id, service_type, waste_type,
				priority, status, payment_status, is_instant, is_recurring, recurrence_pattern,
				requires_special_handling, estimated_distance_km, estimated_weight_kg, staff_required,
				insurance_required, insurance_value, base_price, final_price, collection_priority,
				scheduled_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
			RETURNING created_at, updated_at
		`, req.ID, req.CustomerID, req.AssignedProviderID, req.SmartBinID, req.ServiceType, req.WasteType,
			req.Priority, req.Status, req.PaymentStatus, req.IsInstant, req.IsRecurring, req.RecurrencePattern,
			req.RequiresSpecialHandling, req.EstimatedDistanceKm, req.EstimatedWeightKg, req.StaffRequired,
			req.InsuranceRequired, req.InsuranceValue, req.BasePrice, req.FinalPrice, req.CollectionPriority,
			req.ScheduledAt,
		).Scan(&req.CreatedAt, &req.UpdatedAt)
		if err != nil {
			if constraintOf(err) == "idx_service_requests_one_active_per_bin" && req.SmartBinID != nil {
				return apperr.Conflict("bin %s already has an active service request", *req.SmartBinID)
			}
			return classify(err, "service request "+req.ID)
		}

		for i := range req.Stops {
			stop := &req.Stops[i]
			if stop.ID == "" {
				stop.ID = uuid.New().String()
			}
			stop.RequestID = req.ID
			_, err := tx.ExecContext(ctx, `
				INSERT INTO journey_stops (id, request_id, sequence, stop_type, latitude, longitude, address)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, stop.ID, stop.RequestID, stop.Sequence, stop.StopType, stop.Latitude, stop.Longitude, stop.Address)
			if err != nil {
				return classify(err, fmt.Sprintf("stop %d of request %s", stop.Sequence, req.ID))
			}
		}

		data, _ := json.Marshal(map[string]interface{}{"status": req.Status, "service_type": req.ServiceType})
		return appendTimelineEvent(ctx, tx, &models.TimelineEvent{
			RequestID: req.ID,
			EventType: models.TimelineCreated,
			Data:      data,
		})
	})
}

func (s *PostgresStore) GetServiceRequest(ctx context.Context, id string) (*models.ServiceRequest, error) {
	return getServiceRequest(ctx, s.db, id, false)
}

// getServiceRequest loads a request with its stops. forUpdate row-locks the request.
func getServiceRequest(ctx context.Context, q sqlx.QueryerContext, id string, forUpdate bool) (*models.ServiceRequest, error) {
	query := `SELECT ` + serviceRequestColumns + ` FROM service_requests WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var req models.ServiceRequest
	if err := sqlx.GetContext(ctx, q, &req, query, id); err != nil {
		return nil, classify(err, "service request "+id)
	}
	req.Stops = []models.JourneyStop{}
	err := sqlx.SelectContext(ctx, q, &req.Stops,
		`SELECT `+journeyStopColumns+` FROM journey_stops WHERE request_id = $1 ORDER BY sequence`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load stops for request %s: %w", id, err)
	}
	return &req, nil
}

// updateServiceRequest writes every mutable column. Stops and created_at are not touched.
func updateServiceRequest(ctx context.Context, q sqlx.ExtContext, req *models.ServiceRequest) error {
	err := q.QueryRowxContext(ctx, `
		UPDATE service_requests SET
			assigned_provider_id = $2, smart_bin_id = $3, service_type = $4, waste_type = $5,
			priority = $6, status = $7, payment_status = $8, is_instant = $9, is_recurring = $10,
			recurrence_pattern = $11, requires_special_handling = $12, estimated_distance_km = $13,
			estimated_weight_kg = $14, staff_required = $15, insurance_required = $16,
			insurance_value = $17, base_price = $18, final_price = $19, collection_priority = $20,
			scheduled_at = $21, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at
	`, req.ID, req.AssignedProviderID, req.SmartBinID, req.ServiceType, req.WasteType,
		req.Priority, req.Status, req.PaymentStatus, req.IsInstant, req.IsRecurring,
		req.RecurrencePattern, req.RequiresSpecialHandling, req.EstimatedDistanceKm,
		req.EstimatedWeightKg, req.StaffRequired, req.InsuranceRequired,
		req.InsuranceValue, req.BasePrice, req.FinalPrice, req.CollectionPriority,
		req.ScheduledAt,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
	return classify(err, "service request "+req.ID)
}

func appendTimelineEvent(ctx context.Context, q sqlx.ExtContext, ev *models.TimelineEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Data == nil {
		ev.Data = json.RawMessage(`{}`)
	}
	err := q.QueryRowxContext(ctx, `
		INSERT INTO request_timeline (id, request_id, event_type, actor_id, data)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		RETURNING created_at
	`, ev.ID, ev.RequestID, ev.EventType, ev.ActorID, jsonb(ev.Data)).Scan(&ev.CreatedAt)
	if constraintOf(err) == "request_timeline_request_id_fkey" {
		return apperr.NotFound("service request %s not found", ev.RequestID)
	}
	return classify(err, "timeline event on "+ev.RequestID)
}

func (s *PostgresStore) ListServiceRequests(ctx context.Context, f RequestFilter) ([]models.ServiceRequest, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.ServiceType != "" {
		add("service_type = $%d", f.ServiceType)
	}
	if f.CustomerID != "" {
		add("customer_id = $%d", f.CustomerID)
	}

	query := `SELECT ` + serviceRequestColumns + ` FROM service_requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`
	query, args = paginate(query, args, f.Limit, f.Offset)

	requests := []models.ServiceRequest{}
	if err := s.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list service requests: %w", err)
	}
	if len(requests) == 0 {
		return requests, nil
	}

	ids := make([]string, len(requests))
	for i := range requests {
		ids[i] = requests[i].ID
		requests[i].Stops = []models.JourneyStop{}
	}
	stopQuery, stopArgs, err := sqlx.In(`SELECT `+journeyStopColumns+` FROM journey_stops
		WHERE request_id IN (?) ORDER BY request_id, sequence`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build stop query: %w", err)
	}
	var stops []models.JourneyStop
	if err := s.db.SelectContext(ctx, &stops, s.db.Rebind(stopQuery), stopArgs...); err != nil {
		return nil, fmt.Errorf("failed to load stops: %w", err)
	}
	index := make(map[string]int, len(requests))
	for i := range requests {
		index[requests[i].ID] = i
	}
	for _, stop := range stops {
		i := index[stop.RequestID]
		requests[i].Stops = append(requests[i].Stops, stop)
	}
	return requests, nil
}

func (s *PostgresStore) ListTimeline(ctx context.Context, requestID string) ([]models.TimelineEvent, error) {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM service_requests WHERE id = $1)`, requestID); err != nil {
		return nil, fmt.Errorf("failed to check request %s: %w", requestID, err)
	}
	if !exists {
		return nil, apperr.NotFound("service request %s not found", requestID)
	}

	events := []models.TimelineEvent{}
	err := s.db.SelectContext(ctx, &events, `
		SELECT id, request_id, event_type, actor_id, data, created_at
		FROM request_timeline
		WHERE request_id = $1
		ORDER BY created_at, id
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list timeline for %s: %w", requestID, err)
	}
	return events, nil
}

func (s *PostgresStore) HasActiveRequestForBin(ctx context.Context, binID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM service_requests
			WHERE smart_bin_id = $1 AND status NOT IN ('completed', 'cancelled')
		)
	`, binID)
	if err != nil {
		return false, fmt.Errorf("failed to check active requests for bin %s: %w", binID, err)
	}
	return exists, nil
}

// paginate appends LIMIT/OFFSET placeholders when set
func paginate(query string, args []interface{}, limit, offset int) (string, []interface{}) {
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}
	return query, args
}
