package memory

import (
	"context"
	"encoding/json"
	"sort"

	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/database"
	"wastelink-backend/internal/models"

	"github.com/google/uuid"
)

func (s *Store) CreateServiceRequest(ctx context.Context, req *models.ServiceRequest) error {
	return lockedErr(s, func(st *state) error {
		if req.ID == "" {
			req.ID = uuid.New().String()
		}
		if _, exists := st.requests[req.ID]; exists {
			return apperr.Conflict("service request %s already exists", req.ID)
		}
		if req.SmartBinID != nil {
			for _, other := range st.requests {
				if other.SmartBinID != nil && *other.SmartBinID == *req.SmartBinID && !other.Status.Terminal() {
					return apperr.Conflict("bin %s already has an active service request", *req.SmartBinID)
				}
			}
		}

		now := st.now()
		req.CreatedAt, req.UpdatedAt = now, now
		stops := make([]models.JourneyStop, len(req.Stops))
		for i, stop := range req.Stops {
			if stop.ID == "" {
				stop.ID = uuid.New().String()
			}
			stop.RequestID = req.ID
			stops[i] = stop
		}
		req.Stops = stops
		st.requests[req.ID] = *req

		data, _ := json.Marshal(map[string]interface{}{"status": req.Status, "service_type": req.ServiceType})
		return st.AppendTimelineEvent(ctx, &models.TimelineEvent{
			RequestID: req.ID,
			EventType: models.TimelineCreated,
			Data:      data,
		})
	})
}

func (s *Store) GetServiceRequest(ctx context.Context, id string) (*models.ServiceRequest, error) {
	return locked(s, func(st *state) (*models.ServiceRequest, error) {
		return st.GetServiceRequest(ctx, id)
	})
}

func (st *state) GetServiceRequest(ctx context.Context, id string) (*models.ServiceRequest, error) {
	r, ok := st.requests[id]
	if !ok {
		return nil, apperr.NotFound("service request %s not found", id)
	}
	r.Stops = append([]models.JourneyStop(nil), r.Stops...)
	return &r, nil
}

func (st *state) UpdateServiceRequest(ctx context.Context, req *models.ServiceRequest) error {
	existing, ok := st.requests[req.ID]
	if !ok {
		return apperr.NotFound("service request %s not found", req.ID)
	}
	req.CreatedAt = existing.CreatedAt
	req.UpdatedAt = st.now()
	req.Stops = existing.Stops
	st.requests[req.ID] = *req
	return nil
}

func (st *state) AppendTimelineEvent(ctx context.Context, ev *models.TimelineEvent) error {
	if _, ok := st.requests[ev.RequestID]; !ok {
		return apperr.NotFound("service request %s not found", ev.RequestID)
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Data == nil {
		ev.Data = json.RawMessage(`{}`)
	}
	ev.CreatedAt = st.now()
	st.timeline[ev.RequestID] = append(st.timeline[ev.RequestID], *ev)
	return nil
}

func (s *Store) ListServiceRequests(ctx context.Context, f database.RequestFilter) ([]models.ServiceRequest, error) {
	return locked(s, func(st *state) ([]models.ServiceRequest, error) {
		out := make([]models.ServiceRequest, 0)
		for _, r := range st.requests {
			if f.Status != "" && string(r.Status) != f.Status {
				continue
			}
			if f.ServiceType != "" && r.ServiceType != f.ServiceType {
				continue
			}
			if f.CustomerID != "" && r.CustomerID != f.CustomerID {
				continue
			}
			out = append(out, r)
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].ID < out[j].ID
			}
			return out[i].CreatedAt.After(out[j].CreatedAt)
		})
		start, end := page(len(out), f.Limit, f.Offset)
		return out[start:end], nil
	})
}

func (s *Store) ListTimeline(ctx context.Context, requestID string) ([]models.TimelineEvent, error) {
	return locked(s, func(st *state) ([]models.TimelineEvent, error) {
		if _, ok := st.requests[requestID]; !ok {
			return nil, apperr.NotFound("service request %s not found", requestID)
		}
		return append([]models.TimelineEvent{}, st.timeline[requestID]...), nil
	})
}

func (s *Store) HasActiveRequestForBin(ctx context.Context, binID string) (bool, error) {
	return locked(s, func(st *state) (bool, error) {
		for _, r := range st.requests {
			if r.SmartBinID != nil && *r.SmartBinID == binID && !r.Status.Terminal() {
				return true, nil
			}
		}
		return false, nil
	})
}
