package memory

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/database"
	"wastelink-backend/internal/models"

	"github.com/google/uuid"
)

func (s *Store) CreateBin(ctx context.Context, bin *models.SmartBin) error {
	return lockedErr(s, func(st *state) error {
		if bin.ID == "" {
			bin.ID = uuid.New().String()
		}
		for _, other := range st.bins {
			if other.BinNumber == bin.BinNumber {
				return apperr.Conflict("bin number %s already exists", bin.BinNumber)
			}
		}
		now := st.now()
		bin.CreatedAt, bin.UpdatedAt = now, now
		st.bins[bin.ID] = *bin
		return nil
	})
}

func (s *Store) GetBin(ctx context.Context, id string) (*models.SmartBin, error) {
	return locked(s, func(st *state) (*models.SmartBin, error) {
		b, ok := st.bins[id]
		if !ok {
			return nil, apperr.NotFound("smart bin %s not found", id)
		}
		return &b, nil
	})
}

func (s *Store) ListBins(ctx context.Context, f database.BinFilter) ([]models.SmartBin, error) {
	return locked(s, func(st *state) ([]models.SmartBin, error) {
		out := make([]models.SmartBin, 0, len(st.bins))
		for _, b := range st.bins {
			if f.FillStatus != "" && b.FillStatus != f.FillStatus {
				continue
			}
			if f.OwnerID != "" && b.OwnerID != f.OwnerID {
				continue
			}
			out = append(out, b)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].BinNumber < out[j].BinNumber })
		start, end := page(len(out), f.Limit, f.Offset)
		return out[start:end], nil
	})
}

func (s *Store) ApplyReading(ctx context.Context, reading *models.SensorReading, updated *models.SmartBin, expectedUpdatedAt time.Time) error {
	return lockedErr(s, func(st *state) error {
		current, ok := st.bins[reading.BinID]
		if !ok {
			return apperr.NotFound("smart bin %s not found", reading.BinID)
		}

		now := st.now()
		if updated != nil {
			if !current.UpdatedAt.Equal(expectedUpdatedAt) {
				return apperr.Conflict("smart bin %s was modified concurrently", reading.BinID)
			}
			next := *updated
			next.UpdatedAt = now
			if !next.UpdatedAt.After(current.UpdatedAt) {
				next.UpdatedAt = current.UpdatedAt.Add(time.Microsecond)
			}
			st.bins[next.ID] = next
			updated.UpdatedAt = next.UpdatedAt
		}

		if reading.ID == "" {
			reading.ID = uuid.New().String()
		}
		reading.CreatedAt = now
		st.readings[reading.BinID] = append(st.readings[reading.BinID], *reading)
		return nil
	})
}

func (s *Store) ListReadings(ctx context.Context, binID string, limit int) ([]models.SensorReading, error) {
	return locked(s, func(st *state) ([]models.SensorReading, error) {
		all := append([]models.SensorReading(nil), st.readings[binID]...)
		sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
		if limit > 0 && len(all) > limit {
			all = all[:limit]
		}
		return all, nil
	})
}

func (s *Store) MarkCollected(ctx context.Context, binID string, at time.Time) error {
	return lockedErr(s, func(st *state) error { return st.MarkCollected(ctx, binID, at) })
}

func (st *state) MarkCollected(ctx context.Context, binID string, at time.Time) error {
	b, ok := st.bins[binID]
	if !ok {
		return apperr.NotFound("smart bin %s not found", binID)
	}
	b.LastCollectionAt = &at
	b.UpdatedAt = st.now()
	st.bins[binID] = b
	return nil
}

func (s *Store) MarkMaintained(ctx context.Context, binID string, at time.Time) error {
	return lockedErr(s, func(st *state) error {
		b, ok := st.bins[binID]
		if !ok {
			return apperr.NotFound("smart bin %s not found", binID)
		}
		b.LastMaintenanceAt = &at
		b.UpdatedAt = st.now()
		st.bins[binID] = b
		return nil
	})
}

func (s *Store) CreateAlertIfAbsent(ctx context.Context, alert *models.BinAlert) (bool, error) {
	return locked(s, func(st *state) (bool, error) {
		if _, ok := st.bins[alert.BinID]; !ok {
			return false, apperr.NotFound("smart bin %s not found", alert.BinID)
		}
		for _, a := range st.alerts {
			if a.BinID == alert.BinID && a.AlertType == alert.AlertType && !a.IsResolved {
				return false, nil
			}
		}
		if alert.ID == "" {
			alert.ID = uuid.New().String()
		}
		if alert.Metadata == nil {
			alert.Metadata = json.RawMessage(`{}`)
		}
		alert.CreatedAt = st.now()
		st.alerts[alert.ID] = *alert
		return true, nil
	})
}

func (s *Store) GetAlert(ctx context.Context, id string) (*models.BinAlert, error) {
	return locked(s, func(st *state) (*models.BinAlert, error) {
		a, ok := st.alerts[id]
		if !ok {
			return nil, apperr.NotFound("alert %s not found", id)
		}
		return &a, nil
	})
}

func (s *Store) GetActiveAlert(ctx context.Context, binID, alertType string) (*models.BinAlert, error) {
	return locked(s, func(st *state) (*models.BinAlert, error) {
		for _, a := range st.alerts {
			if a.BinID == binID && a.AlertType == alertType && !a.IsResolved {
				a := a
				return &a, nil
			}
		}
		return nil, apperr.NotFound("no active %s alert for bin %s", alertType, binID)
	})
}

func (s *Store) EscalateAlert(ctx context.Context, id, priority, message string) error {
	return lockedErr(s, func(st *state) error {
		a, ok := st.alerts[id]
		if !ok || a.IsResolved {
			return apperr.NotFound("active alert %s not found", id)
		}
		a.Priority = priority
		a.Message = message
		st.alerts[id] = a
		return nil
	})
}

func (s *Store) ResolveAlert(ctx context.Context, id string, at time.Time, resolvedBy *string) error {
	return lockedErr(s, func(st *state) error {
		a, ok := st.alerts[id]
		if !ok {
			return apperr.NotFound("alert %s not found", id)
		}
		if a.IsResolved {
			return apperr.PreconditionFailed("alert %s is already resolved", id)
		}
		a.IsResolved = true
		a.ResolvedAt = &at
		a.ResolvedBy = resolvedBy
		st.alerts[id] = a
		return nil
	})
}

func (s *Store) ListAlerts(ctx context.Context, f database.AlertFilter) ([]models.BinAlert, error) {
	return locked(s, func(st *state) ([]models.BinAlert, error) {
		out := make([]models.BinAlert, 0)
		for _, a := range st.alerts {
			if f.BinID != "" && a.BinID != f.BinID {
				continue
			}
			if f.AlertType != "" && a.AlertType != f.AlertType {
				continue
			}
			if f.OwnerID != "" {
				if bin, ok := st.bins[a.BinID]; !ok || bin.OwnerID != f.OwnerID {
					continue
				}
			}
			if f.Status == "active" && a.IsResolved || f.Status == "resolved" && !a.IsResolved {
				continue
			}
			out = append(out, a)
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
