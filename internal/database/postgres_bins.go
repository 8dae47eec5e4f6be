package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const smartBinColumns = `id, bin_number, owner_id, sensor_id, waste_type, location_type, latitude, longitude,
	fill_level, fill_status, current_weight_kg, battery_level, signal_strength, temperature, humidity,
	lid_open, lid_opened_at, last_motion_at, online, last_seen_at, last_collection_at,
	last_maintenance_at, maintenance_interval_days, created_at, updated_at`

const sensorReadingColumns = `id, bin_id, sensor_id, fill_level, battery_level, signal_strength, temperature,
	humidity, motion_detected, lid_open, weight_kg, timestamp, created_at`

const binAlertColumns = `id, bin_id, alert_type, priority, message, metadata, is_resolved, resolved_by,
	created_at, resolved_at`

func (s *PostgresStore) CreateBin(ctx context.Context, bin *models.SmartBin) error {
	if bin.ID == "" {
		bin.ID = uuid.New().String()
	}
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO smart_bins (
			id, bin_number, owner_id, sensor_id, waste_type, location_type, latitude, longitude,
			fill_level, fill_status, current_weight_kg, battery_level, signal_strength, temperature,
			humidity, lid_open, lid_opened_at, last_motion_at, online, last_seen_at,
			last_collection_at, last_maintenance_at, maintenance_interval_days
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		RETURNING created_at, updated_at
	`, bin.ID, bin.BinNumber, bin.OwnerID, bin.SensorID, bin.WasteType, bin.LocationType, bin.Latitude, bin.Longitude,
		bin.FillLevel, bin.FillStatus, bin.CurrentWeightKg, bin.BatteryLevel, bin.SignalStrength, bin.Temperature,
		bin.Humidity, bin.LidOpen, bin.LidOpenedAt, bin.LastMotionAt, bin.Online, bin.LastSeenAt,
		bin.LastCollectionAt, bin.LastMaintenanceAt, bin.MaintenanceIntervalDays,
	).Scan(&bin.CreatedAt, &bin.UpdatedAt)
	if constraintOf(err) == "smart_bins_bin_number_key" {
		return apperr.Conflict("bin number %s already exists", bin.BinNumber)
	}
	return classify(err, "smart bin "+bin.ID)
}

func (s *PostgresStore) GetBin(ctx context.Context, id string) (*models.SmartBin, error) {
	var bin models.SmartBin
	err := s.db.GetContext(ctx, &bin, `SELECT `+smartBinColumns+` FROM smart_bins WHERE id = $1`, id)
	if err != nil {
		return nil, classify(err, "smart bin "+id)
	}
	return &bin, nil
}

func (s *PostgresStore) ListBins(ctx context.Context, f BinFilter) ([]models.SmartBin, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.FillStatus != "" {
		args = append(args, f.FillStatus)
		where = append(where, fmt.Sprintf("fill_status = $%d", len(args)))
	}
	if f.OwnerID != "" {
		args = append(args, f.OwnerID)
		where = append(where, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	query := `SELECT ` + smartBinColumns + ` FROM smart_bins`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY bin_number`
	query, args = paginate(query, args, f.Limit, f.Offset)

	bins := []models.SmartBin{}
	if err := s.db.SelectContext(ctx, &bins, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list smart bins: %w", err)
	}
	return bins, nil
}

func (s *PostgresStore) ApplyReading(ctx context.Context, reading *models.SensorReading, updated *models.SmartBin, expectedUpdatedAt time.Time) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if updated != nil {
			// updated_at must strictly advance so the next guard sees this write
			err := tx.QueryRowxContext(ctx, `
				UPDATE smart_bins SET
					sensor_id = $3, fill_level = $4, fill_status = $5, current_weight_kg = $6,
					battery_level = $7, signal_strength = $8, temperature = $9, humidity = $10,
					lid_open = $11, lid_opened_at = $12, last_motion_at = $13, online = $14,
					last_seen_at = $15,
					updated_at = GREATEST(NOW(), updated_at + INTERVAL '1 microsecond')
				WHERE id = $1 AND updated_at = $2
				RETURNING updated_at
			`, reading.BinID, expectedUpdatedAt,
				updated.SensorID, updated.FillLevel, updated.FillStatus, updated.CurrentWeightKg,
				updated.BatteryLevel, updated.SignalStrength, updated.Temperature, updated.Humidity,
				updated.LidOpen, updated.LidOpenedAt, updated.LastMotionAt, updated.Online,
				updated.LastSeenAt,
			).Scan(&updated.UpdatedAt)
			if err != nil {
				if !errors.Is(err, sql.ErrNoRows) {
					return classify(err, "smart bin "+reading.BinID)
				}
				exists, existsErr := binExists(ctx, tx, reading.BinID)
				if existsErr != nil {
					return existsErr
				}
				if !exists {
					return apperr.NotFound("smart bin %s not found", reading.BinID)
				}
				return apperr.Conflict("smart bin %s was modified concurrently", reading.BinID)
			}
		} else {
			exists, err := binExists(ctx, tx, reading.BinID)
			if err != nil {
				return err
			}
			if !exists {
				return apperr.NotFound("smart bin %s not found", reading.BinID)
			}
		}

		if reading.ID == "" {
			reading.ID = uuid.New().String()
		}
		err := tx.QueryRowxContext(ctx, `
			INSERT INTO sensor_readings (
				id, bin_id, sensor_id, fill_level, battery_level, signal_strength, temperature,
				humidity, motion_detected, lid_open, weight_kg, timestamp
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING created_at
		`, reading.ID, reading.BinID, reading.SensorID, reading.FillLevel, reading.BatteryLevel,
			reading.SignalStrength, reading.Temperature, reading.Humidity, reading.MotionDetected,
			reading.LidOpen, reading.WeightKg, reading.Timestamp,
		).Scan(&reading.CreatedAt)
		return classify(err, "reading for bin "+reading.BinID)
	})
}

func binExists(ctx context.Context, q sqlx.QueryerContext, id string) (bool, error) {
	var exists bool
	if err := sqlx.GetContext(ctx, q, &exists, `SELECT EXISTS(SELECT 1 FROM smart_bins WHERE id = $1)`, id); err != nil {
		return false, fmt.Errorf("failed to check smart bin %s: %w", id, err)
	}
	return exists, nil
}

func (s *PostgresStore) ListReadings(ctx context.Context, binID string, limit int) ([]models.SensorReading, error) {
	query, args := paginate(`SELECT `+sensorReadingColumns+` FROM sensor_readings
		WHERE bin_id = $1 ORDER BY timestamp DESC`, []interface{}{binID}, limit, 0)
	readings := []models.SensorReading{}
	if err := s.db.SelectContext(ctx, &readings, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list readings for %s: %w", binID, err)
	}
	return readings, nil
}

func (s *PostgresStore) MarkCollected(ctx context.Context, binID string, at time.Time) error {
	return markCollected(ctx, s.db, binID, at)
}

func markCollected(ctx context.Context, q sqlx.ExecerContext, binID string, at time.Time) error {
	res, err := q.ExecContext(ctx,
		`UPDATE smart_bins SET last_collection_at = $2, updated_at = NOW() WHERE id = $1`, binID, at)
	if err != nil {
		return fmt.Errorf("failed to mark bin %s collected: %w", binID, err)
	}
	return requireRow(res, "smart bin "+binID)
}

func (s *PostgresStore) MarkMaintained(ctx context.Context, binID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE smart_bins SET last_maintenance_at = $2, updated_at = NOW() WHERE id = $1`, binID, at)
	if err != nil {
		return fmt.Errorf("failed to mark bin %s maintained: %w", binID, err)
	}
	return requireRow(res, "smart bin "+binID)
}

// Alerts

func (s *PostgresStore) CreateAlertIfAbsent(ctx context.Context, alert *models.BinAlert) (bool, error) {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.Metadata == nil {
		alert.Metadata = []byte(`{}`)
	}
	// the partial unique index on unresolved (bin, type) turns a duplicate into a no-op
	rows, err := s.db.QueryxContext(ctx, `
		INSERT INTO bin_alerts (id, bin_id, alert_type, priority, message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		ON CONFLICT (bin_id, alert_type) WHERE NOT is_resolved DO NOTHING
		RETURNING created_at
	`, alert.ID, alert.BinID, alert.AlertType, alert.Priority, alert.Message, jsonb(alert.Metadata))
	if err != nil {
		if constraintOf(err) == "bin_alerts_bin_id_fkey" {
			return false, apperr.NotFound("smart bin %s not found", alert.BinID)
		}
		return false, classify(err, "alert on bin "+alert.BinID)
	}
	defer rows.Close()

	inserted := false
	if rows.Next() {
		if err := rows.Scan(&alert.CreatedAt); err != nil {
			return false, fmt.Errorf("failed to read alert timestamp: %w", err)
		}
		inserted = true
	}
	if err := rows.Err(); err != nil {
		if constraintOf(err) == "bin_alerts_bin_id_fkey" {
			return false, apperr.NotFound("smart bin %s not found", alert.BinID)
		}
		return false, classify(err, "alert on bin "+alert.BinID)
	}
	return inserted, nil
}

func (s *PostgresStore) GetAlert(ctx context.Context, id string) (*models.BinAlert, error) {
	var alert models.BinAlert
	if err := s.db.GetContext(ctx, &alert, `SELECT `+binAlertColumns+` FROM bin_alerts WHERE id = $1`, id); err != nil {
		return nil, classify(err, "alert "+id)
	}
	return &alert, nil
}

func (s *PostgresStore) GetActiveAlert(ctx context.Context, binID, alertType string) (*models.BinAlert, error) {
	var alert models.BinAlert
	err := s.db.GetContext(ctx, &alert, `SELECT `+binAlertColumns+` FROM bin_alerts
		WHERE bin_id = $1 AND alert_type = $2 AND NOT is_resolved`, binID, alertType)
	if err != nil {
		return nil, classify(err, fmt.Sprintf("active %s alert for bin %s", alertType, binID))
	}
	return &alert, nil
}

func (s *PostgresStore) EscalateAlert(ctx context.Context, id, priority, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bin_alerts SET priority = $2, message = $3 WHERE id = $1 AND NOT is_resolved`, id, priority, message)
	if err != nil {
		return fmt.Errorf("failed to escalate alert %s: %w", id, err)
	}
	return requireRow(res, "active alert "+id)
}

func (s *PostgresStore) ResolveAlert(ctx context.Context, id string, at time.Time, resolvedBy *string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bin_alerts SET is_resolved = TRUE, resolved_at = $2, resolved_by = $3
		WHERE id = $1 AND NOT is_resolved
	`, id, at, resolvedBy)
	if err != nil {
		return fmt.Errorf("failed to resolve alert %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := s.GetAlert(ctx, id); err != nil {
		return err
	}
	return apperr.PreconditionFailed("alert %s is already resolved", id)
}

func (s *PostgresStore) ListAlerts(ctx context.Context, f AlertFilter) ([]models.BinAlert, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.BinID != "" {
		args = append(args, f.BinID)
		where = append(where, fmt.Sprintf("bin_id = $%d", len(args)))
	}
	if f.AlertType != "" {
		args = append(args, f.AlertType)
		where = append(where, fmt.Sprintf("alert_type = $%d", len(args)))
	}
	if f.OwnerID != "" {
		args = append(args, f.OwnerID)
		where = append(where, fmt.Sprintf("bin_id IN (SELECT id FROM smart_bins WHERE owner_id = $%d)", len(args)))
	}
	switch f.Status {
	case "active":
		where = append(where, "NOT is_resolved")
	case "resolved":
		where = append(where, "is_resolved")
	}
	query := `SELECT ` + binAlertColumns + ` FROM bin_alerts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`
	query, args = paginate(query, args, f.Limit, f.Offset)

	alerts := []models.BinAlert{}
	if err := s.db.SelectContext(ctx, &alerts, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, nil
}
