package database

import (
	"context"
	"fmt"

	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const pricingConfigurationColumns = `id, name, is_active, is_default, base_price, min_price,
	max_price_multiplier, platform_fee_percentage, fuel_surcharge_percentage, carbon_offset_rate,
	created_at, updated_at`

const pricingFactorColumns = `id, configuration_id, kind, name, params, is_active, created_at`

func (s *PostgresStore) GetActiveConfiguration(ctx context.Context) (*models.PricingConfiguration, error) {
	var cfg models.PricingConfiguration
	err := s.db.GetContext(ctx, &cfg, `SELECT `+pricingConfigurationColumns+` FROM pricing_configurations WHERE is_active`)
	if err != nil {
		return nil, classify(err, "active pricing configuration")
	}
	return &cfg, nil
}

func (s *PostgresStore) GetConfiguration(ctx context.Context, id string) (*models.PricingConfiguration, error) {
	var cfg models.PricingConfiguration
	err := s.db.GetContext(ctx, &cfg, `SELECT `+pricingConfigurationColumns+` FROM pricing_configurations WHERE id = $1`, id)
	if err != nil {
		return nil, classify(err, "pricing configuration "+id)
	}
	return &cfg, nil
}

func (s *PostgresStore) ListConfigurations(ctx context.Context) ([]models.PricingConfiguration, error) {
	configs := []models.PricingConfiguration{}
	err := s.db.SelectContext(ctx, &configs, `SELECT `+pricingConfigurationColumns+` FROM pricing_configurations ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pricing configurations: %w", err)
	}
	return configs, nil
}

func (s *PostgresStore) CreateConfiguration(ctx context.Context, cfg *models.PricingConfiguration) error {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if cfg.IsActive {
			if _, err := tx.ExecContext(ctx,
				`UPDATE pricing_configurations SET is_active = FALSE, updated_at = NOW() WHERE is_active`); err != nil {
				return fmt.Errorf("failed to deactivate pricing configurations: %w", err)
			}
		}
		err := tx.QueryRowxContext(ctx, `
			INSERT INTO pricing_configurations (
				id, name, is_active, is_default, base_price, min_price, max_price_multiplier,
				platform_fee_percentage, fuel_surcharge_percentage, carbon_offset_rate
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING created_at, updated_at
		`, cfg.ID, cfg.Name, cfg.IsActive, cfg.IsDefault, cfg.BasePrice, cfg.MinPrice, cfg.MaxPriceMultiplier,
			cfg.PlatformFeePercentage, cfg.FuelSurchargePercentage, cfg.CarbonOffsetRate,
		).Scan(&cfg.CreatedAt, &cfg.UpdatedAt)
		return classify(err, "pricing configuration "+cfg.ID)
	})
}

// UpdateConfiguration leaves is_active alone; activation goes through ActivateConfiguration
func (s *PostgresStore) UpdateConfiguration(ctx context.Context, cfg *models.PricingConfiguration) error {
	err := s.db.QueryRowxContext(ctx, `
		UPDATE pricing_configurations SET
			name = $2, is_default = $3, base_price = $4, min_price = $5, max_price_multiplier = $6,
			platform_fee_percentage = $7, fuel_surcharge_percentage = $8, carbon_offset_rate = $9,
			updated_at = NOW()
		WHERE id = $1
		RETURNING is_active, created_at, updated_at
	`, cfg.ID, cfg.Name, cfg.IsDefault, cfg.BasePrice, cfg.MinPrice, cfg.MaxPriceMultiplier,
		cfg.PlatformFeePercentage, cfg.FuelSurchargePercentage, cfg.CarbonOffsetRate,
	).Scan(&cfg.IsActive, &cfg.CreatedAt, &cfg.UpdatedAt)
	return classify(err, "pricing configuration "+cfg.ID)
}

func (s *PostgresStore) ActivateConfiguration(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var exists bool
		if err := tx.GetContext(ctx, &exists,
			`SELECT EXISTS(SELECT 1 FROM pricing_configurations WHERE id = $1)`, id); err != nil {
			return fmt.Errorf("failed to check pricing configuration %s: %w", id, err)
		}
		if !exists {
			return apperr.NotFound("pricing configuration %s not found", id)
		}
		// clear first so the one-active index never sees two rows
		if _, err := tx.ExecContext(ctx, `
			UPDATE pricing_configurations SET is_active = FALSE, updated_at = NOW()
			WHERE is_active AND id <> $1
		`, id); err != nil {
			return fmt.Errorf("failed to deactivate pricing configurations: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE pricing_configurations SET is_active = TRUE, updated_at = NOW()
			WHERE id = $1 AND NOT is_active
		`, id); err != nil {
			return classify(err, "pricing configuration "+id)
		}
		return nil
	})
}

func (s *PostgresStore) ListFactors(ctx context.Context, configurationID string, kind models.FactorKind) ([]models.PricingFactor, error) {
	var factors []models.PricingFactor
	err := s.db.SelectContext(ctx, &factors, `
		SELECT `+pricingFactorColumns+` FROM pricing_factors
		WHERE configuration_id = $1 AND kind = $2 AND is_active
		ORDER BY created_at, id
	`, configurationID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s factors: %w", kind, err)
	}
	return factors, nil
}

func (s *PostgresStore) CreateFactor(ctx context.Context, f *models.PricingFactor) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO pricing_factors (id, configuration_id, kind, name, params, is_active)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
		RETURNING created_at
	`, f.ID, f.ConfigurationID, f.Kind, f.Name, jsonb(f.Params), f.IsActive).Scan(&f.CreatedAt)
	if constraintOf(err) == "pricing_factors_configuration_id_fkey" {
		return apperr.NotFound("pricing configuration %s not found", f.ConfigurationID)
	}
	return classify(err, "pricing factor "+f.ID)
}
