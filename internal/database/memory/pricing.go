package memory

import (
	"context"
	"sort"

	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/models"

	"github.com/google/uuid"
)

func (s *Store) GetActiveConfiguration(ctx context.Context) (*models.PricingConfiguration, error) {
	return locked(s, func(st *state) (*models.PricingConfiguration, error) {
		for _, c := range st.configs {
			if c.IsActive {
				c := c
				return &c, nil
			}
		}
		return nil, apperr.NotFound("no active pricing configuration")
	})
}

func (s *Store) GetConfiguration(ctx context.Context, id string) (*models.PricingConfiguration, error) {
	return locked(s, func(st *state) (*models.PricingConfiguration, error) {
		c, ok := st.configs[id]
		if !ok {
			return nil, apperr.NotFound("pricing configuration %s not found", id)
		}
		return &c, nil
	})
}

func (s *Store) ListConfigurations(ctx context.Context) ([]models.PricingConfiguration, error) {
	return locked(s, func(st *state) ([]models.PricingConfiguration, error) {
		out := make([]models.PricingConfiguration, 0, len(st.configs))
		for _, c := range st.configs {
			out = append(out, c)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
		return out, nil
	})
}

func (s *Store) CreateConfiguration(ctx context.Context, cfg *models.PricingConfiguration) error {
	return lockedErr(s, func(st *state) error {
		if cfg.ID == "" {
			cfg.ID = uuid.New().String()
		}
		if _, exists := st.configs[cfg.ID]; exists {
			return apperr.Conflict("pricing configuration %s already exists", cfg.ID)
		}
		now := st.now()
		cfg.CreatedAt, cfg.UpdatedAt = now, now
		if cfg.IsActive {
			for id, c := range st.configs {
				c.IsActive = false
				st.configs[id] = c
			}
		}
		st.configs[cfg.ID] = *cfg
		return nil
	})
}

func (s *Store) UpdateConfiguration(ctx context.Context, cfg *models.PricingConfiguration) error {
	return lockedErr(s, func(st *state) error {
		existing, ok := st.configs[cfg.ID]
		if !ok {
			return apperr.NotFound("pricing configuration %s not found", cfg.ID)
		}
		// activation only changes through ActivateConfiguration
		cfg.IsActive = existing.IsActive
		cfg.CreatedAt = existing.CreatedAt
		cfg.UpdatedAt = st.now()
		st.configs[cfg.ID] = *cfg
		return nil
	})
}

func (s *Store) ActivateConfiguration(ctx context.Context, id string) error {
	return lockedErr(s, func(st *state) error {
		if _, ok := st.configs[id]; !ok {
			return apperr.NotFound("pricing configuration %s not found", id)
		}
		now := st.now()
		for cid, c := range st.configs {
			active := cid == id
			if c.IsActive != active {
				c.IsActive = active
				c.UpdatedAt = now
				st.configs[cid] = c
			}
		}
		return nil
	})
}

func (s *Store) ListFactors(ctx context.Context, configurationID string, kind models.FactorKind) ([]models.PricingFactor, error) {
	return locked(s, func(st *state) ([]models.PricingFactor, error) {
		var out []models.PricingFactor
		for _, f := range st.factors {
			if f.ConfigurationID == configurationID && f.Kind == kind && f.IsActive {
				out = append(out, f)
			}
		}
		return out, nil
	})
}

func (s *Store) CreateFactor(ctx context.Context, f *models.PricingFactor) error {
	return lockedErr(s, func(st *state) error {
		if _, ok := st.configs[f.ConfigurationID]; !ok {
			return apperr.NotFound("pricing configuration %s not found", f.ConfigurationID)
		}
		if f.ID == "" {
			f.ID = uuid.New().String()
		}
		f.CreatedAt = st.now()
		st.factors = append(st.factors, *f)
		return nil
	})
}
