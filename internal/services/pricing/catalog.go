package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/database"
	"wastelink-backend/internal/models"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
)

const activeSnapshotKey = "pricing:active"

// Snapshot is a read-only view of the active configuration and its decoded factors.
// Config is nil when no configuration is active.
type Snapshot struct {
	Config  *models.PricingConfiguration
	Factors models.FactorSet
}

// PlatformFeePercentage is the configured fee, zero included, or the default
// when no configuration is active or it leaves the fee unset
func (s *Snapshot) PlatformFeePercentage() decimal.Decimal {
	if s.Config != nil && s.Config.PlatformFeePercentage.Valid {
		return s.Config.PlatformFeePercentage.Decimal
	}
	return DefaultPlatformFeePercentage
}

// MinJobPrice is the configured minimum when positive, otherwise the default
func (s *Snapshot) MinJobPrice() decimal.Decimal {
	if s.Config != nil && s.Config.MinPrice.IsPositive() {
		return s.Config.MinPrice
	}
	return DefaultMinJobPrice
}

// Catalog serves pricing configuration to the pricing services and admin handlers
type Catalog struct {
	store database.PricingStore
	cache *gocache.Cache
}

func NewCatalog(store database.PricingStore, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Catalog{
		store: store,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// Snapshot returns the active configuration through a read-through cache
func (c *Catalog) Snapshot(ctx context.Context) (*Snapshot, error) {
	if cached, ok := c.cache.Get(activeSnapshotKey); ok {
		return cached.(*Snapshot), nil
	}

	snap := &Snapshot{Factors: DefaultFactors()}

	cfg, err := c.store.GetActiveConfiguration(ctx)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		log.Println("⚠️  [PRICING] No active pricing configuration, using built-in defaults")
	case err != nil:
		return nil, fmt.Errorf("failed to load active pricing configuration: %w", err)
	default:
		snap.Config = cfg
		if err := c.loadFactors(ctx, cfg.ID, &snap.Factors); err != nil {
			return nil, err
		}
	}

	c.cache.SetDefault(activeSnapshotKey, snap)
	return snap, nil
}

// ActiveConfiguration returns the active row or apperr NotFound
func (c *Catalog) ActiveConfiguration(ctx context.Context) (*models.PricingConfiguration, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if snap.Config == nil {
		return nil, apperr.NotFound("no active pricing configuration")
	}
	return snap.Config, nil
}

// MinJobPrice returns the minimum price a job may be accepted at
func (c *Catalog) MinJobPrice(ctx context.Context) (decimal.Decimal, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return snap.MinJobPrice(), nil
}

// Factors returns the active records of one kind for a configuration. When the
// configuration has none, a single synthesized record holding the default is returned.
func (c *Catalog) Factors(ctx context.Context, configurationID string, kind models.FactorKind) ([]models.PricingFactor, error) {
	if !kind.Valid() {
		return nil, apperr.InvalidInput("unknown factor kind %q", kind)
	}
	records, err := c.store.ListFactors(ctx, configurationID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s factors: %w", kind, err)
	}
	if len(records) > 0 {
		return records, nil
	}
	return defaultRecords(configurationID, kind)
}

func (c *Catalog) loadFactors(ctx context.Context, configurationID string, set *models.FactorSet) error {
	for _, kind := range models.FactorKinds {
		records, err := c.store.ListFactors(ctx, configurationID, kind)
		if err != nil {
			return fmt.Errorf("failed to list %s factors: %w", kind, err)
		}
		applyRecords(set, kind, records)
	}
	return nil
}

// applyRecords overlays stored records on the defaults. Records that fail to
// decode are skipped so the default for that kind stays in place.
func applyRecords(set *models.FactorSet, kind models.FactorKind, records []models.PricingFactor) {
	var named []models.NamedMultiplier
	var vehicles []models.VehicleFactor

	for _, rec := range records {
		decoded, err := decodeFactor(kind, rec.Params)
		if err != nil {
			log.Printf("⚠️  [PRICING] Skipping %s factor %s: %v", kind, rec.ID, err)
			continue
		}
		switch f := decoded.(type) {
		case *models.DistanceFactor:
			set.Distance = *f
		case *models.WeightFactor:
			set.Weight = *f
		case *models.TimeFactor:
			f.IsActive = rec.IsActive
			set.Time = *f
		case *models.VehicleFactor:
			vehicles = append(vehicles, *f)
		case *models.SpecialRequirementFactor:
			set.SpecialRequirement = *f
		case *models.StaffFactor:
			set.Staff = *f
		case *models.InsuranceFactor:
			set.Insurance = *f
		case *models.LoadingTimeFactor:
			set.LoadingTime = *f
		case *models.NamedMultiplier:
			named = append(named, *f)
		}
	}

	if len(vehicles) > 0 {
		set.Vehicles = vehicles
	}
	if len(named) > 0 {
		switch kind {
		case models.FactorPropertyType:
			set.PropertyTypes = named
		case models.FactorServiceLevel:
			set.ServiceLevels = named
		case models.FactorWeather:
			set.Weather = named
		}
	}
}

func defaultRecords(configurationID string, kind models.FactorKind) ([]models.PricingFactor, error) {
	defaults := DefaultFactors()
	var values []interface{}
	switch kind {
	case models.FactorDistance:
		values = []interface{}{defaults.Distance}
	case models.FactorWeight:
		values = []interface{}{defaults.Weight}
	case models.FactorTime:
		values = []interface{}{defaults.Time}
	case models.FactorVehicle:
		for _, v := range defaults.Vehicles {
			values = append(values, v)
		}
	case models.FactorSpecialRequirement:
		values = []interface{}{defaults.SpecialRequirement}
	case models.FactorStaff:
		values = []interface{}{defaults.Staff}
	case models.FactorInsurance:
		values = []interface{}{defaults.Insurance}
	case models.FactorLoadingTime:
		values = []interface{}{defaults.LoadingTime}
	case models.FactorPropertyType:
		for _, v := range defaults.PropertyTypes {
			values = append(values, v)
		}
	case models.FactorServiceLevel:
		for _, v := range defaults.ServiceLevels {
			values = append(values, v)
		}
	case models.FactorWeather:
		for _, v := range defaults.Weather {
			values = append(values, v)
		}
	}

	out := make([]models.PricingFactor, 0, len(values))
	for _, v := range values {
		params, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode default %s factor: %w", kind, err)
		}
		out = append(out, models.PricingFactor{
			ConfigurationID: configurationID,
			Kind:            kind,
			Name:            "DEFAULT_" + string(kind),
			Params:          params,
			IsActive:        true,
		})
	}
	return out, nil
}

// Invalidate drops the cached snapshot
func (c *Catalog) Invalidate() {
	c.cache.Delete(activeSnapshotKey)
}

func (c *Catalog) ListConfigurations(ctx context.Context) ([]models.PricingConfiguration, error) {
	return c.store.ListConfigurations(ctx)
}

func (c *Catalog) CreateConfiguration(ctx context.Context, cfg *models.PricingConfiguration) error {
	if err := ValidateConfiguration(cfg); err != nil {
		return err
	}
	if err := c.store.CreateConfiguration(ctx, cfg); err != nil {
		return err
	}
	if cfg.IsActive {
		c.Invalidate()
	}
	log.Printf("✅ [PRICING] Created pricing configuration %s (%s)", cfg.ID, cfg.Name)
	return nil
}

// UpdateConfiguration re-validates the row; it never changes which row is active
func (c *Catalog) UpdateConfiguration(ctx context.Context, cfg *models.PricingConfiguration) error {
	if err := ValidateConfiguration(cfg); err != nil {
		return err
	}
	if err := c.store.UpdateConfiguration(ctx, cfg); err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

// Activate makes id the only active configuration
func (c *Catalog) Activate(ctx context.Context, id string) error {
	cfg, err := c.store.GetConfiguration(ctx, id)
	if err != nil {
		return err
	}
	if err := ValidateConfiguration(cfg); err != nil {
		return err
	}
	if err := c.store.ActivateConfiguration(ctx, id); err != nil {
		return err
	}
	c.Invalidate()
	log.Printf("✅ [PRICING] Activated pricing configuration %s (%s)", cfg.ID, cfg.Name)
	return nil
}

func (c *Catalog) CreateFactor(ctx context.Context, f *models.PricingFactor) error {
	if err := ValidateFactor(f); err != nil {
		return err
	}
	if err := c.store.CreateFactor(ctx, f); err != nil {
		return err
	}
	c.Invalidate()
	return nil
}
