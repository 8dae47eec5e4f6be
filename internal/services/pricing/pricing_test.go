package pricing

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/database/memory"
	"wastelink-backend/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stops(n int) []models.JourneyStop {
	out := make([]models.JourneyStop, n)
	for i := range out {
		out[i] = models.JourneyStop{Sequence: i + 1, StopType: models.StopIntermediate}
	}
	return out
}

func standardRequest() *models.ServiceRequest {
	return &models.ServiceRequest{
		ServiceType:         models.ServiceWasteCollection,
		EstimatedDistanceKm: 20,
		Stops:               stops(2),
		StaffRequired:       1,
	}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	assert.Truef(t, decimal.RequireFromString(want).Equal(got), "%s: want %s, got %s", field, want, got)
}

func activeConfig(t *testing.T, store *memory.Store, fee string) *models.PricingConfiguration {
	t.Helper()
	cfg := DefaultConfiguration()
	cfg.PlatformFeePercentage = decimal.NewNullDecimal(decimal.RequireFromString(fee))
	require.NoError(t, store.CreateConfiguration(context.Background(), &cfg))
	return &cfg
}

func TestScoreComplexity(t *testing.T) {
	tests := []struct {
		name  string
		req   models.ServiceRequest
		score string
		level ComplexityLevel
	}{
		{
			name:  "local single stop",
			req:   models.ServiceRequest{EstimatedDistanceKm: 5, Stops: stops(1), StaffRequired: 1},
			score: "0.15",
			level: LevelSimple,
		},
		{
			name:  "standard",
			req:   models.ServiceRequest{EstimatedDistanceKm: 20, Stops: stops(2), StaffRequired: 1},
			score: "0.25",
			level: LevelStandard,
		},
		{
			name: "complex",
			req: models.ServiceRequest{
				EstimatedDistanceKm: 60, Stops: stops(3), StaffRequired: 2,
				InsuranceRequired: true, InsuranceValue: decimal.NewFromInt(3000),
			},
			score: "0.55",
			level: LevelComplex,
		},
		{
			name: "everything clamps to one",
			req: models.ServiceRequest{
				EstimatedDistanceKm: 120, Stops: stops(6), StaffRequired: 5,
				RequiresSpecialHandling: true, InsuranceRequired: true,
				InsuranceValue: decimal.NewFromInt(10000), IsInstant: true,
			},
			score: "1",
			level: LevelPremium,
		},
		{
			name:  "boundary distance 10 counts as short",
			req:   models.ServiceRequest{EstimatedDistanceKm: 10, Stops: stops(2), StaffRequired: 1, IsInstant: true},
			score: "0.2",
			level: LevelSimple,
		},
		{
			name: "insurance without requirement is ignored",
			req: models.ServiceRequest{
				EstimatedDistanceKm: 20, Stops: stops(2), StaffRequired: 1,
				InsuranceValue: decimal.NewFromInt(9000),
			},
			score: "0.25",
			level: LevelStandard,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScoreComplexity(&tt.req)
			assertDecimal(t, tt.score, got.Score, "score")
			assert.Equal(t, tt.level, got.Level)
		})
	}
}

func TestPricingBreakdownWithoutConfiguration(t *testing.T) {
	svc := NewRequestPricingService(NewCatalog(memory.New(), time.Minute))

	b, err := svc.PricingBreakdown(context.Background(), standardRequest(), decimal.NewFromInt(200))
	require.NoError(t, err)

	assertDecimal(t, "180.00", b.BaseJobPrice, "base_job_price")
	assertDecimal(t, "20.00", b.PlatformProfit, "platform_profit")
	assertDecimal(t, "90", b.ProviderPercentage, "provider_percentage")
	assertDecimal(t, "10", b.PlatformPercentage, "platform_percentage")
}

func TestPricingBreakdownStandardComplexity(t *testing.T) {
	store := memory.New()
	activeConfig(t, store, "10")
	svc := NewRequestPricingService(NewCatalog(store, time.Minute))

	b, err := svc.PricingBreakdown(context.Background(), standardRequest(), decimal.NewFromInt(150))
	require.NoError(t, err)

	assertDecimal(t, "0.25", b.ComplexityScore, "complexity_score")
	assertDecimal(t, "81.75", b.ProviderPercentage, "provider_percentage")
	assertDecimal(t, "122.63", b.BaseJobPrice, "base_job_price")
	assertDecimal(t, "15.00", b.PlatformProfit, "platform_profit")
	assertDecimal(t, "18.25", b.PlatformPercentage, "platform_percentage")

	// costs: staff 1*25*2, route 20*2.5, fuel 20*0.15, tax 150*0.02, value fixed 20
	assertDecimal(t, "50", b.CostBreakdown.StaffCosts, "staff_costs")
	assertDecimal(t, "50", b.CostBreakdown.RouteCosts, "route_costs")
	assertDecimal(t, "3", b.CostBreakdown.FuelCosts, "fuel_costs")
	assertDecimal(t, "3", b.CostBreakdown.TaxCosts, "tax_costs")
	assertDecimal(t, "20", b.CostBreakdown.ValueCosts, "value_costs")
	assertDecimal(t, "0", b.CostBreakdown.TimeCosts, "time_costs")
	assertDecimal(t, "126", b.TotalCosts, "total_costs")
	assertDecimal(t, "84", b.CostsPercentage, "costs_percentage")
}

func TestPricingBreakdownEdgeCases(t *testing.T) {
	store := memory.New()
	activeConfig(t, store, "10")
	svc := NewRequestPricingService(NewCatalog(store, time.Minute))
	ctx := context.Background()

	t.Run("zero price", func(t *testing.T) {
		b, err := svc.PricingBreakdown(ctx, standardRequest(), decimal.Zero)
		require.NoError(t, err)
		assert.True(t, b.BaseJobPrice.IsZero())
		assert.True(t, b.PlatformProfit.IsZero())
		assert.True(t, b.TotalCosts.IsZero())
	})

	t.Run("negative price", func(t *testing.T) {
		_, err := svc.PricingBreakdown(ctx, standardRequest(), decimal.NewFromInt(-1))
		assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
	})

	t.Run("min job price floor", func(t *testing.T) {
		b, err := svc.PricingBreakdown(ctx, standardRequest(), decimal.NewFromInt(32))
		require.NoError(t, err)
		assertDecimal(t, "30", b.BaseJobPrice, "base_job_price")
	})

	t.Run("rounds to cents", func(t *testing.T) {
		b, err := svc.PricingBreakdown(ctx, standardRequest(), dec("99.99"))
		require.NoError(t, err)
		// 99.99 * 81.75% = 81.741825
		assertDecimal(t, "81.74", b.BaseJobPrice, "base_job_price")
		assertDecimal(t, "10.00", b.PlatformProfit, "platform_profit")
	})
}

func TestPricingBreakdownDeductionCap(t *testing.T) {
	store := memory.New()
	activeConfig(t, store, "20")
	svc := NewRequestPricingService(NewCatalog(store, time.Minute))

	req := &models.ServiceRequest{
		EstimatedDistanceKm: 120, Stops: stops(6), StaffRequired: 5,
		RequiresSpecialHandling: true, IsInstant: true,
	}
	b, err := svc.PricingBreakdown(context.Background(), req, decimal.NewFromInt(1000))
	require.NoError(t, err)

	// 20 + 3 + (2 + 6*0.9) + (1 + 3*0.9) = 34.1, capped at 30
	assertDecimal(t, "70", b.ProviderPercentage, "provider_percentage")
	assertDecimal(t, "700", b.BaseJobPrice, "base_job_price")
	assertDecimal(t, "200", b.PlatformProfit, "platform_profit")
	assertDecimal(t, "50", b.CostBreakdown.SpecialHandlingCosts, "special_handling_costs")
	assertDecimal(t, "360", b.CostBreakdown.RouteCosts, "route_costs")
}

func TestPricingBreakdownProviderShareInvariant(t *testing.T) {
	store := memory.New()
	activeConfig(t, store, "12")
	catalog := NewCatalog(store, time.Minute)
	snap, err := catalog.Snapshot(context.Background())
	require.NoError(t, err)

	requests := []*models.ServiceRequest{
		standardRequest(),
		{EstimatedDistanceKm: 80, Stops: stops(5), StaffRequired: 4, RequiresSpecialHandling: true},
		{EstimatedDistanceKm: 3, Stops: stops(1), StaffRequired: 1, IsInstant: true},
	}

	for _, req := range requests {
		for price := int64(40); price <= 2000; price += 37 {
			p := decimal.NewFromInt(price)
			b, err := ComputeBreakdown(snap, req, p)
			require.NoError(t, err)

			assert.True(t, b.BaseJobPrice.GreaterThanOrEqual(p.Mul(dec("0.70")).Round(2)), "price %d", price)
			assert.True(t, b.BaseJobPrice.Add(b.PlatformProfit).LessThanOrEqual(p), "price %d", price)
			sum := b.ProviderPercentage.Add(b.PlatformPercentage)
			assert.True(t, sum.Sub(hundred).Abs().LessThanOrEqual(dec("0.01")), "price %d", price)
		}
	}
}

func TestPricingBreakdownTimeFactor(t *testing.T) {
	store := memory.New()
	cfg := activeConfig(t, store, "10")
	catalog := NewCatalog(store, time.Minute)

	params, _ := json.Marshal(models.TimeFactor{
		PeakHourMultiplier: dec("1.5"),
		WeekendMultiplier:  dec("1.2"),
		HolidayMultiplier:  dec("2"),
	})
	require.NoError(t, catalog.CreateFactor(context.Background(), &models.PricingFactor{
		ConfigurationID: cfg.ID,
		Kind:            models.FactorTime,
		Name:            "peak",
		Params:          params,
		IsActive:        true,
	}))

	b, err := NewRequestPricingService(catalog).PricingBreakdown(context.Background(), standardRequest(), decimal.NewFromInt(100))
	require.NoError(t, err)

	assertDecimal(t, "75", b.CostBreakdown.StaffCosts, "staff_costs")
	assertDecimal(t, "20", b.CostBreakdown.TimeCosts, "time_costs")
}

func TestPricingBreakdownInsurance(t *testing.T) {
	snap := &Snapshot{Factors: DefaultFactors()}

	req := standardRequest()
	req.InsuranceRequired = true
	req.InsuranceValue = decimal.NewFromInt(800)

	b, err := ComputeBreakdown(snap, req, decimal.NewFromInt(100))
	require.NoError(t, err)
	assertDecimal(t, "8", b.CostBreakdown.ValueCosts, "value_costs")
	assertDecimal(t, "15", b.CostBreakdown.InsuranceCosts, "insurance_costs")

	req.InsuranceValue = decimal.NewFromInt(4000)
	b, err = ComputeBreakdown(snap, req, decimal.NewFromInt(100))
	require.NoError(t, err)
	assertDecimal(t, "40", b.CostBreakdown.InsuranceCosts, "insurance_costs")

	// the premium is value based; base_rate is not added per request
	snap.Factors.Insurance.BaseRate = decimal.NewFromInt(99)
	b, err = ComputeBreakdown(snap, req, decimal.NewFromInt(100))
	require.NoError(t, err)
	assertDecimal(t, "40", b.CostBreakdown.InsuranceCosts, "insurance_costs")
}

func TestSnapshotPlatformFee(t *testing.T) {
	assertDecimal(t, "10", (&Snapshot{}).PlatformFeePercentage(), "no configuration")

	cfg := DefaultConfiguration()
	cfg.PlatformFeePercentage = decimal.NullDecimal{}
	assertDecimal(t, "10", (&Snapshot{Config: &cfg}).PlatformFeePercentage(), "unset")

	cfg.PlatformFeePercentage = decimal.NewNullDecimal(decimal.Zero)
	assertDecimal(t, "0", (&Snapshot{Config: &cfg}).PlatformFeePercentage(), "explicit zero")

	var decoded models.PricingConfiguration
	require.NoError(t, json.Unmarshal([]byte(`{"name":"No fee field"}`), &decoded))
	assert.False(t, decoded.PlatformFeePercentage.Valid)
	require.NoError(t, json.Unmarshal([]byte(`{"name":"Free","platform_fee_percentage":0}`), &decoded))
	assert.True(t, decoded.PlatformFeePercentage.Valid)
}

func TestCompensation(t *testing.T) {
	t.Run("tier edge at 100", func(t *testing.T) {
		c, err := Compensation(standardRequest(), decimal.NewFromInt(100))
		require.NoError(t, err)

		assertDecimal(t, "25", c.Breakdown.BaseCommissionPercentage, "base_commission")
		assertDecimal(t, "9", c.Breakdown.OperationalPercentage, "operational")
		assertDecimal(t, "34", c.Breakdown.TotalPlatformPercentage, "total_platform")
		assertDecimal(t, "66", c.DriverPercentage, "driver_percentage")
		assertDecimal(t, "66.00", c.DriverPayment, "driver_payment")
		assertDecimal(t, "34.00", c.PlatformCommission, "platform_commission")
	})

	t.Run("platform share clamps at 35", func(t *testing.T) {
		req := standardRequest()
		req.RequiresSpecialHandling = true
		req.InsuranceRequired = true
		c, err := Compensation(req, decimal.NewFromInt(40))
		require.NoError(t, err)
		assertDecimal(t, "35", c.Breakdown.TotalPlatformPercentage, "total_platform")
	})

	t.Run("premium job on top tier", func(t *testing.T) {
		req := &models.ServiceRequest{
			EstimatedDistanceKm: 120, Stops: stops(6), StaffRequired: 5, IsInstant: true,
		}
		c, err := Compensation(req, decimal.NewFromInt(1000))
		require.NoError(t, err)
		// 18 + 9 = 27 platform, premium +3 gives 76
		assertDecimal(t, "76", c.DriverPercentage, "driver_percentage")

		assertDecimal(t, "760.00", c.DriverPayment, "driver_payment")

		c, err = Compensation(req, decimal.NewFromInt(300))
		require.NoError(t, err)
		// 20 + 9 = 29 platform
		assertDecimal(t, "74", c.DriverPercentage, "driver_percentage")
	})

	t.Run("simple job floors at 65", func(t *testing.T) {
		req := &models.ServiceRequest{EstimatedDistanceKm: 2, Stops: stops(1), StaffRequired: 1}
		c, err := Compensation(req, decimal.NewFromInt(25))
		require.NoError(t, err)
		assertDecimal(t, "65", c.DriverPercentage, "driver_percentage")
		assertDecimal(t, "16.25", c.DriverPayment, "driver_payment")
		assert.False(t, c.Breakdown.MinimumPaymentApplied)
	})

	t.Run("minimum payment above 30", func(t *testing.T) {
		req := &models.ServiceRequest{EstimatedDistanceKm: 2, Stops: stops(1), StaffRequired: 1}
		c, err := Compensation(req, dec("30.50"))
		require.NoError(t, err)
		assertDecimal(t, "20", c.DriverPayment, "driver_payment")
		assertDecimal(t, "10.50", c.PlatformCommission, "platform_commission")
		assert.True(t, c.Breakdown.MinimumPaymentApplied)
	})

	t.Run("negative price", func(t *testing.T) {
		_, err := Compensation(standardRequest(), decimal.NewFromInt(-5))
		assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
	})
}

func TestCompensationSumsToPrice(t *testing.T) {
	reqs := []*models.ServiceRequest{
		standardRequest(),
		{EstimatedDistanceKm: 2, Stops: stops(1), StaffRequired: 1},
		{EstimatedDistanceKm: 70, Stops: stops(4), StaffRequired: 3, RequiresSpecialHandling: true},
	}
	for _, req := range reqs {
		for cents := int64(0); cents <= 150000; cents += 1337 {
			price := decimal.New(cents, -2)
			c, err := Compensation(req, price)
			require.NoError(t, err)
			assert.True(t, c.DriverPayment.Add(c.PlatformCommission).Equal(price.Round(2)), "price %s", price)
			assert.False(t, c.DriverPayment.IsNegative())
		}
	}
}

func TestValidateConfiguration(t *testing.T) {
	cfg := DefaultConfiguration()
	assert.NoError(t, ValidateConfiguration(&cfg))

	bad := DefaultConfiguration()
	bad.Name = ""
	bad.MaxPriceMultiplier = dec("0.5")
	bad.PlatformFeePercentage = decimal.NewNullDecimal(dec("120"))
	err := ValidateConfiguration(&bad)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "max_price_multiplier")
	assert.Contains(t, err.Error(), "platform_fee_percentage")
}

func TestValidateFactor(t *testing.T) {
	tests := []struct {
		name   string
		kind   models.FactorKind
		params string
		ok     bool
	}{
		{"valid distance", models.FactorDistance, `{"base_rate_per_km":"2.0","additional_distance_threshold":"40","additional_distance_multiplier":"1.1"}`, true},
		{"discount multiplier", models.FactorServiceLevel, `{"key":"economy","multiplier":"0.8"}`, true},
		{"negative rate", models.FactorStaff, `{"hourly_rate":"-5"}`, false},
		{"unknown field", models.FactorWeight, `{"per_pound":"1"}`, false},
		{"unknown kind", models.FactorKind("tolls"), `{}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFactor(&models.PricingFactor{ConfigurationID: "cfg", Kind: tt.kind, Params: json.RawMessage(tt.params)})
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
			}
		})
	}
}

type countingStore struct {
	*memory.Store
	activeLoads int
}

func (c *countingStore) GetActiveConfiguration(ctx context.Context) (*models.PricingConfiguration, error) {
	c.activeLoads++
	return c.Store.GetActiveConfiguration(ctx)
}

func TestCatalogCachesAndInvalidates(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: memory.New()}
	first := DefaultConfiguration()
	require.NoError(t, store.CreateConfiguration(ctx, &first))

	second := DefaultConfiguration()
	second.Name = "Summer"
	second.IsActive = false
	second.IsDefault = false
	second.PlatformFeePercentage = decimal.NewNullDecimal(dec("12"))
	require.NoError(t, store.CreateConfiguration(ctx, &second))

	catalog := NewCatalog(store, time.Minute)

	cfg, err := catalog.ActiveConfiguration(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, cfg.ID)
	_, err = catalog.ActiveConfiguration(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, store.activeLoads)

	require.NoError(t, catalog.Activate(ctx, second.ID))

	cfg, err = catalog.ActiveConfiguration(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, cfg.ID)
	assert.Equal(t, 2, store.activeLoads)

	all, err := catalog.ListConfigurations(ctx)
	require.NoError(t, err)
	active := 0
	for _, c := range all {
		if c.IsActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestCatalogFactorsFallBackToDefaults(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cfg := activeConfig(t, store, "10")
	catalog := NewCatalog(store, time.Minute)

	records, err := catalog.Factors(ctx, cfg.ID, models.FactorDistance)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "DEFAULT_distance", records[0].Name)

	var distance models.DistanceFactor
	require.NoError(t, json.Unmarshal(records[0].Params, &distance))
	assertDecimal(t, "2.5", distance.BaseRatePerKm, "base_rate_per_km")

	vehicles, err := catalog.Factors(ctx, cfg.ID, models.FactorVehicle)
	require.NoError(t, err)
	assert.Len(t, vehicles, 3)

	_, err = catalog.Factors(ctx, cfg.ID, models.FactorKind("bogus"))
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
}

func TestCatalogSkipsUndecodableRecords(t *testing.T) {
	set := DefaultFactors()
	applyRecords(&set, models.FactorStaff, []models.PricingFactor{
		{ID: "broken", Kind: models.FactorStaff, Params: json.RawMessage(`{"hourly_rate":"abc"}`), IsActive: true},
	})
	assertDecimal(t, "25", set.Staff.HourlyRate, "hourly_rate")
}
