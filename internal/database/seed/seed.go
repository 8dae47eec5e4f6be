// Package seed installs the default pricing configuration and a small demo
// data set. Every step checks for existing rows first, so it is safe to run on
// each start against either store.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/database"
	"wastelink-backend/internal/models"
	"wastelink-backend/internal/services/pricing"
	"wastelink-backend/internal/services/telemetry"

	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
)

const (
	AdminEmail    = "admin@wastelink.com"
	CustomerEmail = "customer@wastelink.com"
	ProviderEmail = "provider@wastelink.com"
)

// Run seeds pricing, users, a provider and demo bins, in that order
func Run(ctx context.Context, store database.Store) error {
	if err := Pricing(ctx, store); err != nil {
		return fmt.Errorf("seed pricing: %w", err)
	}
	customerID, providerUserID, err := Users(ctx, store)
	if err != nil {
		return fmt.Errorf("seed users: %w", err)
	}
	if err := Providers(ctx, store, providerUserID); err != nil {
		return fmt.Errorf("seed providers: %w", err)
	}
	if err := SmartBins(ctx, store, customerID); err != nil {
		return fmt.Errorf("seed smart bins: %w", err)
	}
	return nil
}

func Pricing(ctx context.Context, store database.PricingStore) error {
	_, err := store.GetActiveConfiguration(ctx)
	if err == nil {
		log.Println("✓ Pricing configuration already seeded, skipping...")
		return nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return err
	}

	log.Println("🌱 Seeding default pricing configuration...")
	cfg := pricing.DefaultConfiguration()
	if err := store.CreateConfiguration(ctx, &cfg); err != nil {
		return err
	}
	log.Printf("✓ Active pricing configuration: %s (%s)", cfg.Name, cfg.ID)
	return nil
}

type demoUser struct {
	email    string
	password string
	name     string
	role     string
}

// Users creates the demo accounts and returns the customer and provider user IDs
func Users(ctx context.Context, store database.UserStore) (string, string, error) {
	users := []demoUser{
		{email: AdminEmail, password: "admin123", name: "Admin User", role: models.RoleAdmin},
		{email: CustomerEmail, password: "customer123", name: "Demo Customer", role: models.RoleCustomer},
		{email: ProviderEmail, password: "provider123", name: "Demo Hauler", role: models.RoleProvider},
	}

	ids := make(map[string]string, len(users))
	created := 0
	for _, du := range users {
		existing, err := store.GetUserByEmail(ctx, du.email)
		if err == nil {
			ids[du.role] = existing.ID
			continue
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return "", "", err
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(du.password), bcrypt.DefaultCost)
		if err != nil {
			return "", "", err
		}
		u := models.User{Email: du.email, Password: string(hash), Name: du.name, Role: du.role}
		if err := store.CreateUser(ctx, &u); err != nil {
			return "", "", err
		}
		ids[du.role] = u.ID
		created++
		log.Printf("  ✓ Created user: %s (%s)", u.Email, u.Role)
	}

	if created == 0 {
		log.Println("✓ Users already seeded, skipping...")
	} else {
		log.Println("✓ Successfully seeded demo users")
		log.Printf("  📧 Admin:    %s / admin123", AdminEmail)
		log.Printf("  📧 Customer: %s / customer123", CustomerEmail)
		log.Printf("  📧 Provider: %s / provider123", ProviderEmail)
	}
	return ids[models.RoleCustomer], ids[models.RoleProvider], nil
}

func Providers(ctx context.Context, store database.ProviderStore, providerUserID string) error {
	if _, err := store.GetProviderByUser(ctx, providerUserID); err == nil {
		log.Println("✓ Providers already seeded, skipping...")
		return nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return err
	}

	p := models.Provider{
		UserID:    &providerUserID,
		Name:      "South Bay Haulers",
		Latitude:  37.3382,
		Longitude: -121.8863,
		WasteTypesHandled: pq.StringArray{
			models.WasteGeneral, models.WasteRecyclable, models.WasteOrganic, models.WastePaper,
		},
		Rating:          4.6,
		ServiceRadiusKm: 40,
		IsActive:        true,
	}
	if err := store.CreateProvider(ctx, &p); err != nil {
		return err
	}
	log.Printf("✓ Seeded provider %s", p.Name)
	return nil
}

type demoBin struct {
	number    string
	wasteType string
	location  string
	fill      float64
	lat, lng  float64
}

func SmartBins(ctx context.Context, store database.BinStore, ownerID string) error {
	existing, err := store.ListBins(ctx, database.BinFilter{Limit: 1})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		log.Println("✓ Smart bins already seeded, skipping...")
		return nil
	}

	bins := []demoBin{
		{"SB-0001", models.WasteGeneral, models.LocationCommercial, 45, 37.3329, -121.8866},
		{"SB-0002", models.WasteRecyclable, models.LocationCommercial, 67, 37.3361, -121.8869},
		{"SB-0003", models.WasteOrganic, models.LocationResidential, 23, 37.3343, -121.8936},
		{"SB-0004", models.WasteGeneral, models.LocationPublic, 89, 37.3313, -121.8917},
		{"SB-0005", models.WastePaper, models.LocationCommercial, 12, 37.3351, -121.8894},
		{"SB-0006", models.WastePlastic, models.LocationResidential, 78, 37.3352, -121.8931},
		{"SB-0007", models.WasteGlass, models.LocationPublic, 56, 37.3357, -121.8826},
		{"SB-0008", models.WasteGeneral, models.LocationIndustrial, 34, 37.3339, -121.8905},
		{"SB-0009", models.WasteRecyclable, models.LocationResidential, 91, 37.3326, -121.8863},
		{"SB-0010", models.WasteMetal, models.LocationIndustrial, 15, 37.3344, -121.8877},
	}

	log.Printf("🌱 Seeding %d smart bins...", len(bins))
	now := time.Now()
	for _, b := range bins {
		bin := models.SmartBin{
			BinNumber:               b.number,
			OwnerID:                 ownerID,
			WasteType:               b.wasteType,
			LocationType:            b.location,
			Latitude:                b.lat,
			Longitude:               b.lng,
			FillLevel:               b.fill,
			FillStatus:              telemetry.FillStatusFor(b.fill),
			MaintenanceIntervalDays: telemetry.DefaultMaintenanceIntervalDays,
			LastCollectionAt:        &now,
			LastMaintenanceAt:       &now,
		}
		if err := store.CreateBin(ctx, &bin); err != nil {
			return err
		}
	}
	log.Printf("✓ Successfully seeded %d smart bins", len(bins))
	return nil
}
