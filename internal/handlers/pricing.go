package handlers

import (
	"context"
	"log"
	"net/http"

	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/database"
	"wastelink-backend/internal/models"
	"wastelink-backend/internal/services/pricing"
	"wastelink-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// PriceQuoteRequest prices either a stored request (request_id) or an inline one.
// A missing price falls back to the request's final price.
type PriceQuoteRequest struct {
	RequestID string                 `json:"request_id"`
	Request   *models.ServiceRequest `json:"request"`
	Price     decimal.NullDecimal    `json:"price"`
}

func (q *PriceQuoteRequest) resolve(ctx context.Context, requests database.ServiceRequestStore) (*models.ServiceRequest, decimal.Decimal, error) {
	req := q.Request
	if q.RequestID != "" {
		stored, err := requests.GetServiceRequest(ctx, q.RequestID)
		if err != nil {
			return nil, decimal.Zero, err
		}
		req = stored
	}
	if req == nil {
		return nil, decimal.Zero, apperr.InvalidInput("request_id or request is required")
	}
	price := req.FinalPrice
	if q.Price.Valid {
		price = q.Price.Decimal
	}
	return req, price, nil
}

func PricingBreakdown(requests database.ServiceRequestStore, service *pricing.RequestPricingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body PriceQuoteRequest
		if err := decodeBody(r, &body); err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		req, price, err := body.resolve(r.Context(), requests)
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		breakdown, err := service.PricingBreakdown(r.Context(), req, price)
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, breakdown)
	}
}

func DriverCompensation(requests database.ServiceRequestStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body PriceQuoteRequest
		if err := decodeBody(r, &body); err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		req, price, err := body.resolve(r.Context(), requests)
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		comp, err := pricing.Compensation(req, price)
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, comp)
	}
}

func ListPriceConfigurations(catalog *pricing.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := catalog.ListConfigurations(r.Context())
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, list)
	}
}

// CreatePriceConfiguration stores a new, inactive configuration
func CreatePriceConfiguration(catalog *pricing.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cfg models.PricingConfiguration
		if err := decodeBody(r, &cfg); err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		cfg.ID = ""
		cfg.IsActive = false
		if err := catalog.CreateConfiguration(r.Context(), &cfg); err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusCreated, cfg)
	}
}

// UpdatePriceConfiguration replaces the editable fields; activation goes through
// the activate endpoint.
func UpdatePriceConfiguration(store database.PricingStore, catalog *pricing.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		existing, err := store.GetConfiguration(r.Context(), id)
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}

		var cfg models.PricingConfiguration
		if err := decodeBody(r, &cfg); err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		cfg.ID = existing.ID
		cfg.IsActive = existing.IsActive
		cfg.CreatedAt = existing.CreatedAt

		if err := catalog.UpdateConfiguration(r.Context(), &cfg); err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		updated, err := store.GetConfiguration(r.Context(), id)
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, updated)
	}
}

func ActivatePriceConfiguration(catalog *pricing.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := catalog.Activate(r.Context(), id); err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		cfg, err := catalog.ActiveConfiguration(r.Context())
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		log.Printf("💲 Pricing configuration %s is now active", id)
		utils.RespondJSON(w, http.StatusOK, cfg)
	}
}

// configurationFor reads ?configuration_id, defaulting to the active row
func configurationFor(r *http.Request, catalog *pricing.Catalog, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if id := r.URL.Query().Get("configuration_id"); id != "" {
		return id, nil
	}
	cfg, err := catalog.ActiveConfiguration(r.Context())
	if err != nil {
		return "", err
	}
	return cfg.ID, nil
}

func ListPricingFactors(catalog *pricing.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		configID, err := configurationFor(r, catalog, "")
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		factors, err := catalog.Factors(r.Context(), configID, models.FactorKind(chi.URLParam(r, "kind")))
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, factors)
	}
}

func CreatePricingFactor(catalog *pricing.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var f models.PricingFactor
		if err := decodeBody(r, &f); err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		configID, err := configurationFor(r, catalog, f.ConfigurationID)
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		f.ID = ""
		f.ConfigurationID = configID
		f.Kind = models.FactorKind(chi.URLParam(r, "kind"))
		f.IsActive = true

		if err := catalog.CreateFactor(r.Context(), &f); err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusCreated, f)
	}
}
