package handlers

import (
	"log"
	"net/http"

	"wastelink-backend/internal/database"
	"wastelink-backend/internal/geo"
	"wastelink-backend/internal/models"
	"wastelink-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
)

// CreateProvider registers a provider. Admins only.
func CreateProvider(providers database.ProviderStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p models.Provider
		if err := decodeBody(r, &p); err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		if p.Name == "" {
			utils.RespondError(w, http.StatusBadRequest, "name is required")
			return
		}
		if !(geo.Point{Latitude: p.Latitude, Longitude: p.Longitude}).Valid() {
			utils.RespondError(w, http.StatusBadRequest, "invalid coordinates")
			return
		}
		if p.ServiceRadiusKm <= 0 || p.Rating < 0 || p.Rating > 5 {
			utils.RespondError(w, http.StatusBadRequest, "service_radius_km must be positive and rating 0-5")
			return
		}
		for _, wt := range p.WasteTypesHandled {
			if !knownWasteTypes[wt] {
				utils.RespondError(w, http.StatusBadRequest, "unknown waste type "+wt)
				return
			}
		}

		p.ID = ""
		if err := providers.CreateProvider(r.Context(), &p); err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		log.Printf("✅ Provider %s registered (%.1f km radius)", p.Name, p.ServiceRadiusKm)
		utils.RespondJSON(w, http.StatusCreated, p)
	}
}

func GetProvider(providers database.ProviderStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := providers.GetProvider(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, p)
	}
}
