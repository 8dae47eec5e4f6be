package handlers

import (
	"net/http"

	"wastelink-backend/internal/database"
	"wastelink-backend/internal/models"
	"wastelink-backend/internal/services/telemetry"
	"wastelink-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
)

// ListAlerts supports ?type, ?status (active|resolved) and ?bin_id. Customers
// only see alerts on bins they own.
func ListAlerts(alerts database.AlertStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := pagination(r)
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		status := r.URL.Query().Get("status")
		if status != "" && status != "active" && status != "resolved" {
			utils.RespondError(w, http.StatusBadRequest, "status must be 'active' or 'resolved'")
			return
		}

		filter := database.AlertFilter{
			BinID:     r.URL.Query().Get("bin_id"),
			AlertType: r.URL.Query().Get("type"),
			Status:    status,
			Limit:     limit,
			Offset:    offset,
		}
		if claims, _ := actor(r); claims.Role == models.RoleCustomer {
			filter.OwnerID = claims.UserID
		}

		list, err := alerts.ListAlerts(r.Context(), filter)
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, list)
	}
}

func ResolveAlert(store database.Store, generator *telemetry.AlertGenerator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		claims, actorID := actor(r)
		if claims.Role == models.RoleCustomer {
			existing, err := store.GetAlert(r.Context(), id)
			if err != nil {
				utils.RespondAppError(w, r, err)
				return
			}
			if _, ok := binFor(w, r, store, existing.BinID); !ok {
				return
			}
		}

		alert, err := generator.Resolve(r.Context(), id, actorID)
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, alert)
	}
}
