package handlers

import (
	"log"
	"net/http"

	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/database"
	"wastelink-backend/internal/models"
	"wastelink-backend/internal/services/lifecycle"
	"wastelink-backend/internal/services/matching"
	"wastelink-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// ListServiceRequests returns requests filtered by ?status and ?type. Customers
// only see their own.
func ListServiceRequests(requests database.ServiceRequestStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := pagination(r)
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		filter := database.RequestFilter{
			Status:      r.URL.Query().Get("status"),
			ServiceType: r.URL.Query().Get("type"),
			Limit:       limit,
			Offset:      offset,
		}
		if claims, _ := actor(r); claims.Role == models.RoleCustomer {
			filter.CustomerID = claims.UserID
		}

		list, err := requests.ListServiceRequests(r.Context(), filter)
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, list)
	}
}

// CreateServiceRequest stores a draft request for the caller. Admins may file
// on behalf of a customer by setting customer_id.
func CreateServiceRequest(coordinator *lifecycle.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.ServiceRequest
		if err := decodeBody(r, &req); err != nil {
			utils.RespondAppError(w, r, err)
			return
		}

		claims, _ := actor(r)
		if !isAdmin(claims) || req.CustomerID == "" {
			req.CustomerID = claims.UserID
		}
		req.ID = ""

		created, err := coordinator.CreateRequest(r.Context(), &req)
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusCreated, created)
	}
}

func GetServiceRequest(requests database.ServiceRequestStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := requests.GetServiceRequest(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, req)
	}
}

// GetRequestProviders ranks nearby providers for a request
func GetRequestProviders(requests database.ServiceRequestStore, matcher *matching.Matcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := requests.GetServiceRequest(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		ranked, err := matcher.RankForRequest(r.Context(), req)
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, ranked)
	}
}

func GetRequestTimeline(requests database.ServiceRequestStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := requests.GetServiceRequest(r.Context(), id); err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		events, err := requests.ListTimeline(r.Context(), id)
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, events)
	}
}

type TransitionRequest struct {
	Status models.RequestStatus `json:"status"`
}

// TransitionServiceRequest moves a request along its state machine. Customers
// can only act on their own requests.
func TransitionServiceRequest(requests database.ServiceRequestStore, coordinator *lifecycle.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var body TransitionRequest
		if err := decodeBody(r, &body); err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		if body.Status == "" {
			utils.RespondError(w, http.StatusBadRequest, "status is required")
			return
		}

		claims, actorID := actor(r)
		if claims.Role == models.RoleCustomer {
			req, err := requests.GetServiceRequest(r.Context(), id)
			if err != nil {
				utils.RespondAppError(w, r, err)
				return
			}
			if req.CustomerID != claims.UserID {
				utils.RespondError(w, http.StatusForbidden, "Forbidden")
				return
			}
		}

		updated, err := coordinator.TransitionRequest(r.Context(), id, body.Status, actorID)
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		log.Printf("🔄 Request %s moved to %s by %s", id, updated.Status, claims.UserID)
		utils.RespondJSON(w, http.StatusOK, updated)
	}
}

func ListRequestBids(bids database.BidStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := bids.ListBidsByRequest(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, list)
	}
}

type SubmitBidRequest struct {
	ProviderID string          `json:"provider_id"`
	Amount     decimal.Decimal `json:"amount"`
	Message    string          `json:"message"`
}

// SubmitBid places a bid for the caller's provider account. Admins may bid on
// behalf of a provider by setting provider_id.
func SubmitBid(providers database.ProviderStore, service *lifecycle.BidService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body SubmitBidRequest
		if err := decodeBody(r, &body); err != nil {
			utils.RespondAppError(w, r, err)
			return
		}

		claims, _ := actor(r)
		providerID := body.ProviderID
		if !isAdmin(claims) || providerID == "" {
			provider, err := providers.GetProviderByUser(r.Context(), claims.UserID)
			if err != nil {
				if apperr.KindOf(err) == apperr.KindNotFound {
					utils.RespondError(w, http.StatusForbidden, "caller has no provider account")
					return
				}
				utils.RespondAppError(w, r, err)
				return
			}
			providerID = provider.ID
		}

		bid, err := service.SubmitBid(r.Context(), providerID, chi.URLParam(r, "id"), body.Amount, body.Message)
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusCreated, bid)
	}
}
