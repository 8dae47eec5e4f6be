package handlers

import (
	"net/http"

	"wastelink-backend/internal/database"
	"wastelink-backend/internal/models"
	"wastelink-backend/internal/services/lifecycle"
	"wastelink-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type AcceptBidResponse struct {
	Success bool        `json:"success"`
	Bid     interface{} `json:"bid"`
	Request interface{} `json:"request"`
}

// ownsBidRequest reports whether a customer caller filed the request the bid is
// on. Other roles pass; the response has been written when it returns false.
func ownsBidRequest(w http.ResponseWriter, r *http.Request, store database.Store) bool {
	claims, _ := actor(r)
	if claims.Role != models.RoleCustomer {
		return true
	}
	bid, err := store.GetBid(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		utils.RespondAppError(w, r, err)
		return false
	}
	req, err := store.GetServiceRequest(r.Context(), bid.RequestID)
	if err != nil {
		utils.RespondAppError(w, r, err)
		return false
	}
	if req.CustomerID != claims.UserID {
		utils.RespondError(w, http.StatusForbidden, "Forbidden")
		return false
	}
	return true
}

func AcceptBid(store database.Store, service *lifecycle.BidService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !ownsBidRequest(w, r, store) {
			return
		}
		_, actorID := actor(r)
		bid, req, err := service.AcceptBid(r.Context(), chi.URLParam(r, "id"), actorID)
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, AcceptBidResponse{Success: true, Bid: bid, Request: req})
	}
}

func RejectBid(store database.Store, service *lifecycle.BidService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !ownsBidRequest(w, r, store) {
			return
		}
		bid, err := service.RejectBid(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, bid)
	}
}

type CounterOfferRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// MakeCounterOffer records the requesting customer's counter amount on a bid
func MakeCounterOffer(service *lifecycle.BidService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body CounterOfferRequest
		if err := decodeBody(r, &body); err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		claims, _ := actor(r)
		bid, err := service.MakeCounterOffer(r.Context(), chi.URLParam(r, "id"), claims.UserID, body.Amount)
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, bid)
	}
}
