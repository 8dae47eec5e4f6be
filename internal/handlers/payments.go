package handlers

import (
	"io"
	"log"
	"net/http"

	"wastelink-backend/internal/database"
	"wastelink-backend/internal/models"
	"wastelink-backend/internal/services/payments"
	"wastelink-backend/pkg/utils"

	"github.com/shopspring/decimal"
)

const maxWebhookBody = 1 << 20

type CreatePaymentRequest struct {
	RequestID   string          `json:"request_id"`
	Amount      decimal.Decimal `json:"amount"`
	PaymentType string          `json:"payment_type"`
	Reference   string          `json:"reference"`
}

// CreatePayment opens a pending payment against a request the caller can see
func CreatePayment(requests database.ServiceRequestStore, service *payments.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body CreatePaymentRequest
		if err := decodeBody(r, &body); err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		if body.RequestID == "" {
			utils.RespondError(w, http.StatusBadRequest, "request_id is required")
			return
		}

		req, err := requests.GetServiceRequest(r.Context(), body.RequestID)
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		if claims, _ := actor(r); claims.Role == models.RoleCustomer && req.CustomerID != claims.UserID {
			utils.RespondError(w, http.StatusForbidden, "Forbidden")
			return
		}

		payment, err := service.CreatePayment(r.Context(), &models.Payment{
			RequestID:   body.RequestID,
			Amount:      body.Amount,
			PaymentType: body.PaymentType,
			Reference:   body.Reference,
		})
		if err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusCreated, payment)
	}
}

// PaymentWebhook receives signed gateway callbacks. Anything that passes the
// signature check is acknowledged once recorded so the gateway stops retrying.
func PaymentWebhook(service *payments.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, "failed to read body")
			return
		}

		event, err := service.ReceiveWebhook(r.Context(), body, r.Header.Get(payments.SignatureHeader))
		if err != nil {
			if payments.IsInvalidSignature(err) {
				log.Printf("❌ [PAYMENTS] Rejected webhook with invalid signature from %s", r.RemoteAddr)
				utils.RespondError(w, http.StatusUnauthorized, "invalid signature")
				return
			}
			utils.RespondAppError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"received": true,
			"event_id": event.ID,
		})
	}
}
