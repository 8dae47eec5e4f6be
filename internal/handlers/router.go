package handlers

import (
	"net/http"
	"time"

	"wastelink-backend/internal/database"
	"wastelink-backend/internal/middleware"
	"wastelink-backend/internal/models"
	"wastelink-backend/internal/services/lifecycle"
	"wastelink-backend/internal/services/matching"
	"wastelink-backend/internal/services/payments"
	"wastelink-backend/internal/services/pricing"
	"wastelink-backend/internal/services/telemetry"
	"wastelink-backend/internal/websocket"
	"wastelink-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Deps is everything the HTTP surface calls into
type Deps struct {
	Store       database.Store
	Catalog     *pricing.Catalog
	Pricing     *pricing.RequestPricingService
	Coordinator *lifecycle.Coordinator
	Bids        *lifecycle.BidService
	Payments    *payments.Service
	Ingestor    *telemetry.Ingestor
	Alerts      *telemetry.AlertGenerator
	Matcher     *matching.Matcher
	Hub         *websocket.Hub
	JWTSecret   string
}

// Health reports liveness and the number of live websocket clients
func Health(hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clients := 0
		if hub != nil {
			clients = hub.GetClientCount()
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"status":            "ok",
			"time":              nowFunc().UTC().Format(time.RFC3339),
			"websocket_clients": clients,
		})
	}
}

func NewRouter(d Deps) chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", payments.SignatureHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", Health(d.Hub))

	// Authentication routes (no auth required)
	r.Post("/api/auth/login", Login(d.Store, d.JWTSecret))

	// Gateway callbacks authenticate with the HMAC signature instead of a JWT
	r.Post("/api/payments/webhook", PaymentWebhook(d.Payments))

	// WebSocket endpoint (authentication handled in handler via query param)
	if d.Hub != nil {
		r.Get("/ws", websocket.HandleWebSocket(d.Hub, d.JWTSecret))
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(d.JWTSecret))

			// Service requests
			r.Get("/service-requests", ListServiceRequests(d.Store))
			r.Post("/service-requests", CreateServiceRequest(d.Coordinator))
			r.Get("/service-requests/{id}", GetServiceRequest(d.Store))
			r.Get("/service-requests/{id}/timeline", GetRequestTimeline(d.Store))
			r.Post("/service-requests/{id}/transition", TransitionServiceRequest(d.Store, d.Coordinator))
			r.Get("/service-requests/{id}/bids", ListRequestBids(d.Store))

			// Provider-facing marketplace
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(models.RoleProvider, models.RoleAdmin))
				r.Get("/service-requests/{id}/providers", GetRequestProviders(d.Store, d.Matcher))
				r.Post("/service-requests/{id}/bids", SubmitBid(d.Store, d.Bids))
			})

			// Customer decisions on bids
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(models.RoleCustomer, models.RoleAdmin))
				r.Post("/bids/{id}/accept", AcceptBid(d.Store, d.Bids))
				r.Post("/bids/{id}/reject", RejectBid(d.Store, d.Bids))
				r.Post("/bids/{id}/make_counter_offer", MakeCounterOffer(d.Bids))
			})

			r.Post("/payments", CreatePayment(d.Store, d.Payments))

			// Smart bins and telemetry
			r.Get("/smart-bins", ListSmartBins(d.Store))
			r.Get("/smart-bins/{id}", GetSmartBin(d.Store))
			r.Get("/smart-bins/{id}/readings", ListReadings(d.Store))
			r.Post("/smart-bins/{id}/readings", PostReadings(d.Store, d.Ingestor))
			r.Get("/alerts", ListAlerts(d.Store))
			r.Post("/alerts/{id}/resolve", ResolveAlert(d.Store, d.Alerts))

			// Pricing
			r.Post("/pricing/breakdown", PricingBreakdown(d.Store, d.Pricing))
			r.Post("/pricing/compensation", DriverCompensation(d.Store))

			r.Get("/providers/{id}", GetProvider(d.Store))

			// FCM token registration
			r.Post("/users/fcm-token", RegisterFCMToken(d.Store))
		})

		// Admin endpoints (require authentication + admin role)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(d.JWTSecret))
			r.Use(middleware.RequireRole(models.RoleAdmin))

			r.Get("/price-configurations", ListPriceConfigurations(d.Catalog))
			r.Post("/price-configurations", CreatePriceConfiguration(d.Catalog))
			r.Put("/price-configurations/{id}", UpdatePriceConfiguration(d.Store, d.Catalog))
			r.Post("/price-configurations/{id}/activate", ActivatePriceConfiguration(d.Catalog))
			r.Get("/pricing/factors/{kind}", ListPricingFactors(d.Catalog))
			r.Post("/pricing/factors/{kind}", CreatePricingFactor(d.Catalog))

			r.Post("/smart-bins", CreateSmartBin(d.Store))
			r.Post("/providers", CreateProvider(d.Store))
			r.Post("/users", CreateUser(d.Store))
		})
	})

	return r
}
