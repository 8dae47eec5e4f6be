package handlers

import (
	"log"
	"net/http"
	"strings"

	"wastelink-backend/internal/database"
	"wastelink-backend/internal/middleware"
	"wastelink-backend/internal/models"
	"wastelink-backend/pkg/utils"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type CreateUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"` // customer, provider, driver or admin
}

type CreateUserResponse struct {
	Success bool                 `json:"success"`
	User    *models.UserResponse `json:"user,omitempty"`
	Message string               `json:"message,omitempty"`
}

var validRoles = map[string]bool{
	models.RoleCustomer: true,
	models.RoleProvider: true,
	models.RoleDriver:   true,
	models.RoleAdmin:    true,
}

// CreateUser creates a new user. Requires admin authentication.
func CreateUser(users database.UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Println("📥 REQUEST: POST /api/users - Create new user")

		var req CreateUserRequest
		if err := decodeBody(r, &req); err != nil {
			utils.RespondAppError(w, r, err)
			return
		}

		if req.Email == "" || req.Password == "" || req.Name == "" || req.Role == "" {
			log.Println("❌ Missing required fields")
			utils.RespondError(w, http.StatusBadRequest, "Email, password, name, and role are required")
			return
		}
		if !validRoles[req.Role] {
			log.Printf("❌ Invalid role: %s", req.Role)
			utils.RespondError(w, http.StatusBadRequest, "Role must be 'customer', 'provider', 'driver', or 'admin'")
			return
		}

		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			log.Printf("❌ Failed to hash password: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to hash password")
			return
		}

		user := models.User{
			ID:       uuid.New().String(),
			Email:    strings.ToLower(strings.TrimSpace(req.Email)),
			Password: string(hashedPassword),
			Name:     req.Name,
			Role:     req.Role,
		}
		if err := users.CreateUser(r.Context(), &user); err != nil {
			utils.RespondAppError(w, r, err)
			return
		}

		log.Printf("✅ USER CREATED: %s (%s) %s", user.Email, user.Role, user.ID)
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

		userResponse := user.ToUserResponse()
		utils.RespondJSON(w, http.StatusCreated, CreateUserResponse{
			Success: true,
			User:    &userResponse,
			Message: "User created successfully",
		})
	}
}

type FCMTokenRequest struct {
	Token string `json:"token"`
}

// RegisterFCMToken stores the caller's device token for push delivery
func RegisterFCMToken(users database.UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req FCMTokenRequest
		if err := decodeBody(r, &req); err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		if strings.TrimSpace(req.Token) == "" {
			utils.RespondError(w, http.StatusBadRequest, "token is required")
			return
		}

		if err := users.SetFCMToken(r.Context(), claims.UserID, req.Token); err != nil {
			utils.RespondAppError(w, r, err)
			return
		}
		log.Printf("✅ FCM token registered for user %s", claims.UserID)
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	}
}
