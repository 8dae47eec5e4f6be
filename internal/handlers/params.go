package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/middleware"
	"wastelink-backend/internal/models"
)

var nowFunc = time.Now

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.InvalidInput("invalid request body: %v", err)
	}
	return nil
}

// pagination reads ?limit and ?offset, clamping limit to maxPageSize
func pagination(r *http.Request) (int, int, error) {
	limit, offset := defaultPageSize, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, 0, apperr.InvalidInput("limit must be a positive integer")
		}
		limit = n
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, apperr.InvalidInput("offset must be a non-negative integer")
		}
		offset = n
	}
	return limit, offset, nil
}

func actor(r *http.Request) (middleware.UserClaims, *string) {
	claims, ok := middleware.GetUserFromContext(r)
	if !ok {
		return claims, nil
	}
	id := claims.UserID
	return claims, &id
}

func isAdmin(claims middleware.UserClaims) bool {
	return claims.Role == models.RoleAdmin
}
