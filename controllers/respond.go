package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"go-grocery/middleware"
	"go-grocery/utils"
)

var validate = validator.New()

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

// userClaims extracts the verified token claims attached by AuthMiddleware
func userClaims(r *http.Request) (*utils.Claims, bool) {
	claims, ok := r.Context().Value(middleware.UserContextKey).(*utils.Claims)
	return claims, ok
}
