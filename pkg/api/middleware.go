package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ssargent/quill/pkg/auth"
)

// bearerOrigin extracts the origin credential from the Authorization header.
// A missing or malformed header yields an empty origin, which the dispatcher
// rejects as unsigned.
func bearerOrigin(r *http.Request) auth.Origin {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return auth.Origin{}
	}
	return auth.Origin{Token: strings.TrimSpace(header[len(prefix):])}
}

// maxBodyMiddleware caps request bodies
func maxBodyMiddleware(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

// sendSuccess sends a successful JSON response
func sendSuccess(w http.ResponseWriter, data interface{}) {
	sendSuccessStatus(w, http.StatusOK, data)
}

func sendSuccessStatus(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	response := APIResponse{
		Success: true,
		Data:    data,
	}
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// sendError sends an error JSON response
func sendError(w http.ResponseWriter, message string, statusCode int) {
	sendErrorKind(w, message, "", statusCode)
}

func sendErrorKind(w http.ResponseWriter, message, kind string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := APIResponse{
		Success: false,
		Error:   message,
		Kind:    kind,
	}
	_ = json.NewEncoder(w).Encode(response)
}
