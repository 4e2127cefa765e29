package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBearerOrigin(t *testing.T) {
	tests := []struct {
		name   string
		header string
		token  string
	}{
		{name: "bearer token", header: "Bearer abc.def", token: "abc.def"},
		{name: "case insensitive scheme", header: "bearer abc", token: "abc"},
		{name: "surrounding space", header: "Bearer   abc  ", token: "abc"},
		{name: "missing header", header: "", token: ""},
		{name: "basic auth", header: "Basic dXNlcjpwYXNz", token: ""},
		{name: "scheme only", header: "Bearer", token: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.token, bearerOrigin(req).Token)
		})
	}
}

func TestMaxBodyMiddleware(t *testing.T) {
	handler := maxBodyMiddleware(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 16)
		_, err := r.Body.Read(buf)
		if err != nil && err.Error() != "EOF" {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("POST", "/", strings.NewReader("too long")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestSendError(t *testing.T) {
	w := httptest.NewRecorder()
	sendErrorKind(w, "nope", "Conflict", http.StatusConflict)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response APIResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.False(t, response.Success)
	assert.Equal(t, "nope", response.Error)
	assert.Equal(t, "Conflict", response.Kind)
}

func TestSendSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	sendSuccess(w, map[string]string{"status": "ok"})

	assert.Equal(t, http.StatusOK, w.Code)
	var response APIResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.True(t, response.Success)
	assert.Empty(t, response.Error)
}
