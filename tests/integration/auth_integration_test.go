package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planlab/planner-orchestrator/tests/helpers"
)

func TestAuthenticationIntegration(t *testing.T) {
	env := newTestEnv(t)
	env.DB.CleanupTables(t)

	t.Run("JWT Token Generation and Validation", func(t *testing.T) {
		userID := "test-user-123"
		username := "test@example.com"

		token, err := env.JWTManager.GenerateToken(context.Background(), userID, username, []string{"user"}, 24*time.Hour)
		require.NoError(t, err)
		assert.NotEmpty(t, token)

		claims, err := env.JWTManager.ValidateToken(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, userID, claims.UserID)
		assert.Equal(t, username, claims.Username)
		assert.True(t, claims.ExpiresAt.After(time.Now()))
	})

	t.Run("Login With Valid Credentials", func(t *testing.T) {
		email := fmt.Sprintf("login-%d@example.com", time.Now().UnixNano())
		env.DB.CreateTestUser(t, email, "correct-horse-1")

		body, _ := json.Marshal(helpers.CreateTestLoginRequest(email, "correct-horse-1"))
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		env.Router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var response map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.NotEmpty(t, response["token"])
		assert.NotEmpty(t, response["user_id"])
	})

	t.Run("Login With Wrong Password", func(t *testing.T) {
		email := fmt.Sprintf("badpass-%d@example.com", time.Now().UnixNano())
		env.DB.CreateTestUser(t, email, "correct-horse-1")

		body, _ := json.Marshal(helpers.CreateTestLoginRequest(email, "wrong-password-9"))
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		env.Router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Protected Endpoint Requires Token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/plans", nil)
		w := httptest.NewRecorder()
		env.Router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Protected Endpoint Rejects Malformed Token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/plans", nil)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		w := httptest.NewRecorder()
		env.Router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Public Definitions Endpoint", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/definitions", nil)
		w := httptest.NewRecorder()
		env.Router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var defs []map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &defs))
		assert.NotEmpty(t, defs)
		assert.Equal(t, "question", defs[0]["id"])
	})
}
