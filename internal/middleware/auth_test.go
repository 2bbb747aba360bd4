package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func protectedRouter(auth *Authenticator) *gin.Engine {
	router := gin.New()
	router.Use(auth.JWTAuth())
	router.GET("/test", func(c *gin.Context) {
		subject, _ := GetSubject(c)
		c.String(http.StatusOK, subject)
	})
	return router
}

func TestGenerateToken(t *testing.T) {
	auth := NewAuthenticator("secret")

	token, err := auth.GenerateToken("ops", time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := auth.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
}

func TestGenerateTokenWithoutSecret(t *testing.T) {
	_, err := NewAuthenticator("").GenerateToken("ops", time.Hour)
	assert.Error(t, err)
}

func TestJWTAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := NewAuthenticator("secret")

	expired, err := auth.GenerateToken("ops", -time.Minute)
	require.NoError(t, err)
	foreign, err := NewAuthenticator("other").GenerateToken("ops", time.Hour)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name           string
		header         string
		expectedStatus int
	}{
		{name: "Missing authorization header", header: "", expectedStatus: http.StatusUnauthorized},
		{name: "Invalid token format", header: "InvalidToken", expectedStatus: http.StatusUnauthorized},
		{name: "Expired token", header: "Bearer " + expired, expectedStatus: http.StatusUnauthorized},
		{name: "Wrong secret", header: "Bearer " + foreign, expectedStatus: http.StatusUnauthorized},
		{name: "Unsigned token", header: "Bearer " + none, expectedStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest("GET", "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			protectedRouter(auth).ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestJWTAuthWithValidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := NewAuthenticator("secret")

	token, err := auth.GenerateToken("ops", time.Hour)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	protectedRouter(auth).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ops", w.Body.String())
}

func TestJWTAuthDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	protectedRouter(NewAuthenticator("")).ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}
