package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/avdeevramil/market-backend/internal/models"
	"github.com/avdeevramil/market-backend/internal/service"
	"github.com/avdeevramil/market-backend/internal/ws"
)

func newWSTestHandler(allowedOrigins []string) (*WSHandler, *service.TokenManager) {
	tokens := service.NewTokenManager("access-secret", "reset-secret", time.Minute, time.Hour, 10*time.Minute)
	return NewWSHandler(ws.NewHub(), tokens, allowedOrigins), tokens
}

func TestWSHandler_MissingToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, _ := newWSTestHandler(nil)
	r := gin.New()
	r.GET("/ws/security", handler.Handle)

	req, _ := http.NewRequest("GET", "/ws/security", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWSHandler_RejectsForeignOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, tokens := newWSTestHandler([]string{"http://localhost:3000"})
	r := gin.New()
	r.GET("/ws/security", handler.Handle)

	account := &models.Account{ID: uuid.New(), Role: models.RoleBuyer}
	token, _, err := tokens.NewAccessToken(account, true)
	assert.NoError(t, err)

	req, _ := http.NewRequest("GET", "/ws/security?token="+token, nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestOriginAllowed(t *testing.T) {
	allowed := []string{"http://localhost:3000", "https://market.example"}

	assert.True(t, originAllowed("http://localhost:3000", allowed))
	assert.True(t, originAllowed("https://market.example", allowed))
	// Не-браузерные клиенты не присылают Origin.
	assert.True(t, originAllowed("", allowed))
	assert.False(t, originAllowed("http://evil.example", allowed))
	assert.False(t, originAllowed("http://localhost:3000.evil.example", allowed))
}
