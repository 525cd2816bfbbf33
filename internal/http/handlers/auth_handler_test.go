package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/avdeevramil/market-backend/internal/pkg/apperror"
)

func TestAuthHandler_Register_InvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &AuthHandler{}
	r.POST("/auth/register", handler.Register)

	req, _ := http.NewRequest("POST", "/auth/register", strings.NewReader(`{"email":""}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthHandler_Register_InvalidEmail(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &AuthHandler{}
	r.POST("/auth/register", handler.Register)

	req, _ := http.NewRequest("POST", "/auth/register", strings.NewReader(`{"email":"not-an-email","password":"Password1"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthHandler_Register_WeakPassword(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &AuthHandler{}
	r.POST("/auth/register", handler.Register)

	req, _ := http.NewRequest("POST", "/auth/register", strings.NewReader(`{"email":"user@example.com","password":"short"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthHandler_VerifyEmail_MalformedCode(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &AuthHandler{}
	r.POST("/auth/verify-email", handler.VerifyEmail)

	req, _ := http.NewRequest("POST", "/auth/verify-email", strings.NewReader(`{"email":"user@example.com","code":"12ab56"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthHandler_Refresh_MissingToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &AuthHandler{}
	r.POST("/auth/refresh", handler.Refresh)

	req, _ := http.NewRequest("POST", "/auth/refresh", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandler_SendTwoFactorCode_Unauthorized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &AuthHandler{}
	r.POST("/auth/2fa/send", handler.SendTwoFactorCode)

	req, _ := http.NewRequest("POST", "/auth/2fa/send", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandler_ListSessions_Unauthorized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &AuthHandler{}
	r.GET("/auth/sessions", handler.ListSessions)

	req, _ := http.NewRequest("GET", "/auth/sessions", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPasswordHandler_Forgot_InvalidEmail(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &PasswordHandler{}
	r.POST("/auth/password/forgot", handler.Forgot)

	req, _ := http.NewRequest("POST", "/auth/password/forgot", strings.NewReader(`{"email":"not-an-email"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPasswordHandler_Change_Unauthorized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &PasswordHandler{}
	r.POST("/auth/password/change", handler.Change)

	req, _ := http.NewRequest("POST", "/auth/password/change", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProfileHandler_Me_Unauthorized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &ProfileHandler{}
	r.GET("/profile", handler.Me)

	req, _ := http.NewRequest("GET", "/profile", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// Тело /auth/2fa/verify вычитывается при привязке запроса, поэтому
// refresh токен из того же тела должен оставаться доступным.
func TestRefreshTokenFromRequest_BodyBoundOnce(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request, _ = http.NewRequest("POST", "/auth/2fa/verify",
		strings.NewReader(`{"code":"123456","refresh_token":"body-token"}`))
	c.Request.Header.Set("Content-Type", "application/json")

	var req struct {
		Code         string `json:"code" binding:"required"`
		RefreshToken string `json:"refresh_token"`
	}
	assert.NoError(t, c.ShouldBindJSON(&req))
	assert.Equal(t, "body-token", refreshTokenFromRequest(c, req.RefreshToken))
}

func TestRefreshTokenFromRequest_Precedence(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request, _ = http.NewRequest("POST", "/auth/refresh", nil)
	c.Request.Header.Set("X-Refresh-Token", "header-token")

	assert.Equal(t, "header-token", refreshTokenFromRequest(c, ""))
	assert.Equal(t, "body-token", refreshTokenFromRequest(c, "body-token"))

	c.Request.AddCookie(&http.Cookie{Name: refreshCookieName, Value: "cookie-token"})
	assert.Equal(t, "cookie-token", refreshTokenFromRequest(c, "body-token"))
}

// Cookie с refresh токеном стирается только при отвергнутом токене:
// временная ошибка хранилища не должна разлогинивать клиента.
func TestRefreshRejected(t *testing.T) {
	assert.True(t, refreshRejected(apperror.ErrInvalidRefresh))
	assert.True(t, refreshRejected(apperror.ErrExpiredRefresh))
	assert.True(t, refreshRejected(apperror.ErrReuseDetected))

	assert.False(t, refreshRejected(apperror.Wrap(errors.New("connection refused"),
		apperror.ErrCodeInternal, "хранилище недоступно")))
	assert.False(t, refreshRejected(errors.New("произвольная ошибка")))
}
