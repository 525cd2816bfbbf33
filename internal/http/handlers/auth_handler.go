package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/avdeevramil/market-backend/internal/http/handlers/common"
	"github.com/avdeevramil/market-backend/internal/http/response"
	"github.com/avdeevramil/market-backend/internal/pkg/apperror"
	"github.com/avdeevramil/market-backend/internal/ratelimit"
	"github.com/avdeevramil/market-backend/internal/service"
	"github.com/avdeevramil/market-backend/internal/validation"
)

// Имя httpOnly cookie с refresh токеном. Cookie недоступна скриптам
// страницы; для не-браузерных клиентов токен дублируется в теле ответа.
const refreshCookieName = "refresh_token"

// AuthHandler предоставляет HTTP слой регистрации, входа и ротации сессий.
type AuthHandler struct {
	auth    *service.AuthService
	limiter *ratelimit.Limiter
	secure  bool
}

// NewAuthHandler создаёт хэндлер. secure управляет флагом Secure на cookie.
func NewAuthHandler(auth *service.AuthService, limiter *ratelimit.Limiter, secure bool) *AuthHandler {
	return &AuthHandler{auth: auth, limiter: limiter, secure: secure}
}

// Register обрабатывает POST /auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
		Role     string `json:"role"`
		ShopName string `json:"shop_name"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := validation.ValidateEmail(req.Email); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := validation.ValidatePassword(req.Password); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.Role == "seller" {
		if err := validation.ValidateLength("название магазина", req.ShopName,
			validation.MinShopNameLength, validation.MaxShopNameLength); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	account, err := h.auth.Register(c.Request.Context(), service.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
		ShopName: req.ShopName,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, gin.H{"account": account})
}

// VerifyEmail обрабатывает POST /auth/verify-email.
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
		Code  string `json:"code" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := validation.ValidateCode(req.Code); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.auth.VerifyEmail(c.Request.Context(), req.Email, req.Code); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"verified": true})
}

// ResendCode обрабатывает POST /auth/resend-code.
func (h *AuthHandler) ResendCode(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if !h.allow(c, req.Email, ratelimit.ActionResendCode) {
		return
	}

	if err := h.auth.ResendVerificationCode(c.Request.Context(), req.Email); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"message": "код отправлен"})
}

// Login обрабатывает POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if !h.allow(c, req.Email, ratelimit.ActionLogin) {
		return
	}

	result, err := h.auth.Login(c.Request.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	}, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	h.setRefreshCookie(c, result.TokenPair.RefreshToken)
	response.Success(c, gin.H{
		"account":             result.Account,
		"tokens":              result.TokenPair,
		"requires_two_factor": result.RequiresTwoFactor,
	})
}

// Refresh обрабатывает POST /auth/refresh: обмен refresh токена на новую
// пару. Повторное предъявление уже ротированного токена отзывает всю линию.
func (h *AuthHandler) Refresh(c *gin.Context) {
	presented := h.presentedRefreshToken(c)
	if presented == "" {
		response.Error(c, apperror.ErrInvalidRefresh)
		return
	}

	pair, err := h.auth.Refresh(c.Request.Context(), presented, requestMeta(c))
	if err != nil {
		// Cookie стирается только когда токен отвергнут по существу.
		// Временная ошибка хранилища не должна разлогинивать клиента.
		if refreshRejected(err) {
			h.clearRefreshCookie(c)
		}
		response.Error(c, err)
		return
	}

	h.setRefreshCookie(c, pair.RefreshToken)
	response.Success(c, gin.H{"tokens": pair})
}

// Logout обрабатывает POST /auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	presented := h.presentedRefreshToken(c)

	if err := h.auth.Logout(c.Request.Context(), presented); err != nil {
		response.Error(c, err)
		return
	}

	h.clearRefreshCookie(c)
	response.Success(c, gin.H{"message": "выход выполнен"})
}

// SendTwoFactorCode обрабатывает POST /auth/2fa/send.
func (h *AuthHandler) SendTwoFactorCode(c *gin.Context) {
	accountID, err := common.CurrentAccountID(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	if !h.allow(c, accountID.String(), ratelimit.ActionSendTwoFactor) {
		return
	}

	if err := h.auth.SendTwoFactorCode(c.Request.Context(), accountID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"message": "код отправлен"})
}

// VerifyTwoFactor обрабатывает POST /auth/2fa/verify: гасит код и повышает
// сессию, ротируя текущий refresh токен.
func (h *AuthHandler) VerifyTwoFactor(c *gin.Context) {
	accountID, err := common.CurrentAccountID(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	// refresh_token читается из того же тела: после ShouldBindJSON тело
	// уже вычитано и повторная привязка его не увидит.
	var req struct {
		Code         string `json:"code" binding:"required"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := validation.ValidateCode(req.Code); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	presented := refreshTokenFromRequest(c, req.RefreshToken)
	pair, err := h.auth.VerifyTwoFactor(c.Request.Context(), accountID, presented, req.Code, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	h.setRefreshCookie(c, pair.RefreshToken)
	response.Success(c, gin.H{"tokens": pair})
}

// SetTwoFactor обрабатывает PUT /auth/2fa.
func (h *AuthHandler) SetTwoFactor(c *gin.Context) {
	accountID, err := common.CurrentAccountID(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.auth.SetTwoFactor(c.Request.Context(), accountID, *req.Enabled); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"two_factor_enabled": *req.Enabled})
}

// ListSessions обрабатывает GET /auth/sessions.
func (h *AuthHandler) ListSessions(c *gin.Context) {
	accountID, err := common.CurrentAccountID(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	sessions, err := h.auth.ListSessions(c.Request.Context(), accountID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, sessions)
}

// RevokeSession обрабатывает DELETE /auth/sessions/:id.
func (h *AuthHandler) RevokeSession(c *gin.Context) {
	accountID, err := common.CurrentAccountID(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	sessionID, err := parseUUIDParam(c, "id")
	if err != nil {
		response.BadRequest(c, "неверный идентификатор сессии")
		return
	}

	if err := h.auth.RevokeSession(c.Request.Context(), sessionID, accountID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"message": "сессия отозвана"})
}

// presentedRefreshToken достаёт refresh токен из cookie, тела или заголовка.
// Использовать только там, где тело запроса ещё не привязывалось.
func (h *AuthHandler) presentedRefreshToken(c *gin.Context) string {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = c.ShouldBindJSON(&req)
	return refreshTokenFromRequest(c, req.RefreshToken)
}

// refreshTokenFromRequest выбирает refresh токен: cookie имеет приоритет,
// затем значение из тела, затем заголовок X-Refresh-Token.
func refreshTokenFromRequest(c *gin.Context, bodyToken string) string {
	if cookie, err := c.Cookie(refreshCookieName); err == nil && cookie != "" {
		return cookie
	}
	if bodyToken != "" {
		return bodyToken
	}
	return c.GetHeader("X-Refresh-Token")
}

// refreshRejected сообщает, отвергнут ли refresh токен по существу
// (невалиден, истёк или использован повторно).
func refreshRejected(err error) bool {
	switch apperror.CodeOf(err) {
	case apperror.ErrCodeInvalidRefresh, apperror.ErrCodeExpiredRefresh, apperror.ErrCodeReuseDetected:
		return true
	}
	return false
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(refreshCookieName, token, 30*24*3600, "/api/auth", "", h.secure, true)
}

func (h *AuthHandler) clearRefreshCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(refreshCookieName, "", -1, "/api/auth", "", h.secure, true)
}

// allow проверяет поимённый лимит и сам отвечает 429 при превышении.
func (h *AuthHandler) allow(c *gin.Context, identity string, action ratelimit.Action) bool {
	res, err := h.limiter.Allow(c.Request.Context(), identity, action)
	if err != nil {
		response.Error(c, err)
		return false
	}
	if !res.Allowed {
		response.RateLimited(c, int64(res.RetryAfter.Seconds()))
		return false
	}
	return true
}
