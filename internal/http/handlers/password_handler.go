package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/avdeevramil/market-backend/internal/http/handlers/common"
	"github.com/avdeevramil/market-backend/internal/http/response"
	"github.com/avdeevramil/market-backend/internal/ratelimit"
	"github.com/avdeevramil/market-backend/internal/service"
	"github.com/avdeevramil/market-backend/internal/validation"
)

// PasswordHandler предоставляет HTTP слой смены и сброса пароля.
type PasswordHandler struct {
	passwords *service.PasswordService
	limiter   *ratelimit.Limiter
}

func NewPasswordHandler(passwords *service.PasswordService, limiter *ratelimit.Limiter) *PasswordHandler {
	return &PasswordHandler{passwords: passwords, limiter: limiter}
}

// Forgot обрабатывает POST /auth/password/forgot: отправляет OTP.
// Для неизвестного email ответ тот же, что и для известного.
func (h *PasswordHandler) Forgot(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := validation.ValidateEmail(req.Email); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	res, err := h.limiter.Allow(c.Request.Context(), req.Email, ratelimit.ActionPasswordReset)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !res.Allowed {
		response.RateLimited(c, int64(res.RetryAfter.Seconds()))
		return
	}

	if err := h.passwords.RequestReset(c.Request.Context(), req.Email); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"message": "если аккаунт существует, код отправлен"})
}

// VerifyOTP обрабатывает POST /auth/password/verify-otp: обменивает OTP на
// короткоживущее одноразовое разрешение на смену пароля.
func (h *PasswordHandler) VerifyOTP(c *gin.Context) {
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

	authorization, err := h.passwords.VerifyResetOTP(c.Request.Context(), req.Email, req.Code)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"reset_authorization": authorization})
}

// Reset обрабатывает POST /auth/password/reset: гасит разрешение,
// устанавливает новый пароль и отзывает все сессии аккаунта.
func (h *PasswordHandler) Reset(c *gin.Context) {
	var req struct {
		Authorization string `json:"reset_authorization" binding:"required"`
		NewPassword   string `json:"new_password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := validation.ValidatePassword(req.NewPassword); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.passwords.Reset(c.Request.Context(), req.Authorization, req.NewPassword); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"message": "пароль изменён, выполните вход заново"})
}

// Change обрабатывает POST /auth/password/change для аутентифицированного
// пользователя.
func (h *PasswordHandler) Change(c *gin.Context) {
	accountID, err := common.CurrentAccountID(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	var req struct {
		OldPassword string `json:"old_password" binding:"required"`
		NewPassword string `json:"new_password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := validation.ValidatePassword(req.NewPassword); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	currentRefresh, _ := c.Cookie(refreshCookieName)
	if err := h.passwords.Change(c.Request.Context(), accountID, req.OldPassword, req.NewPassword, currentRefresh); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"message": "пароль изменён"})
}
