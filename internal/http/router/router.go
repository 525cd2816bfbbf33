package router

import (
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"

	"github.com/avdeevramil/market-backend/internal/config"
	"github.com/avdeevramil/market-backend/internal/http/handlers"
	"github.com/avdeevramil/market-backend/internal/http/middleware"
	"github.com/avdeevramil/market-backend/internal/service"
)

func SetupRouter(
	cfg *config.Config,
	authHandler *handlers.AuthHandler,
	passwordHandler *handlers.PasswordHandler,
	profileHandler *handlers.ProfileHandler,
	wsHandler *handlers.WSHandler,
	healthHandler *handlers.HealthHandler,
	tokenManager *service.TokenManager,
	rateStore limiter.Store,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", healthHandler.Health)

	api := r.Group("/api")

	api.GET("/ws/security", wsHandler.Handle)

	// Публичные маршруты аутентификации с порогом по IP.
	authGroup := api.Group("/auth")
	authGroup.Use(middleware.RateLimitMiddleware(rateStore, cfg.LoginLimit, cfg.LoginPeriod))
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/refresh", authHandler.Refresh)
		authGroup.POST("/logout", authHandler.Logout)
		authGroup.POST("/verify-email", authHandler.VerifyEmail)
		authGroup.POST("/resend-code", authHandler.ResendCode)
		authGroup.POST("/password/forgot", passwordHandler.Forgot)
		authGroup.POST("/password/verify-otp", passwordHandler.VerifyOTP)
		authGroup.POST("/password/reset", passwordHandler.Reset)
	}

	// Защищённые маршруты аутентификации. Отправка и проверка второго фактора
	// доступны с ограниченным (до прохождения 2FA) access токеном.
	protectedAuth := api.Group("/auth")
	protectedAuth.Use(middleware.AuthMiddleware(tokenManager))
	{
		protectedAuth.POST("/2fa/send", authHandler.SendTwoFactorCode)
		protectedAuth.POST("/2fa/verify", authHandler.VerifyTwoFactor)
		protectedAuth.POST("/password/change", middleware.RequireTwoFactor(), passwordHandler.Change)
		protectedAuth.PUT("/2fa", middleware.RequireTwoFactor(), authHandler.SetTwoFactor)
		protectedAuth.GET("/sessions", middleware.RequireTwoFactor(), authHandler.ListSessions)
		protectedAuth.DELETE("/sessions/:id", middleware.RequireTwoFactor(), authHandler.RevokeSession)
	}

	// Профиль.
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(tokenManager), middleware.RequireTwoFactor())
	{
		protected.GET("/profile", profileHandler.Me)
		protected.PUT("/profile/seller", middleware.RequireRole("seller"), profileHandler.UpdateSellerProfile)
	}

	return r
}
