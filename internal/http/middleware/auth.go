package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/avdeevramil/market-backend/internal/http/response"
	"github.com/avdeevramil/market-backend/internal/service"
)

// Context ключи для gin.Context.
const (
	ContextAccountIDKey = "accountID"
	ContextRoleKey      = "role"
	ContextTwoFactorKey = "twoFactorPassed"
)

// AuthMiddleware проверяет JWT access токен.
func AuthMiddleware(tokens *service.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
			response.Unauthorized(c, "требуется авторизация")
			c.Abort()
			return
		}

		raw := strings.TrimPrefix(auth, "Bearer ")
		claims, err := tokens.ParseAccess(raw)
		if err != nil || claims.AccountID == uuid.Nil {
			response.Unauthorized(c, "токен невалиден")
			c.Abort()
			return
		}

		c.Set(ContextAccountIDKey, claims.AccountID)
		c.Set(ContextRoleKey, claims.Role)
		c.Set(ContextTwoFactorKey, claims.TwoFactorPassed)
		c.Next()
	}
}

// RequireTwoFactor пропускает только сессии, прошедшие второй фактор.
func RequireTwoFactor() gin.HandlerFunc {
	return func(c *gin.Context) {
		passed, ok := c.Get(ContextTwoFactorKey)
		if !ok || passed != true {
			response.Forbidden(c, "требуется подтверждение вторым фактором")
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireRole пропускает только перечисленные роли.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := c.Get(ContextRoleKey)
		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}
		response.Forbidden(c, "недостаточно прав")
		c.Abort()
	}
}
