package common

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CurrentAccountID извлекает идентификатор аккаунта из контекста запроса.
// Контекст заполняется в AuthMiddleware.
func CurrentAccountID(c *gin.Context) (uuid.UUID, error) {
	value, ok := c.Get("accountID")
	if !ok {
		return uuid.Nil, fmt.Errorf("требуется авторизация")
	}

	id, ok := value.(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("требуется авторизация")
	}
	return id, nil
}

// CurrentRole извлекает роль из контекста запроса.
func CurrentRole(c *gin.Context) string {
	role, _ := c.Get("role")
	if s, ok := role.(string); ok {
		return s
	}
	return ""
}
