package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/avdeevramil/market-backend/internal/service"
)

// requestMeta собирает метаданные запроса для привязки к сессии.
func requestMeta(c *gin.Context) service.RequestMeta {
	return service.RequestMeta{
		UserAgent: c.GetHeader("User-Agent"),
		IP:        c.ClientIP(),
	}
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, error) {
	return uuid.Parse(c.Param(name))
}
