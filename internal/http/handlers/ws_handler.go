package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/avdeevramil/market-backend/internal/service"
	"github.com/avdeevramil/market-backend/internal/ws"
)

// WSHandler отвечает за установку WebSocket соединений для событий безопасности.
type WSHandler struct {
	hub      *ws.Hub
	tokens   *service.TokenManager
	upgrader websocket.Upgrader
}

// NewWSHandler создаёт новый хэндлер. Upgrade разрешается только для
// origins из списка CORS; запросы без Origin (не-браузерные клиенты)
// проходят.
func NewWSHandler(hub *ws.Hub, tokens *service.TokenManager, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		hub:    hub,
		tokens: tokens,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r.Header.Get("Origin"), allowedOrigins)
			},
		},
	}
}

func originAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return true
	}
	for _, candidate := range allowed {
		if origin == candidate {
			return true
		}
	}
	return false
}

// Handle обслуживает GET /api/ws/security?token=...
func (h *WSHandler) Handle(c *gin.Context) {
	rawToken := c.Query("token")
	if rawToken == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "access токен обязателен"})
		return
	}

	claims, err := h.tokens.ParseAccess(rawToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "невалидный access токен"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade сам отвечает клиенту при ошибке рукопожатия.
		return
	}

	client := ws.NewClient(conn, h.hub, claims.AccountID)
	h.hub.Register(client)

	client.Run(c.Request.Context())
}
