package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avdeevramil/market-backend/internal/logger"
)

// Hub управляет всеми WebSocket подключениями и рассылает события безопасности.
type Hub struct {
	mu         sync.RWMutex
	clients    map[uuid.UUID]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan message
}

type message struct {
	accountID uuid.UUID
	payload   []byte
}

// NewHub создаёт новый хаб.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan message, 32),
	}
}

// Run запускает главный цикл хаба.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.broadcast:
			h.send(msg.accountID, msg.payload)
		}
	}
}

// Register добавляет клиента.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister удаляет клиента.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// SessionsRevoked уведомляет все подключения аккаунта о принудительном отзыве сессий.
// Поле "type" содержит имя события, "data" — полезную нагрузку.
func (h *Hub) SessionsRevoked(accountID uuid.UUID, reason string) {
	payload, err := json.Marshal(map[string]any{
		"type": "sessions_revoked",
		"data": map[string]any{
			"reason":      reason,
			"occurred_at": time.Now().UTC(),
		},
	})
	if err != nil {
		logger.Log.WithError(err).Error("ws: не удалось сериализовать событие")
		return
	}

	h.broadcast <- message{accountID: accountID, payload: payload}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.accountID]; !ok {
		h.clients[client.accountID] = make(map[*Client]struct{})
	}
	h.clients[client.accountID][client] = struct{}{}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[client.accountID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.clients, client.accountID)
		}
	}
}

func (h *Hub) send(accountID uuid.UUID, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[accountID] {
		select {
		case client.send <- payload:
		default:
			// Медленный клиент: закрываем асинхронно, чтобы не держать RLock.
			go client.Close()
		}
	}
}
