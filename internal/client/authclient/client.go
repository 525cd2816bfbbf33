package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Client — минимальный HTTP клиент auth API для служебных интеграций.
// Держит координатор и реализует RefreshFunc поверх /api/auth/refresh.
type Client struct {
	baseURL string
	http    *http.Client
	coord   *Coordinator
}

type tokenPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// New создаёт клиента. onReauth вызывается при окончательной потере сессии.
func New(baseURL string, httpClient *http.Client, onReauth func(error)) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	c := &Client{baseURL: baseURL, http: httpClient}
	c.coord = NewCoordinator(c.refreshPair, httpClient.Timeout, onReauth)
	return c
}

// Coordinator возвращает координатор для построения Transport.
func (c *Client) Coordinator() *Coordinator {
	return c.coord
}

// Login аутентифицируется и сохраняет пару в координаторе.
func (c *Client) Login(ctx context.Context, email, password string) error {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return fmt.Errorf("authclient: не удалось сериализовать запрос: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("authclient: не удалось создать запрос: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("authclient: запрос логина не удался: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Tokens tokenPayload `json:"tokens"`
	}
	if err := decodeEnvelope(resp, &payload); err != nil {
		return err
	}

	c.coord.SetTokens(payload.Tokens.AccessToken, payload.Tokens.RefreshToken)
	return nil
}

// refreshPair — RefreshFunc поверх /api/auth/refresh.
func (c *Client) refreshPair(ctx context.Context, refreshToken string) (string, string, error) {
	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return "", "", fmt.Errorf("authclient: не удалось сериализовать запрос: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/refresh", bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("authclient: не удалось создать запрос: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("authclient: запрос ротации не удался: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Tokens tokenPayload `json:"tokens"`
	}
	if err := decodeEnvelope(resp, &payload); err != nil {
		return "", "", err
	}

	return payload.Tokens.AccessToken, payload.Tokens.RefreshToken, nil
}

func decodeEnvelope(resp *http.Response, out any) error {
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("authclient: не удалось разобрать ответ: %w", err)
	}
	if !env.Success {
		code := "UNKNOWN"
		message := "сервер вернул ошибку"
		if env.Error != nil {
			code = env.Error.Code
			message = env.Error.Message
		}
		return fmt.Errorf("authclient: %s: %s", code, message)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("authclient: не удалось разобрать данные ответа: %w", err)
	}
	return nil
}
