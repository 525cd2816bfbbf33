package authclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// newAuthTestServer поднимает сервер с одним валидным access токеном и
// ротацией по /api/auth/refresh в формате единого конверта ответов.
func newAuthTestServer(t *testing.T, refreshCalls *atomic.Int32, failRefresh bool) *httptest.Server {
	t.Helper()

	var mu sync.Mutex
	validAccess := "access-1"
	validRefresh := "refresh-1"

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)

		if failRefresh {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": false,
				"error":   map[string]string{"code": "REUSE_DETECTED", "message": "сессии отозваны"},
			})
			return
		}

		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		mu.Lock()
		defer mu.Unlock()
		if body.RefreshToken != validRefresh {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": false,
				"error":   map[string]string{"code": "INVALID_REFRESH", "message": "refresh токен невалиден"},
			})
			return
		}

		validAccess = "access-2"
		validRefresh = "refresh-2"
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"tokens": map[string]any{
					"access_token":  validAccess,
					"refresh_token": validRefresh,
					"expires_in":    60,
				},
			},
		})
	})
	mux.HandleFunc("/protected", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ok := r.Header.Get("Authorization") == "Bearer "+validAccess
		mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestTransport_TransparentRetryAfterRotation(t *testing.T) {
	var refreshCalls atomic.Int32
	server := newAuthTestServer(t, &refreshCalls, false)

	client := New(server.URL, server.Client(), nil)
	client.Coordinator().SetTokens("stale-access", "refresh-1")

	httpClient := &http.Client{Transport: NewTransport(server.Client().Transport, client.Coordinator())}

	resp, err := httpClient.Get(server.URL + "/protected")
	if err != nil {
		t.Fatalf("запрос вернул ошибку: %v", err)
	}
	defer resp.Body.Close()

	// Вызывающий не видит промежуточный отказ.
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ожидался 200 после прозрачной ротации, получили %d", resp.StatusCode)
	}
	if refreshCalls.Load() != 1 {
		t.Fatalf("ожидался один вызов ротации, получили %d", refreshCalls.Load())
	}
}

func TestTransport_ConcurrentRequestsShareRotation(t *testing.T) {
	var refreshCalls atomic.Int32
	server := newAuthTestServer(t, &refreshCalls, false)

	client := New(server.URL, server.Client(), nil)
	client.Coordinator().SetTokens("stale-access", "refresh-1")

	httpClient := &http.Client{Transport: NewTransport(server.Client().Transport, client.Coordinator())}

	const requests = 8
	var wg sync.WaitGroup
	codes := make([]int, requests)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := httpClient.Get(server.URL + "/protected")
			if err != nil {
				return
			}
			defer resp.Body.Close()
			codes[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	if refreshCalls.Load() != 1 {
		t.Fatalf("конкурентные отказы должны делить одну ротацию, получили %d", refreshCalls.Load())
	}
	for i, code := range codes {
		if code != http.StatusOK {
			t.Fatalf("запрос %d завершился с кодом %d", i, code)
		}
	}
}

func TestTransport_HardFailureSurfacesReauth(t *testing.T) {
	var refreshCalls atomic.Int32
	server := newAuthTestServer(t, &refreshCalls, true)

	var reauths atomic.Int32
	client := New(server.URL, server.Client(), func(error) { reauths.Add(1) })
	client.Coordinator().SetTokens("stale-access", "refresh-1")

	httpClient := &http.Client{Transport: NewTransport(server.Client().Transport, client.Coordinator())}

	const requests = 4
	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := httpClient.Get(server.URL + "/protected")
			if err != nil {
				failures.Add(1)
				return
			}
			resp.Body.Close()
		}()
	}
	wg.Wait()

	if failures.Load() != requests {
		t.Fatalf("все запросы должны провалиться, провалилось %d", failures.Load())
	}
	if reauths.Load() != 1 {
		t.Fatalf("повторная аутентификация должна запрашиваться один раз, получили %d", reauths.Load())
	}
}

func TestTransport_RetryReplaysBody(t *testing.T) {
	var refreshCalls atomic.Int32
	server := newAuthTestServer(t, &refreshCalls, false)

	received := make(chan string, 2)
	mux := server.Config.Handler.(*http.ServeMux)
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		body := make([]byte, 64)
		n, _ := r.Body.Read(body)
		received <- string(body[:n])
		if r.Header.Get("Authorization") != "Bearer access-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})

	client := New(server.URL, server.Client(), nil)
	client.Coordinator().SetTokens("stale-access", "refresh-1")
	httpClient := &http.Client{Transport: NewTransport(server.Client().Transport, client.Coordinator())}

	resp, err := httpClient.Post(server.URL+"/echo", "text/plain", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("запрос вернул ошибку: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ожидался 200, получили %d", resp.StatusCode)
	}

	// Тело ушло и с исходным запросом, и с повтором.
	for i := 0; i < 2; i++ {
		select {
		case got := <-received:
			if got != "payload" {
				t.Fatalf("тело повтора повреждено: %q", got)
			}
		case <-time.After(time.Second):
			t.Fatalf("сервер не получил тело запроса %d", i+1)
		}
	}
}

func TestClient_LoginStoresPair(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"tokens": map[string]any{
					"access_token":  "access-1",
					"refresh_token": "refresh-1",
					"expires_in":    60,
				},
			},
		})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := New(server.URL, server.Client(), nil)
	if err := client.Login(context.Background(), "user@example.com", "Password1"); err != nil {
		t.Fatalf("login вернул ошибку: %v", err)
	}
	if client.Coordinator().AccessToken() != "access-1" {
		t.Fatalf("access токен должен сохраниться в координаторе")
	}
}
