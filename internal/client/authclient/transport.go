package authclient

import (
	"io"
	"net/http"
)

// Transport — http.RoundTripper, который подставляет access токен и
// прозрачно повторяет запрос после ротации. Каждый запрос повторяется не
// более одного раза: если сервер отклоняет и свежий токен, отказ отдаётся
// вызывающему как есть.
type Transport struct {
	Base        http.RoundTripper
	Coordinator *Coordinator
}

// NewTransport оборачивает base (nil — http.DefaultTransport).
func NewTransport(base http.RoundTripper, coordinator *Coordinator) *Transport {
	return &Transport{Base: base, Coordinator: coordinator}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip выполняет запрос с текущим access токеном. На Unauthorized
// запрашивает у координатора свежий токен и повторяет запрос один раз.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	token := t.Coordinator.AccessToken()

	resp, err := t.base().RoundTrip(withToken(req, token))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	// Тело без GetBody не восстановить: повтор невозможен.
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	fresh, rerr := t.Coordinator.Refresh(req.Context(), token)
	if rerr != nil {
		return nil, rerr
	}

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, berr := req.GetBody()
		if berr != nil {
			return nil, berr
		}
		retry.Body = body
	}

	return t.base().RoundTrip(withToken(retry, fresh))
}

// withToken клонирует запрос с заголовком авторизации, не трогая исходный.
func withToken(req *http.Request, token string) *http.Request {
	cloned := req.Clone(req.Context())
	if token != "" {
		cloned.Header.Set("Authorization", "Bearer "+token)
	}
	return cloned
}
