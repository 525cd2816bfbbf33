package service

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/avdeevramil/market-backend/internal/models"
)

func TestTokenManager_AccessTokenRoundTrip(t *testing.T) {
	tokens := newTestTokenManager()
	account := &models.Account{ID: uuid.New(), Role: models.RoleSeller}

	raw, exp, err := tokens.NewAccessToken(account, true)
	if err != nil {
		t.Fatalf("выпуск access токена вернул ошибку: %v", err)
	}
	if !exp.After(time.Now()) {
		t.Fatalf("срок access токена должен быть в будущем")
	}

	claims, err := tokens.ParseAccess(raw)
	if err != nil {
		t.Fatalf("разбор access токена вернул ошибку: %v", err)
	}
	if claims.AccountID != account.ID || claims.Role != models.RoleSeller || !claims.TwoFactorPassed {
		t.Fatalf("клеймы не совпадают: %+v", claims)
	}
}

func TestTokenManager_ParseAccessRejectsExpired(t *testing.T) {
	tokens := NewTokenManager("access-secret", "reset-secret", -time.Minute, time.Hour, time.Minute)
	account := &models.Account{ID: uuid.New(), Role: models.RoleBuyer}

	raw, _, err := tokens.NewAccessToken(account, true)
	if err != nil {
		t.Fatalf("выпуск вернул ошибку: %v", err)
	}
	if _, err := tokens.ParseAccess(raw); err == nil {
		t.Fatalf("истёкший токен должен отклоняться")
	}
}

func TestTokenManager_ParseAccessRejectsForeignSignature(t *testing.T) {
	issuer := NewTokenManager("secret-one", "reset", time.Minute, time.Hour, time.Minute)
	verifier := NewTokenManager("secret-two", "reset", time.Minute, time.Hour, time.Minute)

	raw, _, err := issuer.NewAccessToken(&models.Account{ID: uuid.New()}, false)
	if err != nil {
		t.Fatalf("выпуск вернул ошибку: %v", err)
	}
	if _, err := verifier.ParseAccess(raw); err == nil {
		t.Fatalf("токен с чужой подписью должен отклоняться")
	}
}

func TestTokenManager_RefreshTokenOpaque(t *testing.T) {
	tokens := newTestTokenManager()

	token, hash, expiresAt, err := tokens.NewRefreshToken()
	if err != nil {
		t.Fatalf("выпуск refresh токена вернул ошибку: %v", err)
	}
	if token == "" || hash == "" {
		t.Fatalf("токен и отпечаток должны быть непустыми")
	}
	if token == hash {
		t.Fatalf("в хранилище не должен попадать сам токен")
	}
	if hash != HashRefreshToken(token) {
		t.Fatalf("отпечаток должен быть детерминированным")
	}
	if !expiresAt.After(time.Now()) {
		t.Fatalf("срок refresh токена должен быть в будущем")
	}

	other, _, _, err := tokens.NewRefreshToken()
	if err != nil {
		t.Fatalf("повторный выпуск вернул ошибку: %v", err)
	}
	if other == token {
		t.Fatalf("токены должны быть уникальными")
	}
}

func TestTokenManager_ResetAuthorizationRoundTrip(t *testing.T) {
	tokens := newTestTokenManager()
	accountID := uuid.New()
	grantID := uuid.New()

	raw, err := tokens.NewResetAuthorization(accountID, grantID)
	if err != nil {
		t.Fatalf("выпуск разрешения вернул ошибку: %v", err)
	}

	gotAccount, gotGrant, err := tokens.ParseResetAuthorization(raw)
	if err != nil {
		t.Fatalf("разбор разрешения вернул ошибку: %v", err)
	}
	if gotAccount != accountID || gotGrant != grantID {
		t.Fatalf("subject и jti должны совпадать")
	}

	// Разрешение подписано отдельным секретом и не проходит как access токен.
	if _, err := tokens.ParseAccess(raw); err == nil {
		t.Fatalf("разрешение не должно приниматься как access токен")
	}
}

func TestTokenManager_ResetAuthorizationExpired(t *testing.T) {
	tokens := NewTokenManager("access-secret", "reset-secret", time.Minute, time.Hour, -time.Minute)

	raw, err := tokens.NewResetAuthorization(uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("выпуск вернул ошибку: %v", err)
	}

	_, _, err = tokens.ParseResetAuthorization(raw)
	if !errors.Is(err, ErrResetAuthorizationExpired) {
		t.Fatalf("ожидался ErrResetAuthorizationExpired, получили %v", err)
	}
}
