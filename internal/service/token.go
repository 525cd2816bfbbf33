package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/avdeevramil/market-backend/internal/models"
)

// TokenPair хранит пару access токена и refresh credential.
// ExpiresIn — срок жизни access токена в секундах.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// AccessClaims — содержимое access токена после проверки подписи.
type AccessClaims struct {
	AccountID       uuid.UUID
	Role            string
	TwoFactorPassed bool
}

// TokenManager отвечает за выпуск и проверку токенов.
// Access токен — короткоживущий JWT, проверяется без обращения к базе.
// Refresh токен — непрозрачное случайное значение; в базе хранится только
// его SHA-256 отпечаток.
type TokenManager struct {
	accessSecret []byte
	resetSecret  []byte
	accessTTL    time.Duration
	refreshTTL   time.Duration
	resetTTL     time.Duration
}

// NewTokenManager создаёт менеджер токенов.
func NewTokenManager(accessSecret, resetSecret string, accessTTL, refreshTTL, resetTTL time.Duration) *TokenManager {
	return &TokenManager{
		accessSecret: []byte(accessSecret),
		resetSecret:  []byte(resetSecret),
		accessTTL:    accessTTL,
		refreshTTL:   refreshTTL,
		resetTTL:     resetTTL,
	}
}

// AccessTTL возвращает срок жизни access токена.
func (m *TokenManager) AccessTTL() time.Duration { return m.accessTTL }

// RefreshTTL возвращает срок жизни refresh токена.
func (m *TokenManager) RefreshTTL() time.Duration { return m.refreshTTL }

// NewAccessToken выпускает подписанный access токен.
func (m *TokenManager) NewAccessToken(account *models.Account, twoFactorPassed bool) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(m.accessTTL)

	claims := jwt.MapClaims{
		"sub":  account.ID.String(),
		"role": account.Role,
		"tfa":  twoFactorPassed,
		"iat":  now.Unix(),
		"exp":  exp.Unix(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.accessSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token manager: не удалось подписать access токен: %w", err)
	}
	return token, exp, nil
}

// ParseAccess проверяет подпись и срок access токена и извлекает клеймы.
func (m *TokenManager) ParseAccess(token string) (*AccessClaims, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return m.accessSecret, nil
	})
	if err != nil || !parsed.Valid {
		if err == nil {
			err = jwt.ErrTokenInvalidClaims
		}
		return nil, err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, jwt.ErrTokenInvalidClaims
	}

	sub, ok := claims["sub"].(string)
	if !ok {
		return nil, jwt.ErrTokenInvalidClaims
	}
	accountID, err := uuid.Parse(sub)
	if err != nil {
		return nil, fmt.Errorf("token manager: некорректный subject: %w", err)
	}

	role, _ := claims["role"].(string)
	tfa, _ := claims["tfa"].(bool)

	return &AccessClaims{
		AccountID:       accountID,
		Role:            role,
		TwoFactorPassed: tfa,
	}, nil
}

// NewRefreshToken генерирует непрозрачный refresh токен и его отпечаток.
func (m *TokenManager) NewRefreshToken() (token string, hash string, expiresAt time.Time, err error) {
	raw := make([]byte, 32)
	if _, err = rand.Read(raw); err != nil {
		return "", "", time.Time{}, fmt.Errorf("token manager: не удалось сгенерировать refresh токен: %w", err)
	}

	token = base64.RawURLEncoding.EncodeToString(raw)
	return token, HashRefreshToken(token), time.Now().Add(m.refreshTTL), nil
}

// HashRefreshToken возвращает отпечаток токена для хранения и поиска.
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NewResetAuthorization выпускает одноразовое разрешение на смену пароля.
// grantID регистрируется в хранилище кодов и гасится ровно один раз.
func (m *TokenManager) NewResetAuthorization(accountID uuid.UUID, grantID uuid.UUID) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   accountID.String(),
		ID:        grantID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.resetTTL)),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.resetSecret)
	if err != nil {
		return "", fmt.Errorf("token manager: не удалось подписать разрешение: %w", err)
	}
	return token, nil
}

// ErrResetAuthorizationExpired отличает истёкшее разрешение от невалидного.
var ErrResetAuthorizationExpired = errors.New("reset authorization expired")

// ParseResetAuthorization проверяет разрешение и возвращает аккаунт и grant.
func (m *TokenManager) ParseResetAuthorization(token string) (accountID uuid.UUID, grantID uuid.UUID, err error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return m.resetSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return uuid.Nil, uuid.Nil, ErrResetAuthorizationExpired
		}
		return uuid.Nil, uuid.Nil, err
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid {
		return uuid.Nil, uuid.Nil, jwt.ErrTokenInvalidClaims
	}

	accountID, err = uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("token manager: некорректный subject: %w", err)
	}
	grantID, err = uuid.Parse(claims.ID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("token manager: некорректный jti: %w", err)
	}

	return accountID, grantID, nil
}
