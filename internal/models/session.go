package models

import (
	"time"

	"github.com/google/uuid"
)

// Статусы refresh сессии. Переходы: active -> rotated | revoked.
const (
	SessionStatusActive  = "active"
	SessionStatusRotated = "rotated"
	SessionStatusRevoked = "revoked"
)

// RefreshSession представляет одно звено цепочки refresh токенов.
// Сам токен не хранится, только его SHA-256 отпечаток. FamilyID связывает
// всю линию ротаций: повторное предъявление уже ротированного токена
// отзывает линию целиком.
type RefreshSession struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	FamilyID   uuid.UUID  `db:"family_id" json:"family_id"`
	AccountID  uuid.UUID  `db:"account_id" json:"account_id"`
	TokenHash  string     `db:"token_hash" json:"-"`
	Status     string     `db:"status" json:"status"`
	Generation int        `db:"generation" json:"generation"`
	TwoFactor  bool       `db:"two_factor_passed" json:"two_factor_passed"`
	UserAgent  *string    `db:"user_agent" json:"user_agent,omitempty"`
	IPAddress  *string    `db:"ip_address" json:"ip_address,omitempty"`
	ExpiresAt  time.Time  `db:"expires_at" json:"expires_at"`
	RotatedAt  *time.Time `db:"rotated_at" json:"rotated_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}
