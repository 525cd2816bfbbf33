package models

import (
	"time"

	"github.com/google/uuid"
)

// Назначения одноразовых кодов.
const (
	PurposeEmailVerify   = "email_verify"
	PurposeTwoFactor     = "two_factor"
	PurposePasswordReset = "password_reset"
	// PurposeResetGrant — одноразовое разрешение на смену пароля,
	// выдаётся после успешной проверки OTP.
	PurposeResetGrant = "reset_grant"
)

// MaxCodeAttempts ограничивает число неверных вводов одного кода,
// после чего код принудительно истекает.
const MaxCodeAttempts = 5

// VerificationCode хранит одноразовый код с ограниченным сроком жизни.
// Инвариант: на пару (аккаунт, назначение) существует не более одного
// неиспользованного и непросроченного кода.
type VerificationCode struct {
	ID        uuid.UUID `db:"id" json:"id"`
	AccountID uuid.UUID `db:"account_id" json:"account_id"`
	Purpose   string    `db:"purpose" json:"purpose"`
	Code      string    `db:"code" json:"-"`
	Attempts  int       `db:"attempts" json:"attempts"`
	Consumed  bool      `db:"consumed" json:"consumed"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
