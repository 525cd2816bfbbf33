package models

import (
	"time"

	"github.com/google/uuid"
)

// Роли пользователей маркетплейса.
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

// Account описывает учётную запись пользователя маркетплейса.
// Роль фиксируется при создании и меняется только административно.
type Account struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	Email            string     `db:"email" json:"email"`
	PasswordHash     string     `db:"password_hash" json:"-"`
	Role             string     `db:"role" json:"role"`
	EmailVerified    bool       `db:"email_verified" json:"email_verified"`
	TwoFactorEnabled bool       `db:"two_factor_enabled" json:"two_factor_enabled"`
	IsActive         bool       `db:"is_active" json:"is_active"`
	LastLoginAt      *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// ValidRole проверяет, что роль входит в допустимый набор.
func ValidRole(role string) bool {
	return role == RoleBuyer || role == RoleSeller || role == RoleAdmin
}

// SellerProfile описывает подзапись продавца: витринные данные магазина.
type SellerProfile struct {
	AccountID   uuid.UUID `db:"account_id" json:"account_id"`
	ShopName    string    `db:"shop_name" json:"shop_name"`
	Description *string   `db:"description" json:"description,omitempty"`
	Phone       *string   `db:"phone" json:"phone,omitempty"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}
