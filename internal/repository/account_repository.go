package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/avdeevramil/market-backend/internal/models"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrDuplicateEmail  = errors.New("email already registered")
)

// AccountRepository отвечает за чтение и запись учётных записей.
type AccountRepository struct {
	db *sqlx.DB
}

func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create сохраняет новую учётную запись.
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	account.Email = strings.ToLower(account.Email)
	err := r.db.GetContext(ctx, account, `
		INSERT INTO accounts (email, password_hash, role)
		VALUES ($1, $2, $3)
		RETURNING *
	`, account.Email, account.PasswordHash, account.Role)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("account repository: не удалось создать аккаунт: %w", err)
	}
	return nil
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	var account models.Account
	err := r.db.GetContext(ctx, &account, `
		SELECT * FROM accounts WHERE email = $1
	`, strings.ToLower(email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("account repository: %w", err)
	}
	return &account, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	err := r.db.GetContext(ctx, &account, `
		SELECT * FROM accounts WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("account repository: %w", err)
	}
	return &account, nil
}

// MarkEmailVerified выставляет флаг подтверждения email.
func (r *AccountRepository) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET email_verified = true, updated_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("account repository: не удалось подтвердить email: %w", err)
	}
	return nil
}

// SetTwoFactorEnabled включает или выключает двухфакторную аутентификацию.
func (r *AccountRepository) SetTwoFactorEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET two_factor_enabled = $2, updated_at = NOW() WHERE id = $1
	`, id, enabled)
	if err != nil {
		return fmt.Errorf("account repository: не удалось изменить настройку 2FA: %w", err)
	}
	return nil
}

// UpdatePasswordHash заменяет хеш пароля.
func (r *AccountRepository) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET password_hash = $2, updated_at = NOW() WHERE id = $1
	`, id, hash)
	if err != nil {
		return fmt.Errorf("account repository: не удалось обновить пароль: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *AccountRepository) UpdateLastLoginAt(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET last_login_at = NOW() WHERE id = $1
	`, id)
	return err
}

// UpsertSellerProfile создаёт или обновляет подзапись продавца.
func (r *AccountRepository) UpsertSellerProfile(ctx context.Context, profile *models.SellerProfile) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO seller_profiles (account_id, shop_name, description, phone, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (account_id) DO UPDATE SET
			shop_name = EXCLUDED.shop_name,
			description = EXCLUDED.description,
			phone = EXCLUDED.phone,
			updated_at = NOW()
	`, profile.AccountID, profile.ShopName, profile.Description, profile.Phone)
	if err != nil {
		return fmt.Errorf("account repository: не удалось сохранить профиль продавца: %w", err)
	}
	return nil
}

func (r *AccountRepository) GetSellerProfile(ctx context.Context, accountID uuid.UUID) (*models.SellerProfile, error) {
	var profile models.SellerProfile
	err := r.db.GetContext(ctx, &profile, `
		SELECT * FROM seller_profiles WHERE account_id = $1
	`, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("account repository: %w", err)
	}
	return &profile, nil
}
