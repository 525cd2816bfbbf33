package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/avdeevramil/market-backend/internal/models"
)

var ErrVerificationCodeNotFound = errors.New("verification code not found")

// VerificationRepository хранит одноразовые коды с TTL.
type VerificationRepository struct {
	db *sqlx.DB
}

func NewVerificationRepository(db *sqlx.DB) *VerificationRepository {
	return &VerificationRepository{db: db}
}

// Replace сохраняет новый код, удаляя в той же транзакции прежний
// неиспользованный код того же назначения. Так поддерживается инвариант:
// не более одного действующего кода на пару (аккаунт, назначение).
func (r *VerificationRepository) Replace(ctx context.Context, vc *models.VerificationCode) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("verification repository: не удалось начать транзакцию: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM verification_codes
		WHERE account_id = $1 AND purpose = $2 AND consumed = false
	`, vc.AccountID, vc.Purpose)
	if err != nil {
		return fmt.Errorf("verification repository: не удалось удалить прежний код: %w", err)
	}

	err = tx.GetContext(ctx, vc, `
		INSERT INTO verification_codes (account_id, purpose, code, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING *
	`, vc.AccountID, vc.Purpose, vc.Code, vc.ExpiresAt)
	if err != nil {
		return fmt.Errorf("verification repository: не удалось сохранить код: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("verification repository: не удалось зафиксировать код: %w", err)
	}
	return nil
}

// GetLatest возвращает последний код для пары (аккаунт, назначение).
func (r *VerificationRepository) GetLatest(ctx context.Context, accountID uuid.UUID, purpose string) (*models.VerificationCode, error) {
	var vc models.VerificationCode
	err := r.db.GetContext(ctx, &vc, `
		SELECT * FROM verification_codes
		WHERE account_id = $1 AND purpose = $2
		ORDER BY created_at DESC LIMIT 1
	`, accountID, purpose)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVerificationCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("verification repository: %w", err)
	}
	return &vc, nil
}

// IncrementAttempts атомарно наращивает счётчик неверных вводов и возвращает
// новое значение. Условие consumed = false исключает гонку с успешным вводом.
func (r *VerificationRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	var attempts int
	err := r.db.GetContext(ctx, &attempts, `
		UPDATE verification_codes SET attempts = attempts + 1
		WHERE id = $1 AND consumed = false
		RETURNING attempts
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrVerificationCodeNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("verification repository: не удалось увеличить счётчик попыток: %w", err)
	}
	return attempts, nil
}

// ForceExpire досрочно истекает код (защитная блокировка после перебора).
func (r *VerificationRepository) ForceExpire(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE verification_codes SET expires_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("verification repository: не удалось истечь код: %w", err)
	}
	return nil
}

// MarkConsumed помечает код использованным. Возвращает false, если код уже
// был использован или истёк между проверкой и записью.
func (r *VerificationRepository) MarkConsumed(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE verification_codes SET consumed = true
		WHERE id = $1 AND consumed = false AND expires_at > NOW()
	`, id)
	if err != nil {
		return false, fmt.Errorf("verification repository: не удалось использовать код: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteExpired удаляет истёкшие коды. Вызывается фоновой задачей.
func (r *VerificationRepository) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM verification_codes WHERE expires_at < NOW() - INTERVAL '1 day'
	`)
	if err != nil {
		return 0, fmt.Errorf("verification repository: не удалось удалить истёкшие коды: %w", err)
	}
	return res.RowsAffected()
}
