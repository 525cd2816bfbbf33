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

var (
	ErrSessionNotFound = errors.New("refresh session not found")
	// ErrRotationConflict возвращается, когда условное обновление не прошло:
	// сессия уже ротирована или отозвана другим запросом.
	ErrRotationConflict = errors.New("refresh session already rotated or revoked")
)

// SessionRepository хранит цепочки refresh сессий.
// Все изменения статуса выполняются условными UPDATE c проверкой текущего
// состояния, поэтому два конкурентных запроса ротации не могут пройти оба,
// даже если сервер запущен в несколько инстансов.
type SessionRepository struct {
	db *sqlx.DB
}

func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create сохраняет новую активную сессию (начало новой линии).
func (r *SessionRepository) Create(ctx context.Context, session *models.RefreshSession) error {
	err := r.db.GetContext(ctx, session, `
		INSERT INTO refresh_sessions
			(family_id, account_id, token_hash, status, generation, two_factor_passed, user_agent, ip_address, expires_at)
		VALUES ($1, $2, $3, 'active', $4, $5, $6, $7, $8)
		RETURNING *
	`, session.FamilyID, session.AccountID, session.TokenHash, session.Generation,
		session.TwoFactor, session.UserAgent, session.IPAddress, session.ExpiresAt)
	if err != nil {
		return fmt.Errorf("session repository: не удалось создать сессию: %w", err)
	}
	return nil
}

// GetByTokenHash возвращает сессию по отпечатку токена независимо от статуса.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.RefreshSession, error) {
	var session models.RefreshSession
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM refresh_sessions WHERE token_hash = $1
	`, tokenHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session repository: %w", err)
	}
	return &session, nil
}

// Rotate атомарно помечает активную сессию ротированной и вставляет дочернюю
// в той же транзакции. child должен нести новый token_hash и expires_at;
// остальные поля наследуются от родителя.
func (r *SessionRepository) Rotate(ctx context.Context, parentTokenHash string, child *models.RefreshSession) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("session repository: не удалось начать транзакцию: %w", err)
	}
	defer tx.Rollback()

	// Условный переход active -> rotated. Ноль строк означает, что кто-то
	// успел раньше: для вызывающего кода это сигнал повторного использования.
	var parent models.RefreshSession
	err = tx.GetContext(ctx, &parent, `
		UPDATE refresh_sessions
		SET status = 'rotated', rotated_at = NOW()
		WHERE token_hash = $1 AND status = 'active' AND expires_at > NOW()
		RETURNING *
	`, parentTokenHash)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRotationConflict
	}
	if err != nil {
		return fmt.Errorf("session repository: не удалось ротировать сессию: %w", err)
	}

	child.FamilyID = parent.FamilyID
	child.AccountID = parent.AccountID
	child.Generation = parent.Generation + 1
	child.TwoFactor = parent.TwoFactor

	err = tx.GetContext(ctx, child, `
		INSERT INTO refresh_sessions
			(family_id, account_id, token_hash, status, generation, two_factor_passed, user_agent, ip_address, expires_at)
		VALUES ($1, $2, $3, 'active', $4, $5, $6, $7, $8)
		RETURNING *
	`, child.FamilyID, child.AccountID, child.TokenHash, child.Generation,
		child.TwoFactor, child.UserAgent, child.IPAddress, child.ExpiresAt)
	if err != nil {
		return fmt.Errorf("session repository: не удалось создать дочернюю сессию: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("session repository: не удалось зафиксировать ротацию: %w", err)
	}
	return nil
}

// RevokeFamily отзывает все сессии линии. Возвращает число отозванных.
func (r *SessionRepository) RevokeFamily(ctx context.Context, familyID uuid.UUID) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_sessions SET status = 'revoked'
		WHERE family_id = $1 AND status <> 'revoked'
	`, familyID)
	if err != nil {
		return 0, fmt.Errorf("session repository: не удалось отозвать линию сессий: %w", err)
	}
	return res.RowsAffected()
}

// RevokeByTokenHash отзывает одну активную сессию (logout).
func (r *SessionRepository) RevokeByTokenHash(ctx context.Context, tokenHash string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE refresh_sessions SET status = 'revoked'
		WHERE token_hash = $1 AND status = 'active'
	`, tokenHash)
	if err != nil {
		return fmt.Errorf("session repository: не удалось отозвать сессию: %w", err)
	}
	return nil
}

// RevokeAllForAccount отзывает все сессии аккаунта (смена или сброс пароля).
func (r *SessionRepository) RevokeAllForAccount(ctx context.Context, accountID uuid.UUID) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_sessions SET status = 'revoked'
		WHERE account_id = $1 AND status <> 'revoked'
	`, accountID)
	if err != nil {
		return 0, fmt.Errorf("session repository: не удалось отозвать сессии аккаунта: %w", err)
	}
	return res.RowsAffected()
}

// RevokeAllForAccountExcept отзывает все сессии аккаунта кроме одной линии
// (смена пароля из активной сессии не разлогинивает её саму).
func (r *SessionRepository) RevokeAllForAccountExcept(ctx context.Context, accountID uuid.UUID, exceptFamilyID uuid.UUID) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_sessions SET status = 'revoked'
		WHERE account_id = $1 AND family_id <> $2 AND status <> 'revoked'
	`, accountID, exceptFamilyID)
	if err != nil {
		return 0, fmt.Errorf("session repository: не удалось отозвать прочие сессии: %w", err)
	}
	return res.RowsAffected()
}

// MarkTwoFactorPassed помечает активную сессию прошедшей 2FA.
func (r *SessionRepository) MarkTwoFactorPassed(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_sessions SET two_factor_passed = true
		WHERE id = $1 AND status = 'active'
	`, id)
	if err != nil {
		return fmt.Errorf("session repository: не удалось отметить прохождение 2FA: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// ListActive возвращает активные сессии аккаунта.
func (r *SessionRepository) ListActive(ctx context.Context, accountID uuid.UUID) ([]models.RefreshSession, error) {
	var sessions []models.RefreshSession
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM refresh_sessions
		WHERE account_id = $1 AND status = 'active' AND expires_at > NOW()
		ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("session repository: %w", err)
	}
	return sessions, nil
}

// RevokeByID отзывает конкретную сессию пользователя.
func (r *SessionRepository) RevokeByID(ctx context.Context, id uuid.UUID, accountID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_sessions SET status = 'revoked'
		WHERE id = $1 AND account_id = $2 AND status = 'active'
	`, id, accountID)
	if err != nil {
		return fmt.Errorf("session repository: не удалось отозвать сессию: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteExpired удаляет давно истёкшие записи. Вызывается фоновой задачей.
func (r *SessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM refresh_sessions WHERE expires_at < NOW() - INTERVAL '7 days'
	`)
	if err != nil {
		return 0, fmt.Errorf("session repository: не удалось удалить истёкшие сессии: %w", err)
	}
	return res.RowsAffected()
}
